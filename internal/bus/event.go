package bus

import "time"

// Event kinds published on the bus. Subscribers filter by namespace prefix,
// so "message." receives every message.* kind.
const (
	KindChatDiscovered = "chat.discovered"
	KindChatUpdated    = "chat.updated"

	KindMessageAppended   = "message.appended"
	KindMessageUpdated    = "message.updated"
	KindMessageRemoved    = "message.removed"
	KindMessageSendFailed = "message.send_failed"

	KindTypingChanged = "typing.changed"
	KindReadFlushed   = "read.flushed"

	KindTransportConnected    = "transport.connected"
	KindTransportDisconnected = "transport.disconnected"

	KindSessionChanged = "session.changed"
	KindViewChanged    = "view.status_changed"
)

// Event is a domain event carried by the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
