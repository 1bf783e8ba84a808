package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType tags the content variant carried by a message.
type MessageType string

const (
	TypeText      MessageType = "text"
	TypeImage     MessageType = "image"
	TypeVideo     MessageType = "video"
	TypeAudio     MessageType = "audio"
	TypeDocument  MessageType = "document"
	TypeNewsShare MessageType = "news_share"
	TypeReminder  MessageType = "reminder"
)

// Content is the decoded message payload. The concrete type is selected by
// the message's type tag: plain text stays a raw string on the wire, the
// structured variants are JSON-encoded in the content column.
type Content interface {
	Kind() MessageType
}

// TextContent is a plain text body.
type TextContent struct {
	Body string
}

func (TextContent) Kind() MessageType { return TypeText }

// MediaContent covers the image, video, audio and document variants.
type MediaContent struct {
	Type      MessageType `json:"-"`
	URL       string      `json:"url"`
	Caption   string      `json:"caption,omitempty"`
	FileName  string      `json:"file_name,omitempty"`
	SizeBytes int64       `json:"size_bytes,omitempty"`
}

func (c MediaContent) Kind() MessageType { return c.Type }

// NewsShareContent is a shared news article.
type NewsShareContent struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Source string `json:"source,omitempty"`
}

func (NewsShareContent) Kind() MessageType { return TypeNewsShare }

// ReminderContent is a scheduled reminder shared into the conversation.
type ReminderContent struct {
	Title    string    `json:"title"`
	RemindAt time.Time `json:"remind_at"`
	Note     string    `json:"note,omitempty"`
}

func (ReminderContent) Kind() MessageType { return TypeReminder }

// DecodeContent parses the raw content column into the variant named by the
// type tag.
func (m *Message) DecodeContent() (Content, error) {
	switch m.Type {
	case TypeText, "":
		return TextContent{Body: m.Content}, nil
	case TypeImage, TypeVideo, TypeAudio, TypeDocument:
		var c MediaContent
		if err := json.Unmarshal([]byte(m.Content), &c); err != nil {
			return nil, fmt.Errorf("decode %s content: %w", m.Type, err)
		}
		c.Type = m.Type
		return c, nil
	case TypeNewsShare:
		var c NewsShareContent
		if err := json.Unmarshal([]byte(m.Content), &c); err != nil {
			return nil, fmt.Errorf("decode news_share content: %w", err)
		}
		return c, nil
	case TypeReminder:
		var c ReminderContent
		if err := json.Unmarshal([]byte(m.Content), &c); err != nil {
			return nil, fmt.Errorf("decode reminder content: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", m.Type)
	}
}

// EncodeContent renders a content variant to the wire form stored in the
// content column, plus its type tag.
func EncodeContent(c Content) (string, MessageType, error) {
	if t, ok := c.(TextContent); ok {
		return t.Body, TypeText, nil
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return "", "", fmt.Errorf("encode %s content: %w", c.Kind(), err)
	}
	return string(raw), c.Kind(), nil
}
