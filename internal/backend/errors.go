package backend

import "fmt"

// FetchError reports a failed query against the backend. Callers recover by
// rendering an empty or error state for the affected view; it never crosses
// a handler boundary unhandled.
type FetchError struct {
	Op     string // select, insert, update, delete, upsert
	Table  string
	Status int // HTTP status, 0 on transport failure
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: backend returned %d", e.Op, e.Table, e.Status)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Table, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ConflictError reports an insert that violated a uniqueness expectation.
// Recovery is to re-fetch the existing row and use it instead.
type ConflictError struct {
	Table string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("insert into %s conflicts with an existing row", e.Table)
}

// SubscriptionError reports a channel subscribe failure or a disconnected
// transport. The condition is passive: data goes stale, nothing retries.
type SubscriptionError struct {
	Topic string
	Err   error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscribe %s: %v", e.Topic, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }
