package state

import "github.com/google/uuid"

// RequestID identifies one unit of work. It is stored in every State
// created by the server for a request.
type RequestID struct {
	Marker
	Value string
}

// String returns the identifier.
func (r RequestID) String() string {
	return r.Value
}

// NewRequestID returns a RequestID holding a random UUID.
func NewRequestID() RequestID {
	return RequestID{Value: uuid.NewString()}
}

// SetRequestID stores id in s unless a RequestID is already present and
// returns the identifier in effect. An empty id is replaced by a fresh
// one.
func SetRequestID(s *State, id string) string {
	if existing, ok := Borrow[RequestID](s); ok {
		return existing.Value
	}
	rid := RequestID{Value: id}
	if rid.Value == "" {
		rid = NewRequestID()
	}
	Put(s, rid)
	return rid.Value
}

// RequestIDOf returns the request identifier stored in s, or "".
func RequestIDOf(s *State) string {
	if rid, ok := Borrow[RequestID](s); ok {
		return rid.Value
	}
	return ""
}
