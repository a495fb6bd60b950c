// Package state provides a per-request container keyed by Go type.
//
// A State holds at most one value per type. Pipeline stages that know
// nothing about each other exchange data by agreeing on a type instead
// of a schema:
//
//	type User struct {
//		state.Marker
//		Name string
//	}
//
//	st := state.New()
//	state.Put(st, User{Name: "alice"})
//	if u, ok := state.Borrow[User](st); ok {
//		fmt.Println(u.Name)
//	}
//
// Only types that embed Marker (and so implement Data) can be stored.
//
// A State is owned by the goroutine processing one unit of work and is
// not safe for concurrent use. Values that must outlive the request or
// move to another goroutine are removed with Take.
package state

import (
	"io"
	"reflect"
)

// Data is implemented by every type that may be stored in a State.
// The method set is unexported, so types opt in by embedding Marker.
type Data interface {
	stateData()
}

// Marker marks the embedding type as storable.
type Marker struct{}

func (Marker) stateData() {}

// State is a type-keyed, single-slot-per-type value container.
type State struct {
	data map[reflect.Type]any
}

// New returns an empty State.
func New() *State {
	return &State{data: make(map[reflect.Type]any)}
}

func keyOf[T Data]() reflect.Type {
	return reflect.TypeFor[T]()
}

// Put stores value, replacing any value of the same type.
// A replaced value that implements io.Closer is closed.
func Put[T Data](s *State, value T) {
	key := keyOf[T]()
	if prev, ok := s.data[key]; ok {
		release(prev)
	}
	v := value
	s.data[key] = &v
}

// Borrow returns a copy of the stored value of type T.
func Borrow[T Data](s *State) (T, bool) {
	if p, ok := lookup[T](s); ok {
		return *p, true
	}
	var zero T
	return zero, false
}

// BorrowMut returns a pointer to the stored value of type T for in-place
// mutation. The pointer must not be retained past the next Put or Take
// of the same type.
func BorrowMut[T Data](s *State) (*T, bool) {
	return lookup[T](s)
}

// Take removes the value of type T and returns it. Ownership moves to the
// caller, so the value is not closed.
func Take[T Data](s *State) (T, bool) {
	p, ok := lookup[T](s)
	if !ok {
		var zero T
		return zero, false
	}
	delete(s.data, keyOf[T]())
	return *p, true
}

// Has reports whether a value of type T is stored.
func Has[T Data](s *State) bool {
	_, ok := s.data[keyOf[T]()]
	return ok
}

// Len returns the number of stored values.
func (s *State) Len() int {
	return len(s.data)
}

// Close releases every remaining value and empties the State.
func (s *State) Close() error {
	var firstErr error
	for key, v := range s.data {
		if err := release(v); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.data, key)
	}
	return firstErr
}

func lookup[T Data](s *State) (*T, bool) {
	v, ok := s.data[keyOf[T]()]
	if !ok {
		return nil, false
	}
	p, ok := v.(*T)
	return p, ok
}

// release closes a boxed value when its element type implements
// io.Closer, either by value or by pointer.
func release(boxed any) error {
	if c, ok := boxed.(io.Closer); ok {
		return c.Close()
	}
	if c, ok := reflect.ValueOf(boxed).Elem().Interface().(io.Closer); ok {
		return c.Close()
	}
	return nil
}
