// Package user defines the canonical identifier for a gateway end user.
package user

// ID is an opaque, comparable identifier for an authenticated end user.
// It is created from external input (a handshake username, a database row,
// an event payload) and is never mutated after construction.
type ID string

// String returns the underlying identifier text.
func (u ID) String() string {
	return string(u)
}

// Empty reports whether the identifier carries no value.
func (u ID) Empty() bool {
	return u == ""
}
