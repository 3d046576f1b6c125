// Package notifyevent decodes raw pub/sub messages from the Nextcloud bus
// into typed Event variants.
package notifyevent

import "github.com/notify-push/gateway/internal/user"

// Event is the tagged union of notifications the gateway understands.
// Concrete variants are StorageUpdate, GroupUpdate, ShareCreate, and
// TestCookie; switch on the concrete type to handle one.
type Event interface {
	isEvent()
}

// StorageUpdate signals a change under Path in the numbered storage.
// Recipients are resolved via the access cache, not carried on the event.
type StorageUpdate struct {
	Storage uint32
	Path    string
}

func (StorageUpdate) isEvent() {}

// GroupUpdate signals a group membership change affecting User directly.
type GroupUpdate struct {
	User user.ID
}

func (GroupUpdate) isEvent() {}

// ShareCreate signals a new share granted to User directly.
type ShareCreate struct {
	User user.ID
}

func (ShareCreate) isEvent() {}

// TestCookie is a liveness probe value published by the upstream app.
type TestCookie uint32

func (TestCookie) isEvent() {}
