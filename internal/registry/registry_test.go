package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notify-push/gateway/internal/user"
)

// fakeSink records every message it receives; Send always succeeds unless
// closed is set, mimicking a healthy or a torn-down peer connection.
type fakeSink struct {
	mu       sync.Mutex
	messages []string
	closed   bool
}

func (f *fakeSink) Send(message string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.messages = append(f.messages, message)
	return true
}

func (f *fakeSink) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.messages))
	copy(out, f.messages)
	return out
}

func TestAddRemove_RestoresPriorState(t *testing.T) {
	r := New(nil)
	alice := user.ID("alice")

	// baseline: sending to a never-registered user is a prompt no-op.
	r.SendToUser(alice, "notify_storage_update")

	sink := &fakeSink{}
	id := r.Add(alice, sink)
	assert.Equal(t, 1, r.ConnectionCount(alice))

	r.Remove(alice, id)
	assert.Equal(t, 0, r.ConnectionCount(alice))

	// post-remove: registry behaves exactly as before the Add.
	r.SendToUser(alice, "notify_storage_update")
	assert.Empty(t, sink.received())
}

func TestRemove_MissingEntryIsNoop(t *testing.T) {
	r := New(nil)
	require.NotPanics(t, func() {
		r.Remove(user.ID("ghost"), ConnectionID(999))
	})
}

func TestSendToUser_FanOutToAllSinksForUser(t *testing.T) {
	r := New(nil)
	alice := user.ID("alice")

	sinkA := &fakeSink{}
	sinkB := &fakeSink{}
	r.Add(alice, sinkA)
	r.Add(alice, sinkB)

	r.SendToUser(alice, "notify_storage_update")

	assert.Equal(t, []string{"notify_storage_update"}, sinkA.received())
	assert.Equal(t, []string{"notify_storage_update"}, sinkB.received())
}

func TestSendToUser_NeverRegisteredUserIsNoop(t *testing.T) {
	r := New(nil)
	require.NotPanics(t, func() {
		r.SendToUser(user.ID("nobody"), "notify_storage_update")
	})
}

func TestSendToUser_OnlyTargetsNamedUser(t *testing.T) {
	r := New(nil)
	alice, bob := user.ID("alice"), user.ID("bob")

	aliceSink := &fakeSink{}
	bobSink := &fakeSink{}
	r.Add(alice, aliceSink)
	r.Add(bob, bobSink)

	r.SendToUser(alice, "notify_storage_update")

	assert.Equal(t, []string{"notify_storage_update"}, aliceSink.received())
	assert.Empty(t, bobSink.received())
}

func TestSendToUser_ClosedSinkDoesNotBlockOthers(t *testing.T) {
	r := New(nil)
	alice := user.ID("alice")

	dead := &fakeSink{closed: true}
	alive := &fakeSink{}
	r.Add(alice, dead)
	r.Add(alice, alive)

	r.SendToUser(alice, "notify_storage_update")

	assert.Empty(t, dead.received())
	assert.Equal(t, []string{"notify_storage_update"}, alive.received())
}

func TestSendToUser_PreservesFIFOPerSink(t *testing.T) {
	r := New(nil)
	alice := user.ID("alice")
	sink := &fakeSink{}
	r.Add(alice, sink)

	msgs := []string{"msg1", "msg2", "msg3", "msg4", "msg5"}
	for _, m := range msgs {
		r.SendToUser(alice, m)
	}

	assert.Equal(t, msgs, sink.received())
}

func TestConnectionID_NeverReused(t *testing.T) {
	r := New(nil)
	alice := user.ID("alice")

	seen := make(map[ConnectionID]bool)
	for i := 0; i < 100; i++ {
		id := r.Add(alice, &fakeSink{})
		require.False(t, seen[id], "connection id %d was reused", id)
		seen[id] = true
		r.Remove(alice, id)
	}
}
