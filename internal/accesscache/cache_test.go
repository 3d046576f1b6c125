package accesscache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notify-push/gateway/internal/user"
)

// countingLoader returns a fixed access list and counts how many times it
// was invoked, so tests can assert on database-load frequency.
type countingLoader struct {
	calls  atomic.Int32
	access []UserStorageAccess
	err    error
}

func (l *countingLoader) Load(ctx context.Context, storage uint32) ([]UserStorageAccess, error) {
	l.calls.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	return l.access, nil
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestGetUsersForStoragePath_PrefixMatch(t *testing.T) {
	loader := &countingLoader{access: []UserStorageAccess{
		{User: "alice", Root: "/"},
		{User: "bob", Root: "/"},
		{User: "carol", Root: "/photos"},
	}}
	c := New(loader)

	users, err := c.GetUsersForStoragePath(context.Background(), 42, "/docs")
	require.NoError(t, err)
	assert.ElementsMatch(t, []user.ID{"alice", "bob"}, users)
}

func TestGetUsersForStoragePath_PrefixMiss(t *testing.T) {
	loader := &countingLoader{access: []UserStorageAccess{
		{User: "alice", Root: "/photos"},
	}}
	c := New(loader)

	users, err := c.GetUsersForStoragePath(context.Background(), 42, "/docs/x")
	require.NoError(t, err)
	assert.Empty(t, users)
}

// root "/a" matching path "/ab" is a documented property (byte-wise prefix,
// no path-segment awareness), not a bug — preserve and test it.
func TestGetUsersForStoragePath_BytewisePrefixIsNotSegmentAware(t *testing.T) {
	loader := &countingLoader{access: []UserStorageAccess{
		{User: "alice", Root: "/a"},
	}}
	c := New(loader)

	users, err := c.GetUsersForStoragePath(context.Background(), 1, "/ab")
	require.NoError(t, err)
	assert.Equal(t, []user.ID{"alice"}, users)
}

func TestGetUsersForStoragePath_DuplicatesPreserved(t *testing.T) {
	loader := &countingLoader{access: []UserStorageAccess{
		{User: "alice", Root: "/"},
		{User: "alice", Root: "/docs"},
	}}
	c := New(loader)

	users, err := c.GetUsersForStoragePath(context.Background(), 1, "/docs/x")
	require.NoError(t, err)
	assert.Equal(t, []user.ID{"alice", "alice"}, users)
}

func TestGetUsersForStoragePath_WideningPathGrowsRecipients(t *testing.T) {
	loader := &countingLoader{access: []UserStorageAccess{
		{User: "alice", Root: "/docs"},
	}}
	c := New(loader)

	narrow, err := c.GetUsersForStoragePath(context.Background(), 1, "/docs/sub/file")
	require.NoError(t, err)
	wide, err := c.GetUsersForStoragePath(context.Background(), 1, "/docs")
	require.NoError(t, err)

	for _, u := range narrow {
		assert.Contains(t, wide, u)
	}
}

func TestCache_TTL_OneLoadWithinWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	loader := &countingLoader{access: []UserStorageAccess{{User: "alice", Root: "/"}}}
	c := New(loader, WithClock(clock.now))

	_, err := c.GetUsersForStoragePath(context.Background(), 42, "/")
	require.NoError(t, err)

	clock.advance(299 * time.Second)
	_, err = c.GetUsersForStoragePath(context.Background(), 42, "/")
	require.NoError(t, err)

	assert.EqualValues(t, 1, loader.calls.Load())
}

func TestCache_TTL_ExpiresAtValidTill(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	loader := &countingLoader{access: []UserStorageAccess{{User: "alice", Root: "/"}}}
	c := New(loader, WithClock(clock.now))

	_, err := c.GetUsersForStoragePath(context.Background(), 42, "/")
	require.NoError(t, err)

	// exactly at valid_till: strictly expired per spec.md's boundary rule.
	clock.advance(TTL)
	_, err = c.GetUsersForStoragePath(context.Background(), 42, "/")
	require.NoError(t, err)

	assert.EqualValues(t, 2, loader.calls.Load())
}

func TestCache_TTL_ReloadAfterExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	loader := &countingLoader{access: []UserStorageAccess{{User: "alice", Root: "/"}}}
	c := New(loader, WithClock(clock.now))

	_, err := c.GetUsersForStoragePath(context.Background(), 42, "/")
	require.NoError(t, err)

	clock.advance(301 * time.Second)
	_, err = c.GetUsersForStoragePath(context.Background(), 42, "/")
	require.NoError(t, err)

	assert.EqualValues(t, 2, loader.calls.Load())
}

func TestGetUsersForStoragePath_LoadErrorDropsNoNegativeCache(t *testing.T) {
	loader := &countingLoader{err: errors.New("connection refused")}
	c := New(loader)

	_, err := c.GetUsersForStoragePath(context.Background(), 1, "/")
	require.Error(t, err)
	var loadErr *MappingLoadError
	require.ErrorAs(t, err, &loadErr)

	loader.err = nil
	loader.access = []UserStorageAccess{{User: "alice", Root: "/"}}
	users, err := c.GetUsersForStoragePath(context.Background(), 1, "/")
	require.NoError(t, err)
	assert.Equal(t, []user.ID{"alice"}, users)
}
