// Package dispatcher subscribes to the storage-change bus and turns each
// decoded event into one or more notifications delivered through the
// connection registry.
package dispatcher

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/notify-push/gateway/internal/metrics"
	"github.com/notify-push/gateway/internal/notifyevent"
	"github.com/notify-push/gateway/internal/registry"
	"github.com/notify-push/gateway/internal/user"
)

// notificationToken is the fixed payload delivered to every affected
// session; clients react only to its arrival, never its content.
const notificationToken = "notify_storage_update"

// Subscriber is the narrow slice of *redis.Client a Dispatcher needs,
// covering the one long-lived Pub/Sub used for every channel named in
// notifyevent.Channels.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// AccessResolver resolves which users can see a given storage, matching
// accesscache.Cache's read surface.
type AccessResolver interface {
	GetUsersForStoragePath(ctx context.Context, storage uint32, path string) ([]user.ID, error)
}

// Sender delivers a notification to every live connection for a user,
// matching registry.Registry's write surface.
type Sender interface {
	SendToUser(u user.ID, message string)
}

// Dispatcher drains the bus and fans decoded events out to registered
// sessions. Events are processed strictly one at a time: the cache lookup
// for a StorageUpdate completes before the next message is read, so
// delivery order on the bus is preserved end to end.
type Dispatcher struct {
	sub      Subscriber
	cache    AccessResolver
	registry Sender
	metrics  *metrics.Metrics
	cookie   atomic.Uint32
}

// New constructs a Dispatcher. m may be nil to disable metrics.
func New(sub Subscriber, cache AccessResolver, reg Sender, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{sub: sub, cache: cache, registry: reg, metrics: m}
}

// TestCookie returns the most recently observed TestCookie value, or 0 if
// none has arrived yet.
func (d *Dispatcher) TestCookie() uint32 {
	return d.cookie.Load()
}

// Run subscribes to every known channel and processes messages until ctx is
// canceled or the subscription itself fails terminally (a connectivity loss
// that redis.PubSub cannot recover from). A non-nil return is meant to be
// treated as fatal by the caller: the gateway cannot serve notifications
// without a live bus connection.
func (d *Dispatcher) Run(ctx context.Context) error {
	pubsub := d.sub.Subscribe(ctx, notifyevent.Channels()...)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return context.Canceled
			}
			d.handle(ctx, msg.Channel, msg.Payload)
		}
	}
}

// handle decodes and processes a single bus message. Decode and resolution
// errors are logged and swallowed: one malformed or unresolvable event must
// never take down the subscription for every other session.
func (d *Dispatcher) handle(ctx context.Context, channel, payload string) {
	event, err := notifyevent.Decode(channel, payload)
	if err != nil {
		slog.Warn("dropping undecodable event", "channel", channel, "err", err.Error())
		if d.metrics != nil {
			d.metrics.EventsDropped.WithLabelValues("decode_error").Inc()
		}
		return
	}

	switch e := event.(type) {
	case notifyevent.StorageUpdate:
		d.dispatchStorageUpdate(ctx, e)
		if d.metrics != nil {
			d.metrics.EventsDispatched.WithLabelValues("storage_update").Inc()
		}
	case notifyevent.GroupUpdate:
		d.registry.SendToUser(e.User, notificationToken)
		if d.metrics != nil {
			d.metrics.EventsDispatched.WithLabelValues("group_update").Inc()
		}
	case notifyevent.ShareCreate:
		d.registry.SendToUser(e.User, notificationToken)
		if d.metrics != nil {
			d.metrics.EventsDispatched.WithLabelValues("share_create").Inc()
		}
	case notifyevent.TestCookie:
		d.cookie.Store(uint32(e))
		if d.metrics != nil {
			d.metrics.EventsDispatched.WithLabelValues("test_cookie").Inc()
		}
	}
}

func (d *Dispatcher) dispatchStorageUpdate(ctx context.Context, e notifyevent.StorageUpdate) {
	users, err := d.cache.GetUsersForStoragePath(ctx, e.Storage, e.Path)
	if err != nil {
		slog.Error("storage mapping lookup failed", "storage", e.Storage, "path", e.Path, "err", err.Error())
		if d.metrics != nil {
			d.metrics.EventsDropped.WithLabelValues("mapping_error").Inc()
		}
		return
	}
	for _, u := range users {
		d.registry.SendToUser(u, notificationToken)
	}
}
