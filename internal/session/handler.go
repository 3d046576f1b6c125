package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/notify-push/gateway/internal/metrics"
	"github.com/notify-push/gateway/internal/ncclient"
	"github.com/notify-push/gateway/internal/registry"
	"github.com/notify-push/gateway/internal/user"
)

const pongWait = 60 * time.Second

// pingPeriod is a var, not a const, so tests can shorten it rather than
// waiting out the real keepalive interval.
var pingPeriod = 30 * time.Second

// Registry is the narrow slice of ConnectionRegistry a session needs:
// register on handshake success, deregister on teardown.
type Registry interface {
	Add(u user.ID, sink registry.Sink) registry.ConnectionID
	Remove(u user.ID, id registry.ConnectionID)
}

// Handler owns a single client connection end to end.
type Handler struct {
	verifier          ncclient.CredentialVerifier
	registry          Registry
	metrics           *metrics.Metrics
	maxConnectionTime time.Duration // 0 = unbounded
	outboundQueueSize int
}

// Option configures a Handler at construction time.
type Option func(*Handler)

// WithMetrics attaches Prometheus counters to the handler.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithMaxConnectionTime force-closes established sessions after d; 0 (the
// default) leaves sessions unbounded.
func WithMaxConnectionTime(d time.Duration) Option {
	return func(h *Handler) { h.maxConnectionTime = d }
}

// WithOutboundQueueSize overrides the default bounded outbound queue depth.
func WithOutboundQueueSize(n int) Option {
	return func(h *Handler) { h.outboundQueueSize = n }
}

// New constructs a Handler backed by verifier (credential checks) and reg
// (the shared connection registry).
func New(verifier ncclient.CredentialVerifier, reg Registry, opts ...Option) *Handler {
	h := &Handler{verifier: verifier, registry: reg}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleConnection runs the full session lifecycle over conn: handshake,
// registration, idle receive loop, and teardown. It blocks until the
// session ends and always closes conn before returning.
func (h *Handler) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	userID, err := h.handshake(ctx, conn)
	if err != nil {
		h.failHandshake(conn, err)
		return
	}

	if h.metrics != nil {
		h.metrics.HandshakesTotal.WithLabelValues("success").Inc()
	}
	slog.Info("session established", "user", userID.String())

	sink := newSocketSink(h.outboundQueueSize)

	connID := h.registry.Add(userID, sink)
	defer h.registry.Remove(userID, connID)

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if h.maxConnectionTime > 0 {
		timer := time.AfterFunc(h.maxConnectionTime, func() {
			slog.Info("closing session: max connection time reached", "user", userID.String())
			_ = conn.Close()
		})
		defer timer.Stop()
	}

	go pump(sessionCtx, conn, sink)

	h.receiveLoop(conn, userID)
}

// failHandshake best-effort sends a single "err: <message>" frame before the
// deferred conn.Close() in HandleConnection runs.
func (h *Handler) failHandshake(conn *websocket.Conn, err error) {
	var authErr *AuthError
	kind := "unknown"
	if errors.As(err, &authErr) {
		kind = string(authErr.Kind)
	}
	if h.metrics != nil {
		h.metrics.HandshakesTotal.WithLabelValues(kind).Inc()
	}
	slog.Warn("handshake failed", "reason", err.Error())

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, []byte("err: "+err.Error()))
}

// receiveLoop discards inbound frames (they carry no protocol meaning after
// the handshake) until the peer disconnects or the socket errors. It replaces
// the handshake's 1s read deadline with pongWait, extended on every pong.
func (h *Handler) receiveLoop(conn *websocket.Conn, userID user.ID) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				transportErr := &SessionTransportError{Cause: err}
				slog.Warn("session transport error", "user", userID.String(), "err", transportErr.Error())
			}
			return
		}
	}
}
