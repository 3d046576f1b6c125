package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// defaultOutboundQueueSize bounds each session's outbound buffer. The
// reference implementation used an unbounded per-connection queue, which is
// a memory-growth vector for a slow or stalled client; this redesigns it to
// a bounded queue with a drop-and-close overflow policy, per SPEC_FULL.md §9.
const defaultOutboundQueueSize = 32

// socketSink is the registry.Sink a session hands to the ConnectionRegistry.
// Send is always non-blocking: a full buffer forces the sink (and its
// socket) closed rather than stalling the sender or the rest of the
// registry's fan-out.
type socketSink struct {
	out       chan string
	closed    atomic.Bool
	closeOnce sync.Once
}

func newSocketSink(bufSize int) *socketSink {
	if bufSize <= 0 {
		bufSize = defaultOutboundQueueSize
	}
	return &socketSink{out: make(chan string, bufSize)}
}

// Send enqueues message for the outbound pump. It reports false if the sink
// is already closed, or if enqueueing would block — the latter closes the
// sink on the spot so the offending connection is torn down instead of
// accumulating an unbounded backlog.
func (s *socketSink) Send(message string) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.out <- message:
		return true
	default:
		s.forceClose()
		return false
	}
}

// forceClose closes the outbound channel exactly once, unblocking the pump
// loop so it can tear down the socket.
func (s *socketSink) forceClose() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.out)
	})
}

// pump is conn's sole writer: it forwards queued messages as text frames and
// sends the periodic keepalive ping on the same loop, since gorilla/websocket
// forbids calling WriteMessage from more than one goroutine concurrently.
// It runs until ctx is cancelled, the sink is closed, or a write fails, and
// always closes the sink and conn on the way out so the receive loop's next
// read observes a severed connection.
func pump(ctx context.Context, conn *websocket.Conn, sink *socketSink) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer sink.forceClose()
	defer conn.Close()

	for {
		select {
		case message, ok := <-sink.out:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
