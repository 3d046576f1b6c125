// Package auxhttp exposes the gateway's plain HTTP surface: the WebSocket
// upgrade endpoint and the small set of diagnostic routes operators and the
// Nextcloud server poll to confirm end-to-end wiring.
package auxhttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/notify-push/gateway/internal/ncclient"
	"github.com/notify-push/gateway/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// CookieSource reports the most recently observed bus TestCookie value.
type CookieSource interface {
	TestCookie() uint32
}

// MappingCounter reports how many access rows are cached for a storage, matching
// accesscache.Cache's CachedCount.
type MappingCounter interface {
	CachedCount(ctx context.Context, storage uint32) (int, error)
}

// NewRouter builds the gateway's HTTP route table. reverseClient may be nil
// if reverse cookie checks are not configured.
func NewRouter(sessions *session.Handler, cookies CookieSource, mapping MappingCounter, reverseClient *ncclient.Client) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/ws", handleWebSocket(sessions))
	r.HandleFunc("/cookie_test", handleCookieTest(cookies)).Methods(http.MethodGet)
	r.HandleFunc("/reverse_cookie_test", handleReverseCookieTest(reverseClient)).Methods(http.MethodGet)
	r.HandleFunc("/mapping_test/{storage:[0-9]+}", handleMappingTest(mapping)).Methods(http.MethodGet)

	return r
}

func handleWebSocket(sessions *session.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "err", err.Error())
			return
		}
		sessions.HandleConnection(r.Context(), conn)
	}
}

// handleCookieTest reports the gateway's own view of the live test cookie,
// as set by the most recent TestCookie event observed on the bus.
func handleCookieTest(cookies CookieSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strconv.FormatUint(uint64(cookies.TestCookie()), 10)))
	}
}

// handleReverseCookieTest asks the Nextcloud server for its own cookie
// value, exercising the reverse direction of the liveness check. Any
// failure is reported as cookie 0 rather than an HTTP error, matching the
// reference's behavior of never failing this probe loudly.
func handleReverseCookieTest(client *ncclient.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if client == nil {
			_, _ = w.Write([]byte("0"))
			return
		}
		cookie, err := client.GetTestCookie(r.Context())
		if err != nil {
			slog.Warn("reverse cookie test failed", "err", err.Error())
			_, _ = w.Write([]byte("0"))
			return
		}
		_, _ = w.Write([]byte(strconv.FormatUint(uint64(cookie), 10)))
	}
}

// handleMappingTest reports how many access rows the cache currently holds
// for storage (loading them on miss) — see accesscache.Cache.CachedCount.
func handleMappingTest(mapping MappingCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		storage, err := strconv.ParseUint(vars["storage"], 10, 32)
		if err != nil {
			http.Error(w, "invalid storage id", http.StatusBadRequest)
			return
		}
		count, err := mapping.CachedCount(r.Context(), uint32(storage))
		if err != nil {
			http.Error(w, "mapping lookup failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strconv.Itoa(count)))
	}
}
