// Package session owns a single client connection from accept through
// close: the authentication handshake, message delivery, and teardown.
package session

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/notify-push/gateway/internal/user"
)

// handshakeTimeout bounds each of the two handshake reads.
const handshakeTimeout = 1 * time.Second

// readTextFrame reads a single WebSocket frame within timeout and requires
// it to be a text frame, classifying every failure mode per spec.md §4.4.
func readTextFrame(conn *websocket.Conn, timeout time.Duration) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", &AuthError{Kind: AuthTransport, Message: "set read deadline: " + err.Error()}
	}

	messageType, data, err := conn.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", &AuthError{Kind: AuthTimeout, Message: "authentication timeout"}
		}
		return "", &AuthError{Kind: AuthTransport, Message: "socket error during authentication: " + err.Error()}
	}
	if messageType != websocket.TextMessage {
		return "", &AuthError{Kind: AuthMalformed, Message: "invalid authentication message"}
	}
	return string(data), nil
}

// handshake drives AwaitingUsername -> AwaitingPassword -> Established (or a
// terminal AuthError), as described in spec.md §4.4.
func (h *Handler) handshake(ctx context.Context, conn *websocket.Conn) (user.ID, error) {
	username, err := readTextFrame(conn, handshakeTimeout)
	if err != nil {
		return "", err
	}

	password, err := readTextFrame(conn, handshakeTimeout)
	if err != nil {
		return "", err
	}

	ok, err := h.verifier.VerifyCredentials(ctx, username, password)
	if err != nil {
		return "", &AuthError{Kind: AuthVerifier, Message: "credential verification failed: " + err.Error()}
	}
	if !ok {
		return "", &AuthError{Kind: AuthInvalid, Message: "invalid credentials"}
	}

	return user.ID(username), nil
}
