package session

// AuthFailureKind classifies why a handshake did not reach Established.
type AuthFailureKind string

const (
	AuthTimeout   AuthFailureKind = "timeout"
	AuthTransport AuthFailureKind = "transport"
	AuthMalformed AuthFailureKind = "malformed"
	AuthInvalid   AuthFailureKind = "invalid"
	AuthVerifier  AuthFailureKind = "verifier"
)

// AuthError reports a handshake failure along with its disposition kind, so
// callers can log/count it and send a best-effort "err: <message>" frame.
type AuthError struct {
	Kind    AuthFailureKind
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

// SessionTransportError reports a transport failure after the handshake
// completed (during the established receive loop).
type SessionTransportError struct {
	Cause error
}

func (e *SessionTransportError) Error() string {
	return "session transport: " + e.Cause.Error()
}

func (e *SessionTransportError) Unwrap() error {
	return e.Cause
}
