package ncclient

import "context"

// CredentialVerifier validates a (user, password) pair against the upstream
// application. Client satisfies this; tests substitute a fake.
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, username, password string) (bool, error)
}
