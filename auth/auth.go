// Package auth defines the pluggable identity contract this module
// requires for the sync worker's Authenticate message and for mutation
// contexts that need the calling identity. Grounded on tenant-auth's
// handler, which validates a bearer token and extracts MapClaims the
// same shape Identity exposes here.
package auth

import "context"

// Identity is the resolved caller identity a Provider hands back after
// verifying a token, analogous to tenant-auth's sanitized claims map.
type Identity struct {
	Subject  string
	Issuer   string
	Audience string
	Claims   map[string]any
}

// Provider verifies an opaque bearer token and resolves it to an
// Identity. Implementations may call out to an external IdP; the core
// only depends on this interface.
type Provider interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Error distinguishes an invalid/expired token (ErrAuthFailure on the
// sync session, non-fatal to the connection) from a transport failure
// talking to the identity provider.
type Error struct {
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return "auth: " + e.Message + ": " + e.cause.Error()
	}
	return "auth: " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }
