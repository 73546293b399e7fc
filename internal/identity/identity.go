// Package identity provides the anonymous per-device identity used to key
// room membership. One sign-in happens at startup; afterwards the ID is
// available synchronously and never changes for the process lifetime.
package identity

import "github.com/google/uuid"

// Provider hands out the caller's stable user ID.
type Provider interface {
	CurrentUserID() string
}

// Anonymous is a Provider backed by a random UUID minted at sign-in.
type Anonymous struct {
	id string
}

// SignInAnonymously mints a fresh identity.
func SignInAnonymously() *Anonymous {
	return &Anonymous{id: uuid.New().String()}
}

// Static wraps a known ID, for tests and for callers that persist the
// device identity themselves.
func Static(id string) *Anonymous {
	return &Anonymous{id: id}
}

func (a *Anonymous) CurrentUserID() string {
	return a.id
}
