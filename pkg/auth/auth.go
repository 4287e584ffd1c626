// Package auth defines the authentication abstractions used by the transport
// handshake.
//
// An AuthProvider verifies one mechanism's initial token (Kerberos today) and
// yields an Identity. The Authenticator chains providers and picks the first
// that recognises the token. Mechanism details live in sub-packages:
//
//   - kerberos/: keytab-backed Kerberos/SPNEGO verification and the transport
//     factory used when authentication is enabled
package auth

import (
	"context"
	"errors"
	"fmt"
)

// AuthProvider is one pluggable authentication mechanism.
//
// Implementations must be safe for concurrent use.
type AuthProvider interface {
	// CanHandle reports whether token belongs to this mechanism. It must be a
	// cheap structural check, not a verification.
	CanHandle(token []byte) bool

	// Authenticate verifies token. Failures wrap ErrAuthFailed or
	// ErrInvalidCredentials.
	Authenticate(ctx context.Context, token []byte) (*AuthResult, error)

	// Name identifies the mechanism in logs and handshake replies.
	Name() string
}

// AuthResult is the outcome of a successful Authenticate call.
type AuthResult struct {
	Identity      Identity
	Authenticated bool

	// Provider is the Name of the AuthProvider that produced this result.
	Provider string

	// ResponseToken is sent back to the peer when the mechanism has one
	// (a SPNEGO accept-completed token, for instance). May be nil.
	ResponseToken []byte
}

// Authenticator tries its providers in order and delegates to the first one
// whose CanHandle accepts the token. It is read-only after construction.
type Authenticator struct {
	providers []AuthProvider
}

// NewAuthenticator chains providers in the given order.
func NewAuthenticator(providers ...AuthProvider) *Authenticator {
	return &Authenticator{providers: providers}
}

// Authenticate delegates token to the first matching provider.
//
// ErrUnsupportedMechanism is returned when no provider matches. A provider
// that reports success without marking the result authenticated is treated
// as a failure.
func (a *Authenticator) Authenticate(ctx context.Context, token []byte) (*AuthResult, error) {
	for _, p := range a.providers {
		if !p.CanHandle(token) {
			continue
		}
		res, err := p.Authenticate(ctx, token)
		if err != nil {
			return nil, err
		}
		if res == nil || !res.Authenticated {
			return nil, fmt.Errorf("%w: provider %s did not authenticate the peer", ErrAuthFailed, p.Name())
		}
		if res.Provider == "" {
			res.Provider = p.Name()
		}
		return res, nil
	}
	return nil, ErrUnsupportedMechanism
}

// Providers returns the registered providers.
func (a *Authenticator) Providers() []AuthProvider {
	return a.providers
}

// Mechanisms returns the provider names in order.
func (a *Authenticator) Mechanisms() []string {
	names := make([]string, 0, len(a.providers))
	for _, p := range a.providers {
		names = append(names, p.Name())
	}
	return names
}

var (
	// ErrAuthFailed means verification was attempted and rejected
	// (bad ticket, wrong key, clock skew, replay).
	ErrAuthFailed = errors.New("auth: authentication failed")

	// ErrUnsupportedMechanism means no provider recognised the token.
	ErrUnsupportedMechanism = errors.New("auth: unsupported authentication mechanism")

	// ErrInvalidCredentials means the token could not be parsed.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// IsAuthError reports whether err is one of the credential or negotiation
// failures above, as opposed to an unrelated processing error.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthFailed) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrUnsupportedMechanism)
}
