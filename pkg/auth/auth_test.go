package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	name      string
	canHandle func(token []byte) bool
	result    *AuthResult
	err       error
}

func (m *mockProvider) CanHandle(token []byte) bool { return m.canHandle(token) }
func (m *mockProvider) Name() string                { return m.name }
func (m *mockProvider) Authenticate(_ context.Context, _ []byte) (*AuthResult, error) {
	return m.result, m.err
}

func TestAuthenticatorProvidersTriedInOrder(t *testing.T) {
	var order []string
	mk := func(name string, handle bool) *mockProvider {
		return &mockProvider{
			name: name,
			canHandle: func([]byte) bool {
				order = append(order, name)
				return handle
			},
			result: &AuthResult{Authenticated: true, Identity: NewIdentity(name, "EXAMPLE.COM")},
		}
	}

	a := NewAuthenticator(mk("first", false), mk("second", true), mk("third", true))
	res, err := a.Authenticate(context.Background(), []byte("token"))
	require.NoError(t, err)
	assert.Equal(t, "second", res.Provider)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, []string{"first", "second", "third"}, a.Mechanisms())
	assert.Len(t, a.Providers(), 3)
}

func TestAuthenticatorUnsupported(t *testing.T) {
	a := NewAuthenticator(&mockProvider{name: "none", canHandle: func([]byte) bool { return false }})
	_, err := a.Authenticate(context.Background(), []byte{0x01})
	assert.ErrorIs(t, err, ErrUnsupportedMechanism)

	_, err = NewAuthenticator().Authenticate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUnsupportedMechanism)
}

func TestAuthenticatorPropagatesProviderError(t *testing.T) {
	cause := fmt.Errorf("%w: ticket expired", ErrAuthFailed)
	a := NewAuthenticator(&mockProvider{name: "krb", canHandle: func([]byte) bool { return true }, err: cause})

	_, err := a.Authenticate(context.Background(), []byte{0x60})
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.Contains(t, err.Error(), "ticket expired")
}

func TestAuthenticatorRejectsUnauthenticatedResult(t *testing.T) {
	a := NewAuthenticator(&mockProvider{
		name:      "lazy",
		canHandle: func([]byte) bool { return true },
		result:    &AuthResult{Authenticated: false},
	})
	_, err := a.Authenticate(context.Background(), []byte{0x60})
	assert.ErrorIs(t, err, ErrAuthFailed)

	a = NewAuthenticator(&mockProvider{name: "nil", canHandle: func([]byte) bool { return true }})
	_, err = a.Authenticate(context.Background(), []byte{0x60})
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestIsAuthError(t *testing.T) {
	assert.True(t, IsAuthError(fmt.Errorf("wrap: %w", ErrAuthFailed)))
	assert.True(t, IsAuthError(ErrInvalidCredentials))
	assert.True(t, IsAuthError(ErrUnsupportedMechanism))
	assert.False(t, IsAuthError(errors.New("disk full")))
	assert.False(t, IsAuthError(nil))
}

func TestIdentity(t *testing.T) {
	id := NewIdentity("alice", "EXAMPLE.COM")
	assert.Equal(t, "alice@EXAMPLE.COM", id.Principal)
	assert.Equal(t, "alice@EXAMPLE.COM", id.AuthorizationID())

	assert.Equal(t, "bob", NewIdentity("bob", "").AuthorizationID())
	assert.Equal(t, "svc@REALM", Identity{Name: "svc", Realm: "REALM"}.AuthorizationID())

	name, realm := ParsePrincipal("svc/host.example.com@EXAMPLE.COM")
	assert.Equal(t, "svc/host.example.com", name)
	assert.Equal(t, "EXAMPLE.COM", realm)

	name, realm = ParsePrincipal("odd@name@REALM")
	assert.Equal(t, "odd@name", name)
	assert.Equal(t, "REALM", realm)

	name, realm = ParsePrincipal("local")
	assert.Equal(t, "local", name)
	assert.Empty(t, realm)
}
