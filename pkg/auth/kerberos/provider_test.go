package kerberos

import (
	"context"
	"testing"
	"time"

	"github.com/jcmturner/gokrb5/v8/spnego"
	"github.com/marmos91/tablerpc/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderAuthenticateTokenForms(t *testing.T) {
	p, kt := newTestProvider(t)

	tests := []struct {
		name     string
		wrap     func(*testing.T, []byte) []byte
		mech     string
		response bool
	}{
		{name: "raw AP-REQ", mech: "ap-req"},
		{name: "KRB5 GSS token", mech: "krb5"},
		{name: "SPNEGO NegTokenInit", mech: "spnego", response: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apReq := newAPReq(t, kt, "alice", validTimes())
			var token []byte
			switch tt.mech {
			case "ap-req":
				token = rawToken(t, apReq)
			case "krb5":
				token = krb5Token(t, apReq)
			default:
				token = spnegoToken(t, apReq)
			}

			require.True(t, p.CanHandle(token))
			res, err := p.Authenticate(context.Background(), token)
			require.NoError(t, err)

			assert.True(t, res.Authenticated)
			assert.Equal(t, "kerberos", res.Provider)
			assert.Equal(t, "alice@EXAMPLE.COM", res.Identity.AuthorizationID())
			assert.Equal(t, "alice", res.Identity.Name)
			assert.Equal(t, testRealm, res.Identity.Realm)
			assert.Equal(t, tt.mech, res.Identity.Attributes["mechanism"])

			if tt.response {
				var resp spnego.NegTokenResp
				require.NoError(t, resp.Unmarshal(res.ResponseToken))
				assert.EqualValues(t, negStateAcceptCompleted, resp.NegState)
			} else {
				assert.Nil(t, res.ResponseToken)
			}
		})
	}
}

func TestProviderRejectsWrongServiceKey(t *testing.T) {
	p, _ := newTestProvider(t)

	otherKT := newTestKeytab(t, testSPN, "some-other-secret", 1)
	token := rawToken(t, newAPReq(t, otherKT, "mallory", validTimes()))

	_, err := p.Authenticate(context.Background(), token)
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrAuthFailed)
}

func TestProviderRejectsExpiredTicket(t *testing.T) {
	p, kt := newTestProvider(t)

	past := time.Now().UTC().Add(-3 * time.Hour)
	token := rawToken(t, newAPReq(t, kt, "alice", ticketTimes{start: past, end: past.Add(time.Hour)}))

	_, err := p.Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, auth.ErrAuthFailed)
}

func TestProviderRejectsReplay(t *testing.T) {
	p, kt := newTestProvider(t)
	token := rawToken(t, newAPReq(t, kt, "alice", validTimes()))

	_, err := p.Authenticate(context.Background(), token)
	require.NoError(t, err)

	_, err = p.Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, auth.ErrAuthFailed)
}

func TestProviderRejectsGarbage(t *testing.T) {
	p, _ := newTestProvider(t)

	assert.False(t, p.CanHandle(nil))
	assert.False(t, p.CanHandle([]byte{0x01, 0x02, 0x03}))

	_, err := p.Authenticate(context.Background(), []byte{0x6E, 0x03, 0x01, 0x02, 0x03})
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = p.Authenticate(context.Background(), []byte("not a token"))
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestProviderAppendsDefaultRealm(t *testing.T) {
	dir := t.TempDir()
	p, err := NewProvider(ProviderConfig{
		ServicePrincipal: testSPN,
		KeytabPath:       createTestKeytab(t, dir),
		Krb5Conf:         writeKrb5Conf(t, dir),
	})
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, testSPN+"@EXAMPLE.COM", p.ServicePrincipal())
	assert.Equal(t, 5*time.Minute, p.MaxClockSkew())
	assert.Equal(t, testRealm, p.Krb5Config().LibDefaults.DefaultRealm)
}

func TestProviderOptionalKrb5Conf(t *testing.T) {
	dir := t.TempDir()
	keytabPath := createTestKeytab(t, dir)

	p, err := NewProvider(ProviderConfig{
		ServicePrincipal: testSPN + "@" + testRealm,
		KeytabPath:       keytabPath,
		Krb5Conf:         dir + "/missing.conf",
		Krb5ConfOptional: true,
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = NewProvider(ProviderConfig{
		ServicePrincipal: testSPN + "@" + testRealm,
		KeytabPath:       keytabPath,
		Krb5Conf:         dir + "/missing.conf",
	})
	assert.Error(t, err)
}

func TestProviderThroughAuthenticator(t *testing.T) {
	p, kt := newTestProvider(t)
	authn := auth.NewAuthenticator(p)

	res, err := authn.Authenticate(context.Background(), krb5Token(t, newAPReq(t, kt, "bob", validTimes())))
	require.NoError(t, err)
	assert.Equal(t, "bob@EXAMPLE.COM", res.Identity.Principal)

	_, err = authn.Authenticate(context.Background(), []byte("plain"))
	assert.ErrorIs(t, err, auth.ErrUnsupportedMechanism)
}
