package kerberos

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/asn1tools"
	"github.com/jcmturner/gokrb5/v8/gssapi"
	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/iana/nametype"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/spnego"
	"github.com/jcmturner/gokrb5/v8/types"
	"github.com/stretchr/testify/require"
)

const (
	testRealm    = "EXAMPLE.COM"
	testSPN      = "tablerpc/host.example.com"
	testPassword = "service-secret"
	testEtype    = etypeID.AES256_CTS_HMAC_SHA1_96
)

// newTestKeytab returns a keytab holding the key for spn.
func newTestKeytab(t *testing.T, spn, password string, kvno uint8) *keytab.Keytab {
	t.Helper()
	kt := keytab.New()
	require.NoError(t, kt.AddEntry(spn, testRealm, password, time.Now(), kvno, testEtype))
	return kt
}

// writeKeytab marshals kt into dir/name and returns the path.
func writeKeytab(t *testing.T, dir, name string, kt *keytab.Keytab) string {
	t.Helper()
	data, err := kt.Marshal()
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

// createTestKeytab writes the standard service keytab and returns its path.
func createTestKeytab(t *testing.T, dir string) string {
	t.Helper()
	return writeKeytab(t, dir, "service.keytab", newTestKeytab(t, testSPN, testPassword, 1))
}

func writeKrb5Conf(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "krb5.conf")
	conf := `[libdefaults]
  default_realm = EXAMPLE.COM

[realms]
  EXAMPLE.COM = {
    kdc = 127.0.0.1:88
  }
`
	require.NoError(t, os.WriteFile(path, []byte(conf), 0644))
	return path
}

type ticketTimes struct {
	start, end time.Time
}

func validTimes() ticketTimes {
	now := time.Now().UTC()
	return ticketTimes{start: now, end: now.Add(time.Hour)}
}

// newAPReq issues a service ticket for client encrypted with serviceKT, the
// way a KDC would, and wraps it in a fresh AP-REQ.
func newAPReq(t *testing.T, serviceKT *keytab.Keytab, client string, tt ticketTimes) messages.APReq {
	t.Helper()

	cname := types.NewPrincipalName(nametype.KRB_NT_PRINCIPAL, client)
	sname := types.NewPrincipalName(nametype.KRB_NT_SRV_INST, testSPN)

	tkt, sessionKey, err := messages.NewTicket(cname, testRealm, sname, testRealm,
		types.NewKrbFlags(), serviceKT, testEtype, 1,
		tt.start, tt.start, tt.end, tt.end.Add(time.Hour))
	require.NoError(t, err)

	authn, err := types.NewAuthenticator(testRealm, cname)
	require.NoError(t, err)

	apReq, err := messages.NewAPReq(tkt, sessionKey, authn)
	require.NoError(t, err)
	return apReq
}

func rawToken(t *testing.T, apReq messages.APReq) []byte {
	t.Helper()
	b, err := apReq.Marshal()
	require.NoError(t, err)
	return b
}

// krb5Token frames an AP-REQ as a GSS-API KRB5 initial context token
// (RFC 1964 section 1.1): OID, token id 0x0100, AP-REQ.
func krb5Token(t *testing.T, apReq messages.APReq) []byte {
	t.Helper()
	oid, err := asn1.Marshal(gssapi.OIDKRB5.OID())
	require.NoError(t, err)
	b := append(oid, 0x01, 0x00)
	b = append(b, rawToken(t, apReq)...)
	return asn1tools.AddASNAppTag(b, 0)
}

func spnegoToken(t *testing.T, apReq messages.APReq) []byte {
	t.Helper()
	st := spnego.SPNEGOToken{
		Init: true,
		NegTokenInit: spnego.NegTokenInit{
			MechTypes:      []asn1.ObjectIdentifier{gssapi.OIDKRB5.OID()},
			MechTokenBytes: krb5Token(t, apReq),
		},
	}
	b, err := st.Marshal()
	require.NoError(t, err)
	return b
}

// newTestProvider builds a Provider over a freshly written keytab and
// krb5.conf, closed at test end.
func newTestProvider(t *testing.T) (*Provider, *keytab.Keytab) {
	t.Helper()
	dir := t.TempDir()
	kt := newTestKeytab(t, testSPN, testPassword, 1)
	p, err := NewProvider(ProviderConfig{
		ServicePrincipal: testSPN + "@" + testRealm,
		KeytabPath:       writeKeytab(t, dir, "service.keytab", kt),
		Krb5Conf:         writeKrb5Conf(t, dir),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, kt
}
