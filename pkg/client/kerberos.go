package client

import (
	"context"
	"errors"
	"fmt"

	krb5client "github.com/jcmturner/gokrb5/v8/client"
	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/gssapi"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/spnego"

	"github.com/marmos91/tablerpc/pkg/auth"
	"github.com/marmos91/tablerpc/pkg/auth/kerberos"
)

// KerberosConfig describes how to obtain a service ticket from the KDC.
type KerberosConfig struct {
	// Principal is the client principal, "user@REALM". Without a realm the
	// krb5.conf default realm is used.
	Principal string

	// KeytabPath authenticates with a keytab. Password is used when empty.
	KeytabPath string
	Password   string

	// Krb5Conf is the Kerberos configuration file. Defaults to /etc/krb5.conf.
	Krb5Conf string

	// ServicePrincipal is the server's SPN, e.g. "tablerpc/host.example.com".
	ServicePrincipal string
}

// WithKerberos authenticates the connection with a Kerberos AP-REQ.
func WithKerberos(cfg KerberosConfig) Option {
	return WithHandshake(&kerberosTokenSource{cfg: cfg})
}

type kerberosTokenSource struct {
	cfg KerberosConfig
}

// Token logs in, fetches a ticket for the service and wraps the AP-REQ in a
// KRB5 GSS token.
func (s *kerberosTokenSource) Token(_ context.Context) (string, []byte, error) {
	cfg := s.cfg
	if cfg.ServicePrincipal == "" {
		return "", nil, errors.New("kerberos: service principal is required")
	}

	confPath := cfg.Krb5Conf
	if confPath == "" {
		confPath = "/etc/krb5.conf"
	}
	krbConf, err := krb5config.Load(confPath)
	if err != nil {
		return "", nil, fmt.Errorf("load krb5.conf %s: %w", confPath, err)
	}

	name, realm := auth.ParsePrincipal(cfg.Principal)
	if realm == "" {
		realm = krbConf.LibDefaults.DefaultRealm
	}
	if name == "" {
		return "", nil, errors.New("kerberos: client principal is required")
	}

	var cl *krb5client.Client
	switch {
	case cfg.KeytabPath != "":
		kt, err := keytab.Load(cfg.KeytabPath)
		if err != nil {
			return "", nil, fmt.Errorf("load keytab %s: %w", cfg.KeytabPath, err)
		}
		cl = krb5client.NewWithKeytab(name, realm, kt, krbConf, krb5client.DisablePAFXFAST(true))
	case cfg.Password != "":
		cl = krb5client.NewWithPassword(name, realm, cfg.Password, krbConf, krb5client.DisablePAFXFAST(true))
	default:
		return "", nil, errors.New("kerberos: keytab or password is required")
	}
	defer cl.Destroy()

	if err := cl.Login(); err != nil {
		return "", nil, fmt.Errorf("kerberos login as %s@%s: %w", name, realm, err)
	}

	spn, _ := auth.ParsePrincipal(cfg.ServicePrincipal)
	tkt, key, err := cl.GetServiceTicket(spn)
	if err != nil {
		return "", nil, fmt.Errorf("get service ticket for %s: %w", spn, err)
	}

	token, err := spnego.NewKRB5TokenAPREQ(cl, tkt, key,
		[]int{gssapi.ContextFlagInteg, gssapi.ContextFlagConf}, []int{})
	if err != nil {
		return "", nil, fmt.Errorf("build AP-REQ: %w", err)
	}
	b, err := token.Marshal()
	if err != nil {
		return "", nil, fmt.Errorf("marshal AP-REQ: %w", err)
	}
	return kerberos.MechanismName, b, nil
}
