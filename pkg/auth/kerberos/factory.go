package kerberos

import (
	"errors"
	"fmt"
	"strings"

	"github.com/marmos91/tablerpc/internal/logger"
	"github.com/marmos91/tablerpc/pkg/auth"
	"github.com/marmos91/tablerpc/pkg/config"
	"github.com/marmos91/tablerpc/pkg/transport"
)

var (
	// ErrSetup matches every error returned by BuildTransportFactory.
	ErrSetup = errors.New("kerberos: transport factory setup failed")

	// ErrConfiguration is the parent of configuration problems.
	ErrConfiguration = errors.New("kerberos: invalid configuration")

	ErrMissingPrincipal  = fmt.Errorf("%w: service principal not configured (set authentication.principal or %s)", ErrConfiguration, EnvPrincipal)
	ErrMissingCredential = fmt.Errorf("%w: keytab not configured (set authentication.credential_path or %s)", ErrConfiguration, EnvKeytab)
)

// SetupError wraps any failure to build the authenticating transport
// factory. errors.Is(err, ErrSetup) holds, and the cause is reachable with
// errors.Unwrap.
type SetupError struct {
	Err error
}

func (e *SetupError) Error() string {
	return "failed to create kerberos transport factory: " + e.Err.Error()
}

func (e *SetupError) Unwrap() error { return e.Err }

// Is reports ErrSetup as matching.
func (e *SetupError) Is(target error) bool { return target == ErrSetup }

func setupError(err error) error {
	return &SetupError{Err: err}
}

// TransportFactory is a negotiating transport factory backed by a Kerberos
// Provider. Close releases the provider.
type TransportFactory struct {
	*transport.NegotiatingFactory
	provider *Provider
}

// Provider returns the Kerberos provider handshakes are verified with.
func (f *TransportFactory) Provider() *Provider {
	return f.provider
}

// Close stops keytab hot reload.
func (f *TransportFactory) Close() error {
	return f.provider.Close()
}

// FactoryOption customises BuildTransportFactory.
type FactoryOption func(*factoryOptions)

type factoryOptions struct {
	transport transport.Options
}

// WithTransportOptions sets framing limits and deadlines of negotiated
// transports.
func WithTransportOptions(opts transport.Options) FactoryOption {
	return func(o *factoryOptions) { o.transport = opts }
}

// BuildTransportFactory turns the authentication configuration into a
// transport factory.
//
// When authentication is disabled it returns (nil, nil) and the caller keeps
// its plain socket factory. Otherwise _HOST in the principal is replaced via
// resolver (SystemHostResolver when nil), the keytab and krb5.conf are
// loaded, and keytab hot reload is started. Every failure is a *SetupError.
func BuildTransportFactory(cfg *config.AuthenticationConfig, resolver HostResolver, opts ...FactoryOption) (*TransportFactory, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	var o factoryOptions
	for _, opt := range opts {
		opt(&o)
	}
	if resolver == nil {
		resolver = SystemHostResolver{}
	}

	principal := strings.TrimSpace(resolveServicePrincipal(cfg.Principal))
	if principal == "" {
		return nil, setupError(ErrMissingPrincipal)
	}
	keytabPath := strings.TrimSpace(resolveKeytabPath(cfg.CredentialPath))
	if keytabPath == "" {
		return nil, setupError(ErrMissingCredential)
	}

	if strings.Contains(principal, HostPlaceholder) {
		host, err := resolver.CanonicalHostname()
		if err != nil {
			return nil, setupError(fmt.Errorf("resolve canonical hostname: %w", err))
		}
		if principal, err = ResolvePrincipal(principal, host); err != nil {
			return nil, setupError(err)
		}
	}

	krb5Conf := resolveKrb5ConfPath(cfg.Krb5Conf)
	provider, err := NewProvider(ProviderConfig{
		ServicePrincipal: principal,
		KeytabPath:       keytabPath,
		Krb5Conf:         krb5Conf,
		Krb5ConfOptional: krb5Conf == config.DefaultKrb5Conf,
		MaxClockSkew:     cfg.MaxClockSkew,
		PollInterval:     cfg.KeytabPollInterval,
	})
	if err != nil {
		return nil, setupError(err)
	}

	logger.Info("Kerberos authentication enabled",
		logger.Principal(provider.ServicePrincipal()),
		"keytab", keytabPath,
		"krb5_conf", krb5Conf)

	authn := auth.NewAuthenticator(provider)
	return &TransportFactory{
		NegotiatingFactory: transport.NewNegotiatingFactory(authn, o.transport, cfg.HandshakeTimeout),
		provider:           provider,
	}, nil
}
