package kerberos

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/marmos91/tablerpc/internal/logger"
	"github.com/marmos91/tablerpc/pkg/auth"
)

// MechanismName is the provider name and the handshake mechanism hint.
const MechanismName = "kerberos"

// ProviderConfig holds fully resolved provider settings: environment
// overrides and _HOST substitution have already been applied.
type ProviderConfig struct {
	ServicePrincipal string
	KeytabPath       string
	Krb5Conf         string
	MaxClockSkew     time.Duration
	PollInterval     time.Duration

	// Krb5ConfOptional lets a missing Krb5Conf fall back to library
	// defaults instead of failing.
	Krb5ConfOptional bool
}

// Provider holds the service keytab, the Kerberos configuration and the
// service principal, and verifies client AP-REQs against them.
//
// Provider implements auth.AuthProvider. All methods are safe for concurrent
// use; the keytab can be swapped by ReloadKeytab while verifications run.
type Provider struct {
	mu       sync.RWMutex
	keytab   *keytab.Keytab
	krb5Conf *krb5config.Config

	servicePrincipal string
	maxClockSkew     time.Duration
	keytabPath       string
	keytabManager    *KeytabManager
}

// NewProvider loads the keytab and krb5.conf and starts keytab hot reload.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.KeytabPath == "" {
		return nil, ErrMissingCredential
	}
	if cfg.ServicePrincipal == "" {
		return nil, ErrMissingPrincipal
	}

	kt, err := loadKeytab(cfg.KeytabPath)
	if err != nil {
		return nil, fmt.Errorf("load keytab %s: %w", cfg.KeytabPath, err)
	}

	krbCfg, err := loadKrb5Conf(cfg.Krb5Conf, cfg.Krb5ConfOptional)
	if err != nil {
		return nil, fmt.Errorf("load krb5.conf %s: %w", cfg.Krb5Conf, err)
	}

	spn := cfg.ServicePrincipal
	if !HasRealm(spn) {
		if realm := krbCfg.LibDefaults.DefaultRealm; realm != "" {
			spn = spn + "@" + realm
		}
	}

	skew := cfg.MaxClockSkew
	if skew <= 0 {
		skew = 5 * time.Minute
	}

	p := &Provider{
		keytab:           kt,
		krb5Conf:         krbCfg,
		servicePrincipal: spn,
		maxClockSkew:     skew,
		keytabPath:       cfg.KeytabPath,
	}

	km := NewKeytabManager(cfg.KeytabPath, p, cfg.PollInterval)
	if err := km.Start(); err != nil {
		logger.Warn("Keytab hot-reload failed to start, continuing without it",
			"path", cfg.KeytabPath, logger.Err(err))
	} else {
		p.keytabManager = km
	}

	return p, nil
}

// Keytab returns the current keytab.
func (p *Provider) Keytab() *keytab.Keytab {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.keytab
}

// Krb5Config returns the loaded Kerberos configuration.
func (p *Provider) Krb5Config() *krb5config.Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.krb5Conf
}

// ServicePrincipal returns the principal tickets must be issued for.
func (p *Provider) ServicePrincipal() string {
	return p.servicePrincipal
}

// MaxClockSkew returns the tolerated clock skew.
func (p *Provider) MaxClockSkew() time.Duration {
	return p.maxClockSkew
}

// ReloadKeytab re-reads the keytab and swaps it in. On error the previous
// keytab stays active.
func (p *Provider) ReloadKeytab() error {
	kt, err := loadKeytab(p.keytabPath)
	if err != nil {
		return fmt.Errorf("reload keytab %s: %w", p.keytabPath, err)
	}

	p.mu.Lock()
	p.keytab = kt
	p.mu.Unlock()
	return nil
}

// Close stops keytab hot reload. Safe to call multiple times.
func (p *Provider) Close() error {
	if p.keytabManager != nil {
		p.keytabManager.Stop()
	}
	return nil
}

// Name implements auth.AuthProvider.
func (p *Provider) Name() string {
	return MechanismName
}

// CanHandle implements auth.AuthProvider. It accepts raw AP-REQs and GSS
// initial context tokens for the KRB5 or SPNEGO mechanisms.
func (p *Provider) CanHandle(token []byte) bool {
	_, err := classifyToken(token)
	return err == nil
}

// Authenticate implements auth.AuthProvider: it verifies the AP-REQ carried
// by token and returns the client principal.
func (p *Provider) Authenticate(ctx context.Context, token []byte) (*auth.AuthResult, error) {
	v, err := p.verify(token)
	if err != nil {
		logger.DebugCtx(ctx, "Kerberos verification failed", logger.Err(err))
		return nil, err
	}

	id := auth.NewIdentity(v.name, v.realm)
	id.Attributes = map[string]string{
		"mechanism":   v.kind.String(),
		"service":     p.servicePrincipal,
		"ticket_ends": v.endTime.UTC().Format(time.RFC3339),
	}

	return &auth.AuthResult{
		Identity:      id,
		Authenticated: true,
		Provider:      p.Name(),
		ResponseToken: v.responseToken,
	}, nil
}

func loadKrb5Conf(path string, optional bool) (*krb5config.Config, error) {
	if optional {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			logger.Debug("krb5.conf not found, using library defaults", "path", path)
			return krb5config.New(), nil
		}
	}

	cfg, err := krb5config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("parse krb5.conf: %w", err)
	}
	return cfg, nil
}

var _ auth.AuthProvider = (*Provider)(nil)
