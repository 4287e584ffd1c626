package kerberos

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/marmos91/tablerpc/internal/logger"
)

// HostPlaceholder in a principal's host component is replaced with the
// canonical local hostname.
const HostPlaceholder = "_HOST"

// HostResolver returns the canonical name of the local host.
type HostResolver interface {
	CanonicalHostname() (string, error)
}

// HostResolverFunc adapts a function to HostResolver.
type HostResolverFunc func() (string, error)

// CanonicalHostname calls f.
func (f HostResolverFunc) CanonicalHostname() (string, error) {
	return f()
}

// SystemHostResolver resolves os.Hostname through DNS.
type SystemHostResolver struct{}

// CanonicalHostname returns the CNAME of os.Hostname, lowercased and without
// the trailing dot. When the lookup fails the plain hostname is used.
func (SystemHostResolver) CanonicalHostname() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("get hostname: %w", err)
	}

	cname, err := net.LookupCNAME(host)
	if err != nil || cname == "" {
		logger.Debug("Canonical hostname lookup failed, using hostname",
			"hostname", host, logger.Err(err))
		cname = host
	}
	return normalizeHost(cname), nil
}

func normalizeHost(h string) string {
	return strings.ToLower(strings.TrimSuffix(h, "."))
}

// ResolvePrincipal replaces every HostPlaceholder in principal
// ("service/_HOST@REALM") with the normalized hostname. Principals without
// the placeholder are returned unchanged. An empty hostname is an
// ErrConfiguration when a substitution is needed.
func ResolvePrincipal(principal, hostname string) (string, error) {
	if !strings.Contains(principal, HostPlaceholder) {
		return principal, nil
	}
	host := normalizeHost(strings.TrimSpace(hostname))
	if host == "" {
		return "", fmt.Errorf("%w: empty hostname for %s in principal %q", ErrConfiguration, HostPlaceholder, principal)
	}
	return strings.ReplaceAll(principal, HostPlaceholder, host), nil
}

// HasRealm reports whether principal carries an @REALM suffix.
func HasRealm(principal string) bool {
	return strings.LastIndexByte(principal, '@') > 0
}
