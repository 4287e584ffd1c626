package auth

import "strings"

// Identity is an authenticated peer in mechanism-neutral form.
type Identity struct {
	// Principal is the full principal, e.g. "alice@EXAMPLE.COM" or
	// "svc/host.example.com@EXAMPLE.COM".
	Principal string

	// Name is the principal without its realm.
	Name string

	// Realm is the Kerberos realm, empty when the mechanism has none.
	Realm string

	// Attributes carries mechanism-specific metadata such as "mechanism".
	Attributes map[string]string
}

// NewIdentity builds an Identity from a principal name and realm.
func NewIdentity(name, realm string) Identity {
	principal := name
	if realm != "" {
		principal = name + "@" + realm
	}
	return Identity{Principal: principal, Name: name, Realm: realm}
}

// ParsePrincipal splits "name@REALM" into name and realm. The split happens
// at the last '@' so that names containing '@' keep it.
func ParsePrincipal(principal string) (name, realm string) {
	i := strings.LastIndexByte(principal, '@')
	if i < 0 {
		return principal, ""
	}
	return principal[:i], principal[i+1:]
}

// AuthorizationID is the string a negotiated transport exposes for this
// identity: the full principal.
func (id Identity) AuthorizationID() string {
	if id.Principal != "" {
		return id.Principal
	}
	return NewIdentity(id.Name, id.Realm).Principal
}
