// Package kerberos authenticates tablerpc connections with Kerberos.
//
// The Provider holds the service keytab and krb5.conf and verifies the
// AP-REQ a client sends in the connection handshake, either raw, wrapped in
// a KRB5 GSS-API token, or inside a SPNEGO NegTokenInit. The keytab is hot
// reloaded when it changes on disk.
//
// BuildTransportFactory is the entry point used by the server: it turns the
// authentication section of the configuration into a transport.Factory that
// negotiates every new connection.
package kerberos
