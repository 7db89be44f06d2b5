// Package device implements the OAuth device-authorization exchange used to
// mint provider credentials: dynamic client registration, device
// authorization, bounded token polling, and the credential-vend call that
// trades the bearer token for short-lived, scoped credentials. Each
// cacheable stage writes through the credential cache so repeated
// invocations inside an expiry window skip the network entirely.
package device
