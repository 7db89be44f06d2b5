// Package api defines the wire types exchanged with the access-broker
// backend: grant requests, grants, per-provider permission payloads, and the
// streaming event envelope.
package api
