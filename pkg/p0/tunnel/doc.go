// Package tunnel orchestrates the child processes that realize an
// interactive session, port forward, or file transfer over an approved
// grant: it builds typed argument vectors for the external session and
// forwarding binaries, coordinates their startup and readiness, streams
// file-transfer payloads once the forwarded port is reachable, and
// guarantees teardown of every child and transient artifact regardless of
// outcome.
package tunnel
