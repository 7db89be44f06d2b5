// Package fault defines the error taxonomy shared by the p0 CLI layers:
// typed kinds for denials, backend errors, timeouts, provider auth failures,
// transient network errors, tool incompatibilities, and security violations,
// plus the mapping from error kind to process exit code.
package fault
