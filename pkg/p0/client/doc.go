// Package client implements the HTTP client for the p0 CLI to communicate
// with the access-broker backend: request submission, blocking grant waits,
// and the newline-delimited JSON grant event stream.
package client
