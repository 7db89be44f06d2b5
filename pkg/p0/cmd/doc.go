// Package cmd implements the cobra command tree for the p0 CLI: access
// requests, interactive sessions, file transfer, provider login,
// configuration, and version inspection.
package cmd
