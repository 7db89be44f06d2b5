// Package cache provides the expiry-aware local store for minted credentials
// and provider metadata. The file backend keeps one JSON document per key
// under an owner-only directory and rejects any key that would resolve
// outside it; the keyring backend holds the same documents in the OS
// keychain for secret material.
//
// The cache performs no cross-process locking: concurrent invocations racing
// on one key may both fetch, and the last writer wins. Cached values are
// short-lived and idempotent, so this is an accepted tradeoff.
package cache
