package cache

import (
	"time"
)

// ExpiredFunc lets callers veto an entry that is fresh by write time but
// carries its own expiry, such as a credential with an expiresAt field.
type ExpiredFunc func(data []byte) bool

// Store is the cache contract. Get returns ok=false on a miss; a stale entry
// is deleted, not served. Put overwrites unconditionally.
type Store interface {
	Get(name string, ttl time.Duration, expired ExpiredFunc) ([]byte, bool, error)
	Put(name string, data []byte) error
	Invalidate(name string) error
}

// Fetch returns the cached value for name or, on a miss, runs the loader and
// writes its result through. A load error is returned as-is; a write error
// after a successful load is returned with the loaded data discarded, since
// a cache that cannot persist should fail loudly rather than silently
// degrade to a pass-through.
func Fetch(s Store, name string, ttl time.Duration, expired ExpiredFunc, loader func() ([]byte, error)) ([]byte, error) {
	data, ok, err := s.Get(name, ttl, expired)
	if err != nil {
		return nil, err
	}
	if ok {
		return data, nil
	}
	data, err = loader()
	if err != nil {
		return nil, err
	}
	if err := s.Put(name, data); err != nil {
		return nil, err
	}
	return data, nil
}
