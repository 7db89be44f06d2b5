package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zalando/go-keyring"
)

// KeyringStore keeps entries in the OS keychain, for installations where
// secret material should not touch the filesystem even with owner-only
// modes. Write time travels inside the stored envelope because the keychain
// has no mtime.
type KeyringStore struct {
	service string
}

type keyringEnvelope struct {
	StoredAt time.Time `json:"storedAt"`
	Data     []byte    `json:"data"`
}

func NewKeyringStore(service string) *KeyringStore {
	if service == "" {
		service = "p0"
	}
	return &KeyringStore{service: service}
}

func (s *KeyringStore) Get(name string, ttl time.Duration, expired ExpiredFunc) ([]byte, bool, error) {
	raw, err := keyring.Get(s.service, name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read keychain entry: %w", err)
	}
	var env keyringEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		// Unparseable entries are treated as misses, same as a corrupt
		// cache file.
		return nil, false, s.Invalidate(name)
	}
	if ttl > 0 && time.Since(env.StoredAt) > ttl {
		return nil, false, s.Invalidate(name)
	}
	if expired != nil && expired(env.Data) {
		return nil, false, s.Invalidate(name)
	}
	return env.Data, true, nil
}

func (s *KeyringStore) Put(name string, data []byte) error {
	env, err := json.Marshal(keyringEnvelope{StoredAt: time.Now(), Data: data})
	if err != nil {
		return err
	}
	if err := keyring.Set(s.service, name, string(env)); err != nil {
		return fmt.Errorf("failed to write keychain entry: %w", err)
	}
	return nil
}

func (s *KeyringStore) Invalidate(name string) error {
	if err := keyring.Delete(s.service, name); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to remove keychain entry: %w", err)
	}
	return nil
}
