package tunnel

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/p0-security/p0cli-sub002/pkg/p0/api"
	"github.com/p0-security/p0cli-sub002/pkg/p0/device"
)

// StaleDescriptorAge is how long an orphaned descriptor may linger before
// the sweep removes it. Orphans appear when a prior invocation crashed
// between writing the file and its consumer deleting it.
const StaleDescriptorAge = 24 * time.Hour

const descriptorSuffix = ".session.json"

// Descriptor is the serialized grant and credential context handed to an
// indirect child process. It is written immediately before the consumer is
// spawned and removed as soon as the session ends.
type Descriptor struct {
	ID         string             `json:"id"`
	Grant      *api.Grant         `json:"grant"`
	Credential *device.Credential `json:"credential"`
	CreatedAt  time.Time          `json:"createdAt"`
}

// WriteDescriptor persists a descriptor under dir with a fresh ID and
// owner-only permissions, returning the file path.
func WriteDescriptor(dir string, grant *api.Grant, cred *device.Credential) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create session state dir: %w", err)
	}
	desc := Descriptor{
		ID:         uuid.NewString(),
		Grant:      grant,
		Credential: cred,
		CreatedAt:  time.Now(),
	}
	data, err := json.Marshal(desc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session descriptor: %w", err)
	}
	path := filepath.Join(dir, desc.ID+descriptorSuffix)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write session descriptor: %w", err)
	}
	return path, nil
}

// ReadDescriptor loads and validates a descriptor file.
func ReadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var desc Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("failed to parse session descriptor: %w", err)
	}
	return &desc, nil
}

// SweepStaleDescriptors removes descriptor files older than maxAge. The age
// threshold alone decides staleness; removal failures are logged, never
// fatal.
func SweepStaleDescriptors(dir string, maxAge time.Duration, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("failed to scan session state dir", zap.Error(err))
		}
		return
	}
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), descriptorSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			log.Warn("failed to remove stale session descriptor", zap.String("path", path), zap.Error(err))
			continue
		}
		log.Debug("removed stale session descriptor", zap.String("path", path))
	}
}
