package config

import (
	"os"
	"path/filepath"
)

const (
	defaultConfigDirName = "p0"
	defaultConfigFile    = "config.yaml"
	defaultCacheDirName  = "cache"
	defaultStateDirName  = "sessions"
)

func configDir() string {
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultConfigDirName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+defaultConfigDirName)
}

func DefaultConfigPath() string {
	if env := os.Getenv("P0_CONFIG"); env != "" {
		return env
	}
	return filepath.Join(configDir(), defaultConfigFile)
}

// DefaultCacheDir is the credential cache root.
func DefaultCacheDir() string {
	if env := os.Getenv("P0_CACHE_DIR"); env != "" {
		return env
	}
	return filepath.Join(configDir(), defaultCacheDirName)
}

// DefaultStateDir holds transient session descriptor files.
func DefaultStateDir() string {
	return filepath.Join(configDir(), defaultStateDirName)
}
