package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p0", "config.yaml")
	cfg := DefaultConfig()
	cfg.Org = "acme"
	cfg.Server = "https://p0.example.com"
	cfg.Providers = []Provider{{
		Name:                   "aws-sso",
		RegistrationURL:        "https://sso.example.com/register",
		DeviceAuthorizationURL: "https://sso.example.com/device",
		TokenURL:               "https://sso.example.com/token",
		CredentialVendURL:      "https://sso.example.com/credentials",
		Scopes:                 []string{"sso:account:access"},
	}}
	require.NoError(t, Save(path, &cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "acme", loaded.Org)
	assert.Equal(t, "https://p0.example.com", loaded.Server)
	require.Len(t, loaded.Providers, 1)
	assert.Equal(t, "aws-sso", loaded.Providers[0].Name)
}

func TestLoadDefaultsVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: https://p0.example.com\n"), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, VersionV1, cfg.Version)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, os.IsNotExist(err))

	_, err = Load("")
	assert.Error(t, err)
}

func TestFindProvider(t *testing.T) {
	cfg := Config{Providers: []Provider{{Name: "a"}, {Name: "b"}}}
	p, err := cfg.FindProvider("b")
	require.NoError(t, err)
	assert.Equal(t, "b", p.Name)

	_, err = cfg.FindProvider("c")
	assert.ErrorContains(t, err, "provider not found")
}
