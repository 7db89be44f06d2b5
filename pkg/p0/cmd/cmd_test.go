package cmd

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p0-security/p0cli-sub002/pkg/p0/api"
	"github.com/p0-security/p0cli-sub002/pkg/p0/config"
	"github.com/p0-security/p0cli-sub002/pkg/p0/tunnel"
)

func runRoot(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	root := NewRootCommand(Config{ConfigPath: configPath, OutputWriter: &buf})
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runRoot(t, filepath.Join(t.TempDir(), "absent.yaml"), "version")
	require.NoError(t, err, "version must not require a config file")
	assert.Contains(t, out, "p0 ")
	assert.Contains(t, out, "commit:")
}

func TestVersionCommandJSON(t *testing.T) {
	out, err := runRoot(t, filepath.Join(t.TempDir(), "absent.yaml"), "version", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"version"`)
	assert.Contains(t, out, `"goVersion"`)
}

func TestConfigInitAndShow(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	_, err := runRoot(t, configPath, "config", "init", "--org", "acme", "--server", "https://p0.example.com")
	require.NoError(t, err)

	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.Org)
	assert.Equal(t, "https://p0.example.com", cfg.Server)

	out, err := runRoot(t, configPath, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "org: acme")
	assert.Contains(t, out, "server: https://p0.example.com")
}

func TestConfigInitRequiresServer(t *testing.T) {
	_, err := runRoot(t, filepath.Join(t.TempDir(), "config.yaml"), "config", "init", "--org", "acme")
	assert.Error(t, err)
}

func TestCommandsFailWithoutConfig(t *testing.T) {
	_, err := runRoot(t, filepath.Join(t.TempDir(), "absent.yaml"), "request", "ssh", "host-1")
	assert.Error(t, err)
}

func TestParseForward(t *testing.T) {
	f, err := parseForward("8080:5432")
	require.NoError(t, err)
	assert.Equal(t, tunnel.Forward{LocalPort: 8080, RemotePort: 5432}, f)

	f, err = parseForward("8080:db.internal:5432")
	require.NoError(t, err)
	assert.Equal(t, tunnel.Forward{LocalPort: 8080, RemoteHost: "db.internal", RemotePort: 5432}, f)

	for _, spec := range []string{"8080", "a:b", "1:2:3:4", "8080:host:port"} {
		_, err := parseForward(spec)
		assert.Error(t, err, spec)
	}
}

func TestScopeFromGrant(t *testing.T) {
	grant := &api.Grant{
		Status: api.StatusApproved,
		Permission: &api.Permission{
			Provider: api.ProviderAwsRole,
			AwsRole:  &api.AwsRolePermission{Account: "123456789012", Role: "admin"},
		},
	}
	scope, err := scopeFromGrant(grant)
	require.NoError(t, err)
	assert.Equal(t, "123456789012", scope.Account)
	assert.Equal(t, "admin", scope.Role)

	// the delegation, when present, wins over the direct permission
	grant.Delegation = &api.Permission{
		Provider:         api.ProviderPostgresInstance,
		PostgresInstance: &api.PostgresInstancePermission{Instance: "orders-db", CloudRole: "rds-access"},
	}
	scope, err = scopeFromGrant(grant)
	require.NoError(t, err)
	assert.Equal(t, "orders-db", scope.Account)
	assert.Equal(t, "rds-access", scope.Role)

	_, err = scopeFromGrant(&api.Grant{Status: api.StatusApproved})
	assert.ErrorIs(t, err, errNoScope)
}

func TestStoredTokenExpiry(t *testing.T) {
	now := time.Now()
	assert.True(t, storedToken{}.expired(now))
	assert.True(t, storedToken{ExpiresAt: now}.expired(now))
	assert.False(t, storedToken{ExpiresAt: now.Add(time.Hour)}.expired(now))
}
