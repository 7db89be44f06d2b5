package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/p0-security/p0cli-sub002/pkg/p0/api"
	"github.com/p0-security/p0cli-sub002/pkg/p0/cache"
	"github.com/p0-security/p0cli-sub002/pkg/p0/client"
	"github.com/p0-security/p0cli-sub002/pkg/p0/config"
	"github.com/p0-security/p0cli-sub002/pkg/p0/device"
	"github.com/p0-security/p0cli-sub002/pkg/p0/output"
)

// backendTokenKey names the cached bearer token for the broker backend.
const backendTokenKey = "backend-token"

type storedToken struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func (t storedToken) expired(now time.Time) bool {
	return t.ExpiresAt.IsZero() || !now.Before(t.ExpiresAt.Add(-time.Second))
}

func buildStore(rt *runtimeState) (cache.Store, error) {
	if rt.CredentialStorage() == "keychain" {
		return cache.NewKeyringStore("p0"), nil
	}
	return cache.NewFileStore(config.DefaultCacheDir())
}

func (rt *runtimeState) narrator() output.Narrator {
	if rt.quiet {
		return output.Quiet()
	}
	return output.NewNarrator(os.Stderr)
}

func buildClient(rt *runtimeState) (*client.Client, error) {
	server := rt.resolveServer()
	if server == "" {
		return nil, errors.New("server is required; set it in the config file or via --server")
	}
	token := rt.tokenOverride
	if token == "" {
		store, err := buildStore(rt)
		if err != nil {
			return nil, err
		}
		token, err = cachedBackendToken(store)
		if err != nil {
			return nil, err
		}
	}
	options := []client.Option{
		client.WithServer(server),
		client.WithToken(token),
		client.WithUserAgent("p0"),
	}
	if rt.cfg != nil {
		if rt.cfg.Org != "" {
			options = append(options, client.WithOrg(rt.cfg.Org))
		}
		options = append(options, client.WithTLSConfig(rt.cfg.Settings.CAFile, rt.cfg.Settings.InsecureSkipTLS))
	}
	return client.New(options...)
}

func cachedBackendToken(store cache.Store) (string, error) {
	expired := func(data []byte) bool {
		var tok storedToken
		if err := json.Unmarshal(data, &tok); err != nil {
			return true
		}
		return tok.expired(time.Now())
	}
	data, ok, err := store.Get(backendTokenKey, 0, expired)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.New("not logged in; run `p0 login` first")
	}
	var tok storedToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return "", errors.New("not logged in; run `p0 login` first")
	}
	return tok.AccessToken, nil
}

func buildExchanger(rt *runtimeState) (*device.Exchanger, error) {
	store, err := buildStore(rt)
	if err != nil {
		return nil, err
	}
	opts := []device.Option{
		device.WithNarrator(rt.narrator()),
		device.WithLogger(rt.log),
	}
	if device.BrowserDisabled(os.Getenv("P0_NO_BROWSER")) {
		opts = append(opts, device.WithBrowserOpener(func(string) error { return nil }))
	}
	return device.NewExchanger(store, opts...), nil
}

func resolveProvider(cfg *config.Config, name string) (device.Provider, error) {
	if cfg == nil || len(cfg.Providers) == 0 {
		return device.Provider{}, errors.New("no credential providers configured")
	}
	var entry *config.Provider
	if name == "" {
		entry = &cfg.Providers[0]
	} else {
		found, err := cfg.FindProvider(name)
		if err != nil {
			return device.Provider{}, err
		}
		entry = found
	}
	return device.Provider{
		ID:                     entry.Name,
		RegistrationURL:        entry.RegistrationURL,
		DeviceAuthorizationURL: entry.DeviceAuthorizationURL,
		TokenURL:               entry.TokenURL,
		CredentialVendURL:      entry.CredentialVendURL,
		Scopes:                 entry.Scopes,
	}, nil
}

var errNoScope = errors.New("grant carries no permission to scope a credential to")

// scopeFromGrant derives the account/role pair a credential must be scoped
// to. The delegation, when present, wins: it names the cloud role
// underlying a brokered resource such as a database.
func scopeFromGrant(grant *api.Grant) (device.CredentialScope, error) {
	perm := grant.Delegation
	if perm == nil {
		perm = grant.Permission
	}
	if perm == nil {
		return device.CredentialScope{}, errNoScope
	}
	switch perm.Provider {
	case api.ProviderAwsRole:
		return device.CredentialScope{Account: perm.AwsRole.Account, Role: perm.AwsRole.Role}, nil
	case api.ProviderAwsPermissionSet:
		return device.CredentialScope{Account: perm.AwsPermissionSet.Account, Role: perm.AwsPermissionSet.PermissionSet}, nil
	case api.ProviderK8sResource:
		return device.CredentialScope{Account: perm.K8sResource.Cluster, Role: perm.K8sResource.Resource}, nil
	case api.ProviderPostgresInstance:
		return device.CredentialScope{Account: perm.PostgresInstance.Instance, Role: perm.PostgresInstance.CloudRole}, nil
	default:
		return device.CredentialScope{}, fmt.Errorf("unsupported permission provider %q", perm.Provider)
	}
}
