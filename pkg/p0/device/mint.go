package device

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/p0-security/p0cli-sub002/pkg/p0/api"
	"github.com/p0-security/p0cli-sub002/pkg/p0/cache"
	"github.com/p0-security/p0cli-sub002/pkg/p0/fault"
)

// CredentialCacheKey is the stable, human-debuggable cache key for a scoped
// credential.
func CredentialCacheKey(provider Provider, scope CredentialScope) string {
	return fmt.Sprintf("credential--%s--%s--%s", provider.ID, scope.Account, scope.Role)
}

// MintCredential runs the full exchange for one scoped credential:
// registration, device authorization, token polling, and the vend call, each
// stage consulting the cache first. The steps are strictly sequential within
// one invocation; independent invocations for other providers or accounts
// may run concurrently.
//
// A credential is never minted without an approved grant backing it.
func (e *Exchanger) MintCredential(ctx context.Context, grant *api.Grant, provider Provider, scope CredentialScope) (*Credential, error) {
	if grant == nil || !grant.Status.ApprovedEquivalent() {
		return nil, fault.Denied("mint credential", "no approved grant backs this credential request")
	}

	key := CredentialCacheKey(provider, scope)
	expired := func(data []byte) bool {
		var cred Credential
		if err := json.Unmarshal(data, &cred); err != nil {
			return true
		}
		return cred.Expired(e.now())
	}
	loader := func() ([]byte, error) {
		reg, err := e.Register(ctx, provider)
		if err != nil {
			return nil, err
		}
		session, err := e.Authorize(ctx, reg, provider)
		if err != nil {
			return nil, err
		}
		token, err := e.PollToken(ctx, reg, session, provider)
		if err != nil {
			return nil, err
		}
		cred, err := e.Exchange(ctx, token, provider, scope)
		if err != nil {
			return nil, err
		}
		return json.Marshal(cred)
	}

	data, err := cache.Fetch(e.store, key, 0, expired, loader)
	if err != nil {
		return nil, err
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to parse cached credential: %w", err)
	}
	return &cred, nil
}
