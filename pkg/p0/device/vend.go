package device

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"

	"github.com/p0-security/p0cli-sub002/pkg/p0/fault"
)

const (
	vendRetryCount   = 2 // three attempts total
	vendRetryWait    = 500 * time.Millisecond
	vendRetryMaxWait = 4 * time.Second
)

type vendResponse struct {
	AccessKeyID     string    `json:"accessKeyId,omitempty"`
	SecretAccessKey string    `json:"secretAccessKey,omitempty"`
	SessionToken    string    `json:"sessionToken,omitempty"`
	Token           string    `json:"token,omitempty"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// Exchange trades the bearer token for a credential scoped to one account
// and role. Transport failures and 5xx responses are retried with bounded
// exponential backoff; a provider-reported denial (4xx) is terminal and
// never retried.
func (e *Exchanger) Exchange(ctx context.Context, token *oauth2.Token, provider Provider, scope CredentialScope) (*Credential, error) {
	vendor := resty.NewWithClient(e.http).
		SetRetryCount(vendRetryCount).
		SetRetryWaitTime(vendRetryWait).
		SetRetryMaxWaitTime(vendRetryMaxWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// A cancelled caller never gets another attempt.
			if ctx.Err() != nil {
				return false
			}
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	var payload vendResponse
	resp, err := vendor.R().
		SetContext(ctx).
		SetAuthToken(token.AccessToken).
		SetQueryParam("account", scope.Account).
		SetQueryParam("role", scope.Role).
		SetResult(&payload).
		// Decode regardless of the provider's content-type header; a
		// non-JSON body then surfaces as a parse error instead of a zero
		// payload misread as an expired credential.
		ForceContentType("application/json").
		Get(provider.CredentialVendURL)
	if err != nil {
		return nil, fault.Transient("vend credential", err)
	}
	if resp.IsError() {
		if resp.StatusCode() >= 500 {
			return nil, fault.Transient("vend credential", fmt.Errorf("provider returned %s after retries", resp.Status()))
		}
		return nil, fault.ProviderAuth("vend credential",
			fmt.Sprintf("provider refused credentials for %s: %s", scope, resp.Status()))
	}
	cred := Credential{
		AccessKeyID:     payload.AccessKeyID,
		SecretAccessKey: payload.SecretAccessKey,
		SessionToken:    payload.SessionToken,
		Token:           payload.Token,
		ExpiresAt:       payload.ExpiresAt,
	}
	if cred.Expired(e.now()) {
		return nil, fault.ProviderAuth("vend credential", "provider issued an already-expired credential")
	}
	return &cred, nil
}
