package device

import (
	"fmt"
	"time"
)

// Provider describes one credential provider instance: where to register,
// authorize, poll for tokens, and vend scoped credentials.
type Provider struct {
	// ID is the stable provider instance identity used in cache keys, e.g.
	// "aws-sso--d-1234567890".
	ID                     string   `json:"id"`
	RegistrationURL        string   `json:"registrationUrl"`
	DeviceAuthorizationURL string   `json:"deviceAuthorizationUrl"`
	TokenURL               string   `json:"tokenUrl"`
	CredentialVendURL      string   `json:"credentialVendUrl"`
	Scopes                 []string `json:"scopes,omitempty"`
}

// ClientRegistration is the long-lived dynamic client registration for a
// provider instance, typically valid for tens of days.
type ClientRegistration struct {
	ClientID     string    `json:"clientId"`
	ClientSecret string    `json:"clientSecret"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// AuthorizationSession is transient OAuth device-flow state. It lives only
// for one exchange window and is discarded once the exchange ends; it is
// cached solely so a re-invocation inside the window does not mint a second
// user code.
type AuthorizationSession struct {
	DeviceCode              string    `json:"deviceCode"`
	UserCode                string    `json:"userCode"`
	VerificationURI         string    `json:"verificationUri"`
	VerificationURIComplete string    `json:"verificationUriComplete,omitempty"`
	IntervalSeconds         int       `json:"interval"`
	ExpiresInSeconds        int       `json:"expiresIn"`
	StartedAt               time.Time `json:"startedAt"`
}

// Deadline converts the provider-supplied window into an absolute instant.
func (s AuthorizationSession) Deadline() time.Time {
	return s.StartedAt.Add(time.Duration(s.ExpiresInSeconds) * time.Second)
}

// CredentialScope narrows a vended credential to one account and role.
type CredentialScope struct {
	Account string `json:"account"`
	Role    string `json:"role"`
}

func (s CredentialScope) String() string {
	return fmt.Sprintf("%s/%s", s.Account, s.Role)
}

// expiryMargin is subtracted from stated credential expiries so material is
// proactively treated as expired slightly before the provider would reject
// it.
const expiryMargin = time.Second

// Credential is ephemeral provider secret material. Either the key triple or
// the bearer token is set, depending on the provider.
type Credential struct {
	AccessKeyID     string    `json:"accessKeyId,omitempty"`
	SecretAccessKey string    `json:"secretAccessKey,omitempty"`
	SessionToken    string    `json:"sessionToken,omitempty"`
	Token           string    `json:"token,omitempty"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

func (c Credential) Expired(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return true
	}
	return !now.Before(c.ExpiresAt.Add(-expiryMargin))
}
