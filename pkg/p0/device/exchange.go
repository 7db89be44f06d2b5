package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/p0-security/p0cli-sub002/pkg/p0/cache"
	"github.com/p0-security/p0cli-sub002/pkg/p0/fault"
	"github.com/p0-security/p0cli-sub002/pkg/p0/output"
)

// registrationRefreshWindow triggers a proactive re-registration when the
// cached client registration is within a day of its stated expiry.
const registrationRefreshWindow = 24 * time.Hour

// BrowserOpener hands a verification URL to the external browser
// collaborator. Failures are non-fatal; the user can always follow the
// narrated URL by hand.
type BrowserOpener func(url string) error

type Exchanger struct {
	store       cache.Store
	http        *http.Client
	narrator    output.Narrator
	log         *zap.Logger
	openBrowser BrowserOpener
	now         func() time.Time
	sleep       func(context.Context, time.Duration) error
}

type Option func(*Exchanger)

func WithHTTPClient(c *http.Client) Option {
	return func(e *Exchanger) { e.http = c }
}

func WithNarrator(n output.Narrator) Option {
	return func(e *Exchanger) { e.narrator = n }
}

func WithLogger(log *zap.Logger) Option {
	return func(e *Exchanger) { e.log = log }
}

func WithBrowserOpener(open BrowserOpener) Option {
	return func(e *Exchanger) { e.openBrowser = open }
}

func NewExchanger(store cache.Store, opts ...Option) *Exchanger {
	e := &Exchanger{
		store:       store,
		http:        &http.Client{Timeout: 30 * time.Second},
		narrator:    output.Quiet(),
		log:         zap.NewNop(),
		openBrowser: OpenBrowser,
		now:         time.Now,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type registrationResponse struct {
	ClientID              string `json:"client_id"`
	ClientSecret          string `json:"client_secret"`
	ClientSecretExpiresAt int64  `json:"client_secret_expires_at,omitempty"`
}

// Register obtains or reuses the dynamic client registration for a provider
// instance. Registrations are long-lived; the cache predicate refreshes them
// a day before expiry so an exchange never starts on the edge.
func (e *Exchanger) Register(ctx context.Context, provider Provider) (*ClientRegistration, error) {
	key := "registration--" + provider.ID
	expired := func(data []byte) bool {
		var reg ClientRegistration
		if err := json.Unmarshal(data, &reg); err != nil {
			return true
		}
		// No stated expiry means the registration does not age out.
		if reg.ExpiresAt.IsZero() {
			return false
		}
		return e.now().Add(registrationRefreshWindow).After(reg.ExpiresAt)
	}
	loader := func() ([]byte, error) {
		e.log.Debug("registering device client", zap.String("provider", provider.ID))
		var resp registrationResponse
		if err := e.postJSON(ctx, provider.RegistrationURL, map[string]string{
			"client_name": "p0",
		}, &resp); err != nil {
			return nil, asProviderAuth("register client", err)
		}
		reg := ClientRegistration{
			ClientID:     resp.ClientID,
			ClientSecret: resp.ClientSecret,
		}
		if resp.ClientSecretExpiresAt > 0 {
			reg.ExpiresAt = time.Unix(resp.ClientSecretExpiresAt, 0)
		}
		return json.Marshal(reg)
	}
	data, err := cache.Fetch(e.store, key, 0, expired, loader)
	if err != nil {
		return nil, err
	}
	var reg ClientRegistration
	if err := json.Unmarshal(data, &reg); err != nil {
		// Corrupt entry: drop it and load fresh once.
		if err := e.store.Invalidate(key); err != nil {
			return nil, err
		}
		data, err = cache.Fetch(e.store, key, 0, expired, loader)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &reg); err != nil {
			return nil, fmt.Errorf("failed to parse client registration: %w", err)
		}
	}
	return &reg, nil
}

type deviceAuthorizationResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval,omitempty"`
}

// Authorize starts (or resumes) a device authorization session. A session
// cached inside its expiry window is reused so a re-invocation does not mint
// a second user code; only a freshly minted session triggers the browser
// collaborator.
func (e *Exchanger) Authorize(ctx context.Context, reg *ClientRegistration, provider Provider) (*AuthorizationSession, error) {
	key := "authorization--" + provider.ID
	expired := func(data []byte) bool {
		var session AuthorizationSession
		if err := json.Unmarshal(data, &session); err != nil {
			return true
		}
		return !e.now().Before(session.Deadline().Add(-expiryMargin))
	}
	fresh := false
	loader := func() ([]byte, error) {
		fresh = true
		e.log.Debug("requesting device authorization", zap.String("provider", provider.ID))
		values := url.Values{}
		values.Set("client_id", reg.ClientID)
		values.Set("client_secret", reg.ClientSecret)
		if len(provider.Scopes) > 0 {
			values.Set("scope", strings.Join(provider.Scopes, " "))
		}
		var resp deviceAuthorizationResponse
		if err := e.postForm(ctx, provider.DeviceAuthorizationURL, values, &resp); err != nil {
			return nil, asProviderAuth("request device authorization", err)
		}
		session := AuthorizationSession{
			DeviceCode:              resp.DeviceCode,
			UserCode:                resp.UserCode,
			VerificationURI:         resp.VerificationURI,
			VerificationURIComplete: resp.VerificationURIComplete,
			IntervalSeconds:         resp.Interval,
			ExpiresInSeconds:        resp.ExpiresIn,
			StartedAt:               e.now(),
		}
		return json.Marshal(session)
	}
	data, err := cache.Fetch(e.store, key, 0, expired, loader)
	if err != nil {
		return nil, err
	}
	var session AuthorizationSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to parse authorization session: %w", err)
	}

	e.narrator.Notef("Visit %s and enter code: %s", session.VerificationURI, session.UserCode)
	if fresh {
		target := session.VerificationURIComplete
		if target == "" {
			target = session.VerificationURI
		}
		if target != "" {
			if err := e.openBrowser(target); err != nil {
				e.log.Warn("failed to open browser", zap.Error(err))
			}
		}
	}
	return &session, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   int    `json:"expires_in,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorDesc   string `json:"error_description,omitempty"`
}

var (
	errAuthorizationPending = errors.New("authorization pending")
	errSlowDown             = errors.New("slow down")
)

// PollToken polls the token endpoint every session interval until the user
// approves, the provider reports a terminal error, or the session window
// closes. The window deadline is computed once from the provider-supplied
// seconds; only the final token expiry uses wall-clock time.
func (e *Exchanger) PollToken(ctx context.Context, reg *ClientRegistration, session *AuthorizationSession, provider Provider) (*oauth2.Token, error) {
	interval := time.Duration(session.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := session.Deadline()

	for {
		if !e.now().Before(deadline) {
			// Discard so the next invocation starts a fresh session
			// instead of replaying a dead device code.
			_ = e.store.Invalidate("authorization--" + provider.ID)
			return nil, fault.ProviderAuth("poll device token", "device authorization expired awaiting user approval")
		}
		token, err := e.requestToken(ctx, reg, session, provider)
		if err == nil {
			_ = e.store.Invalidate("authorization--" + provider.ID)
			return token, nil
		}
		switch {
		case errors.Is(err, errAuthorizationPending):
		case errors.Is(err, errSlowDown):
			interval += 5 * time.Second
		default:
			_ = e.store.Invalidate("authorization--" + provider.ID)
			return nil, err
		}
		if err := e.sleep(ctx, interval); err != nil {
			return nil, err
		}
	}
}

func (e *Exchanger) requestToken(ctx context.Context, reg *ClientRegistration, session *AuthorizationSession, provider Provider) (*oauth2.Token, error) {
	values := url.Values{}
	values.Set("grant_type", "urn:ietf:params:oauth:grant-type:device_code")
	values.Set("device_code", session.DeviceCode)
	values.Set("client_id", reg.ClientID)
	values.Set("client_secret", reg.ClientSecret)

	var resp tokenResponse
	if err := e.postForm(ctx, provider.TokenURL, values, &resp); err != nil {
		var provErr *apiError
		if errors.As(err, &provErr) {
			return nil, mapTokenError(provErr)
		}
		return nil, err
	}
	// Some providers report the polling state on a 200 body.
	if resp.Error != "" {
		return nil, mapTokenError(&apiError{Code: resp.Error, Desc: resp.ErrorDesc})
	}
	return &oauth2.Token{
		AccessToken: resp.AccessToken,
		TokenType:   resp.TokenType,
		Expiry:      e.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}

// asProviderAuth converts a provider error payload into the taxonomy for
// call sites where every provider-reported error is terminal.
func asProviderAuth(op string, err error) error {
	var provErr *apiError
	if errors.As(err, &provErr) {
		return fault.ProviderAuth(op, provErr.Error())
	}
	return err
}

func mapTokenError(provErr *apiError) error {
	switch provErr.Code {
	case "authorization_pending":
		return errAuthorizationPending
	case "slow_down":
		return errSlowDown
	case "access_denied":
		return fault.ProviderAuth("poll device token", "the user denied the authorization request")
	case "expired_token":
		return fault.ProviderAuth("poll device token", "device code expired before the user approved")
	default:
		return fault.ProviderAuth("poll device token", provErr.Error())
	}
}

func (e *Exchanger) postJSON(ctx context.Context, endpoint string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return e.roundTrip(req, out)
}

func (e *Exchanger) postForm(ctx context.Context, endpoint string, values url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.roundTrip(req, out)
}

// apiError is a provider error payload of the shape
// { "error": "...", "error_description": "..." }.
type apiError struct {
	Code string
	Desc string
}

func (e *apiError) Error() string {
	if e.Desc != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Desc)
	}
	return e.Code
}

// roundTrip issues the request and decodes the body into out. Provider
// error payloads ride on 4xx responses; they surface as *apiError so call
// sites can map the RFC 8628 error codes.
func (e *Exchanger) roundTrip(req *http.Request, out any) error {
	resp, err := e.http.Do(req)
	if err != nil {
		return fault.Transient("call provider", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fault.Transient("call provider", err)
	}
	if resp.StatusCode >= 400 {
		var payload struct {
			Error     string `json:"error"`
			ErrorDesc string `json:"error_description,omitempty"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			return &apiError{Code: payload.Error, Desc: payload.ErrorDesc}
		}
		if resp.StatusCode >= 500 {
			return fault.Transient("call provider", fmt.Errorf("provider returned %s", resp.Status))
		}
		return fault.ProviderAuth("call provider", fmt.Sprintf("provider returned %s: %s", resp.Status, strings.TrimSpace(string(body))))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse provider response: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
