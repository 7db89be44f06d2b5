package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/p0-security/p0cli-sub002/pkg/p0/api"
)

type RequestService struct {
	client *Client
}

func (c *Client) Requests() *RequestService {
	return &RequestService{client: c}
}

// Submit posts a new grant request. The backend either resolves it inline
// (response carries a terminal Grant) or assigns a request ID to continue
// waiting on.
func (s *RequestService) Submit(ctx context.Context, req api.GrantRequestSubmission) (*api.SubmitResponse, error) {
	var resp api.SubmitResponse
	if err := s.client.do(ctx, http.MethodPost, "api/requests", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Wait performs one blocking call that returns the terminal Grant for the
// request. The backend holds the call open until a decision is made or its
// server-side wait budget runs out; the caller bounds the client side via
// ctx.
func (s *RequestService) Wait(ctx context.Context, requestID string) (*api.Grant, error) {
	endpoint := fmt.Sprintf("api/requests/%s/wait", url.PathEscape(requestID))
	var grant api.Grant
	if err := s.client.do(ctx, http.MethodGet, endpoint, nil, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

// Get fetches the current state of a request without blocking.
func (s *RequestService) Get(ctx context.Context, requestID string) (*api.Grant, error) {
	endpoint := fmt.Sprintf("api/requests/%s", url.PathEscape(requestID))
	var grant api.Grant
	if err := s.client.do(ctx, http.MethodGet, endpoint, nil, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}
