package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p0-security/p0cli-sub002/pkg/p0/api"
)

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	c, err := New(
		WithServer(server.URL),
		WithOrg("acme"),
		WithToken("tok-1"),
		WithHTTPClient(server.Client()),
	)
	require.NoError(t, err)
	return c
}

func TestNewRequiresServer(t *testing.T) {
	_, err := New()
	assert.ErrorContains(t, err, "server is required")

	_, err = New(WithServer(""))
	assert.ErrorContains(t, err, "server is required")
}

func TestSubmitSendsHeadersAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/requests", r.URL.Path)
		assert.Equal(t, "acme", r.Header.Get("X-P0-Org"))
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body api.GrantRequestSubmission
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"ssh", "host-1"}, body.Arguments)

		_ = json.NewEncoder(w).Encode(api.SubmitResponse{RequestID: "req-1", Condition: api.ConditionOK})
	}))
	defer server.Close()

	c := newTestClient(t, server)
	resp, err := c.Requests().Submit(context.Background(), api.GrantRequestSubmission{
		Arguments: []string{"ssh", "host-1"},
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, api.ConditionOK, resp.Condition)
}

func TestWaitReturnsTerminalGrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/requests/req-1/wait", r.URL.Path)
		_ = json.NewEncoder(w).Encode(api.Grant{RequestID: "req-1", Status: api.StatusApproved})
	}))
	defer server.Close()

	c := newTestClient(t, server)
	grant, err := c.Requests().Wait(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusApproved, grant.Status)
}

func TestErrorResponseDecodedAsHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "not entitled"})
	}))
	defer server.Close()

	c := newTestClient(t, server)
	_, err := c.Requests().Get(context.Background(), "req-1")
	require.Error(t, err)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusForbidden, httpErr.StatusCode)
	assert.Equal(t, "not entitled", httpErr.Message)
}

func TestErrorResponseWithoutBodyFallsBackToStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := newTestClient(t, server)
	_, err := c.Requests().Get(context.Background(), "req-1")
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.NotEmpty(t, httpErr.Message)
}

func TestSubmitStreamDeliversAckThenTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("watch"))
		assert.Equal(t, "application/x-ndjson", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/x-ndjson")

		flusher := w.(http.Flusher)
		enc := json.NewEncoder(w)
		_ = enc.Encode(api.StreamEvent{Event: api.EventAccepted, RequestID: "req-1"})
		flusher.Flush()
		// keepalive
		_, _ = io.WriteString(w, "\n")
		flusher.Flush()
		_ = enc.Encode(api.StreamEvent{
			Event: api.EventResolved,
			Grant: &api.Grant{RequestID: "req-1", Status: api.StatusApproved},
		})
	}))
	defer server.Close()

	c := newTestClient(t, server)
	stream, err := c.Requests().SubmitStream(context.Background(), api.GrantRequestSubmission{Arguments: []string{"ssh"}})
	require.NoError(t, err)
	defer func() {
		_ = stream.Close()
	}()

	ack, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, api.EventAccepted, ack.Event)
	assert.Equal(t, "req-1", ack.RequestID)

	terminal, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, api.EventResolved, terminal.Event)
	require.NotNil(t, terminal.Grant)
	assert.Equal(t, api.StatusApproved, terminal.Grant.Status)

	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSubmitStreamErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "token expired"})
	}))
	defer server.Close()

	c := newTestClient(t, server)
	_, err := c.Requests().SubmitStream(context.Background(), api.GrantRequestSubmission{})
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
}

func TestEndpointURLPreservesBasePath(t *testing.T) {
	c, err := New(WithServer("https://p0.example.com/broker"))
	require.NoError(t, err)
	target, err := c.endpointURL("api/requests?watch=true")
	require.NoError(t, err)
	assert.Equal(t, "https://p0.example.com/broker/api/requests?watch=true", target)
}
