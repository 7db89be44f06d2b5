package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/p0-security/p0cli-sub002/pkg/p0/api"
)

// GrantStream is a single long-lived response channel delivering grant
// events as newline-delimited JSON. The server sends an acceptance event
// first and the terminal event last; blank lines are keepalives.
type GrantStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// SubmitStream posts a new grant request and keeps the response open as an
// event stream. The caller must Close the stream; cancelling ctx aborts a
// pending Next.
func (s *RequestService) SubmitStream(ctx context.Context, req api.GrantRequestSubmission) (*GrantStream, error) {
	httpReq, err := s.client.newRequest(ctx, http.MethodPost, "api/requests?watch=true", req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/x-ndjson")
	resp, err := s.client.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer func() {
			_ = resp.Body.Close()
		}()
		return nil, decodeError(resp)
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &GrantStream{body: resp.Body, scanner: scanner}, nil
}

// Next returns the next meaningful event. io.EOF signals the server closed
// the stream without a further event.
func (g *GrantStream) Next() (*api.StreamEvent, error) {
	for g.scanner.Scan() {
		line := g.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event api.StreamEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("malformed stream event: %w", err)
		}
		return &event, nil
	}
	if err := g.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (g *GrantStream) Close() error {
	return g.body.Close()
}
