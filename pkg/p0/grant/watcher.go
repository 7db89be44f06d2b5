package grant

import (
	"context"
	"errors"
	"io"
	"time"

	"golang.org/x/time/rate"

	"github.com/p0-security/p0cli-sub002/pkg/p0/api"
	"github.com/p0-security/p0cli-sub002/pkg/p0/client"
)

// Watcher abstracts the two delivery transports behind a single "await next
// grant state" contract. Close releases the underlying subscription or
// connection; it is safe to call after a failed Next.
type Watcher interface {
	Next(ctx context.Context) (*api.Grant, error)
	Close() error
}

// pollWatcher re-issues blocking wait calls until the backend reports a
// terminal state. The limiter keeps re-polls from hammering the backend when
// the server-side wait budget is short.
type pollWatcher struct {
	requests  *client.RequestService
	requestID string
	limiter   *rate.Limiter
}

func newPollWatcher(requests *client.RequestService, requestID string) *pollWatcher {
	return &pollWatcher{
		requests:  requests,
		requestID: requestID,
		limiter:   rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
}

func (w *pollWatcher) Next(ctx context.Context) (*api.Grant, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return w.requests.Wait(ctx, w.requestID)
}

func (w *pollWatcher) Close() error { return nil }

// streamWatcher adapts the ndjson event stream. The acceptance event has
// already been consumed by the engine; every subsequent Next yields the
// grant carried by a resolved event.
type streamWatcher struct {
	stream *client.GrantStream
}

var errStreamClosed = errors.New("grant stream closed before a decision")

func (w *streamWatcher) nextEvent(ctx context.Context) (*api.StreamEvent, error) {
	type result struct {
		event *api.StreamEvent
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		event, err := w.stream.Next()
		ch <- result{event: event, err: err}
	}()
	select {
	case <-ctx.Done():
		// Unblock the reader; the in-flight Next fails once the body is
		// closed.
		_ = w.stream.Close()
		return nil, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			if errors.Is(res.err, io.EOF) {
				return nil, errStreamClosed
			}
			return nil, res.err
		}
		return res.event, nil
	}
}

func (w *streamWatcher) Next(ctx context.Context) (*api.Grant, error) {
	event, err := w.nextEvent(ctx)
	if err != nil {
		return nil, err
	}
	if event.Error != "" {
		return nil, errors.New(event.Error)
	}
	if event.Grant == nil {
		return nil, errStreamClosed
	}
	return event.Grant, nil
}

func (w *streamWatcher) Close() error {
	return w.stream.Close()
}
