package grant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/p0-security/p0cli-sub002/pkg/p0/api"
	"github.com/p0-security/p0cli-sub002/pkg/p0/client"
	"github.com/p0-security/p0cli-sub002/pkg/p0/fault"
	"github.com/p0-security/p0cli-sub002/pkg/p0/output"
)

type DeliveryMode string

const (
	DeliveryPoll   DeliveryMode = "poll"
	DeliveryStream DeliveryMode = "stream"
)

const (
	// DefaultTimeout bounds a generic request's wait for a decision.
	DefaultTimeout = 5 * time.Minute
	// InteractiveTimeout bounds grants backing an interactive session,
	// where a user is sitting at the terminal.
	InteractiveTimeout = 60 * time.Second
)

type SubmitOptions struct {
	Delivery DeliveryMode
	// Quiet suppresses progress narration; the caller composes its own.
	Quiet bool
	// Interactive selects the shorter watchdog default.
	Interactive bool
	// Timeout overrides the watchdog when non-zero.
	Timeout time.Duration
}

func (o SubmitOptions) deadline() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	if o.Interactive {
		return InteractiveTimeout
	}
	return DefaultTimeout
}

// Result is the outcome of a successful submission. Preexisting is true when
// the backend reported the grant already existed for this principal and
// resource rather than minting a new approval.
type Result struct {
	Grant       *api.Grant
	Preexisting bool
}

type Engine struct {
	requests *client.RequestService
	narrator output.Narrator
	log      *zap.Logger
}

func NewEngine(c *client.Client, narrator output.Narrator, log *zap.Logger) *Engine {
	if narrator == nil {
		narrator = output.Quiet()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{requests: c.Requests(), narrator: narrator, log: log}
}

// Submit runs one request through the lifecycle and returns the approved
// grant. Denials, backend errors, and watchdog expiry are terminal and never
// retried here: re-submitting would duplicate the request.
func (e *Engine) Submit(ctx context.Context, req api.GrantRequestSubmission, opts SubmitOptions) (*Result, error) {
	narrator := e.narrator
	if opts.Quiet {
		narrator = output.Quiet()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}

	watchCtx, cancel := context.WithTimeout(ctx, opts.deadline())
	defer cancel()

	if opts.Delivery == DeliveryStream {
		return e.submitStream(watchCtx, req, narrator)
	}
	return e.submitPoll(ctx, watchCtx, req, narrator)
}

// submitPoll makes one submission call and, unless the response already
// carries a terminal grant, one or more blocking wait calls bounded by
// watchCtx. The submission itself runs under the caller's context so a tight
// watchdog cannot clip it mid-flight.
func (e *Engine) submitPoll(ctx, watchCtx context.Context, req api.GrantRequestSubmission, narrator output.Narrator) (*Result, error) {
	resp, err := e.requests.Submit(ctx, req)
	if err != nil {
		return nil, e.translate("submit request", err, watchCtx)
	}
	if resp.Condition == api.ConditionAccessExists {
		return e.preexisting(ctx, resp)
	}
	if resp.Grant != nil && resp.Grant.Status.Terminal() {
		return e.interpret(resp.Grant, false)
	}
	if resp.RequestID == "" {
		return nil, fault.New(fault.KindBackend, "submit request", "backend returned neither a grant nor a request id")
	}
	e.log.Debug("request accepted", zap.String("requestId", resp.RequestID))
	if !req.Wait {
		return acknowledged(resp.Grant, resp.RequestID), nil
	}
	narrator.Notef("Request %s submitted, waiting for approval...", resp.RequestID)

	watcher := newPollWatcher(e.requests, resp.RequestID)
	defer func() {
		_ = watcher.Close()
	}()
	return e.await(watchCtx, watcher, narrator)
}

// submitStream keeps a single response channel open for the whole lifecycle:
// the first meaningful event acknowledges acceptance, the second is the
// terminal grant. A channel that closes early signals a backend error.
func (e *Engine) submitStream(watchCtx context.Context, req api.GrantRequestSubmission, narrator output.Narrator) (*Result, error) {
	stream, err := e.requests.SubmitStream(watchCtx, req)
	if err != nil {
		return nil, e.translate("submit request", err, watchCtx)
	}
	watcher := &streamWatcher{stream: stream}
	defer func() {
		_ = watcher.Close()
	}()

	ack, err := watcher.nextEvent(watchCtx)
	if err != nil {
		return nil, e.translate("await acknowledgement", err, watchCtx)
	}
	if ack.Error != "" {
		return nil, fault.New(fault.KindBackend, "await acknowledgement", ack.Error)
	}
	if ack.Condition == api.ConditionAccessExists && ack.Grant != nil {
		return &Result{Grant: ack.Grant, Preexisting: true}, nil
	}
	// An immediately-resolved request may skip the acceptance event.
	if ack.Event == api.EventResolved && ack.Grant != nil {
		return e.interpret(ack.Grant, false)
	}
	e.log.Debug("request accepted", zap.String("requestId", ack.RequestID))
	if !req.Wait {
		return acknowledged(ack.Grant, ack.RequestID), nil
	}
	narrator.Notef("Request %s submitted, waiting for approval...", ack.RequestID)

	return e.await(watchCtx, watcher, narrator)
}

func (e *Engine) await(watchCtx context.Context, watcher Watcher, narrator output.Narrator) (*Result, error) {
	for {
		grant, err := watcher.Next(watchCtx)
		if err != nil {
			return nil, e.translate("await decision", err, watchCtx)
		}
		if grant.Status.Terminal() {
			return e.interpret(grant, false)
		}
		e.log.Debug("request still pending", zap.String("status", string(grant.Status)))
	}
}

// acknowledged is the fire-and-forget result for a submission that declined
// to wait: the accepted request in its current, non-terminal state.
func acknowledged(grant *api.Grant, requestID string) *Result {
	if grant == nil {
		grant = &api.Grant{RequestID: requestID, Status: api.StatusSubmitted}
	}
	return &Result{Grant: grant}
}

// preexisting resolves an ACCESS_EXISTS condition to a success result,
// fetching the standing grant when the submit response did not inline it.
func (e *Engine) preexisting(ctx context.Context, resp *api.SubmitResponse) (*Result, error) {
	grant := resp.Grant
	if grant == nil {
		if resp.RequestID == "" {
			return nil, fault.New(fault.KindBackend, "fetch standing grant", "backend reported existing access without a grant or request id")
		}
		fetched, err := e.requests.Get(ctx, resp.RequestID)
		if err != nil {
			return nil, e.translate("fetch standing grant", err, ctx)
		}
		grant = fetched
	}
	return &Result{Grant: grant, Preexisting: true}, nil
}

func (e *Engine) interpret(grant *api.Grant, preexisting bool) (*Result, error) {
	switch grant.Status {
	case api.StatusApproved:
		return &Result{Grant: grant, Preexisting: preexisting}, nil
	case api.StatusDenied:
		msg := grant.Message
		if msg == "" {
			msg = "access request denied"
		}
		return nil, fault.Denied("request decision", msg)
	case api.StatusTimedOut:
		return nil, fault.Timeout("request decision", "request expired before a decision was made")
	case api.StatusErrored:
		msg := grant.Message
		if msg == "" {
			msg = "backend reported an error processing the request"
		}
		return nil, fault.New(fault.KindBackend, "request decision", msg)
	default:
		return nil, fault.New(fault.KindBackend, "request decision", fmt.Sprintf("unexpected non-terminal status %q", grant.Status))
	}
}

// translate maps transport-level failures to the error taxonomy. Watchdog
// expiry always wins over whatever shape the aborted call surfaced it as.
func (e *Engine) translate(op string, err error, watchCtx context.Context) error {
	if errors.Is(watchCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fault.Timeout(op, "timed out waiting for the backend to resolve the request")
	}
	var httpErr *client.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusForbidden || httpErr.StatusCode == http.StatusUnauthorized {
			return fault.Denied(op, httpErr.Message)
		}
		return fault.Backend(op, httpErr)
	}
	if errors.Is(err, errStreamClosed) {
		return fault.New(fault.KindBackend, op, errStreamClosed.Error())
	}
	return fault.Backend(op, err)
}
