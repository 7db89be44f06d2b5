package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/p0-security/p0cli-sub002/pkg/p0/fault"
)

// ExitError carries the primary process's non-zero exit code as the
// orchestrator's result.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("session exited with code %d", e.Code)
}

// sideStartGrace is how long a side channel without a readiness port is
// watched for an early exit before the primary starts.
const sideStartGrace = 500 * time.Millisecond

// incompatibilityMarkers are stderr fragments that identify a session binary
// too old or too new for the arguments we build. Matching one stops any
// retry loop immediately instead of burning the retry budget.
var incompatibilityMarkers = []string{
	"unknown option",
	"invalid option",
	"unknown flag",
	"unsupported option",
}

// markerWriter tees child stderr while scanning it for incompatibility
// markers. The scan window is capped; markers appear in the first lines of
// output when they appear at all.
type markerWriter struct {
	next io.Writer

	mu  sync.Mutex
	buf strings.Builder
	hit string
}

func (w *markerWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	if w.buf.Len() < 64*1024 {
		w.buf.Write(p)
		lower := strings.ToLower(w.buf.String())
		for _, marker := range incompatibilityMarkers {
			if strings.Contains(lower, marker) {
				w.hit = marker
				break
			}
		}
	}
	w.mu.Unlock()
	return w.next.Write(p)
}

func (w *markerWriter) Match() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hit
}

type proc struct {
	label   string
	cmd     *exec.Cmd
	markers *markerWriter
	err     error
	done    chan struct{}
}

func startCommand(ctx context.Context, c *Command) (*proc, error) {
	cmd := exec.CommandContext(ctx, c.Argv.Path(), c.Argv.Args()...)
	cmd.Env = append(os.Environ(), c.Env...)
	// Graceful stop first, hard kill if the child ignores it.
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	stdout := c.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := c.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	markers := &markerWriter{next: stderr}
	if c.Interactive {
		cmd.Stdin = os.Stdin
	}
	cmd.Stdout = stdout
	cmd.Stderr = markers

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", c.Label, err)
	}
	p := &proc{label: c.Label, cmd: cmd, markers: markers, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *proc) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Run starts every process of the plan, carries the session to completion,
// and tears everything down. Whatever the outcome, all children are
// confirmed terminated and the session descriptor is removed before Run
// returns; cleanup failures are logged, never returned.
func (o *Orchestrator) Run(ctx context.Context, plan *Plan) error {
	defer func() {
		if plan.DescriptorPath == "" {
			return
		}
		if err := os.Remove(plan.DescriptorPath); err != nil && !os.IsNotExist(err) {
			o.log.Warn("failed to remove session descriptor", zap.String("path", plan.DescriptorPath), zap.Error(err))
		}
	}()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var (
		sides        []*proc
		shuttingDown atomic.Bool
	)
	stopAll := func() {
		shuttingDown.Store(true)
		cancelRun()
		for _, p := range sides {
			<-p.done
		}
	}

	// Side channels start first; a failure here aborts the whole plan.
	for _, c := range plan.Side {
		p, err := startCommand(runCtx, c)
		if err != nil {
			stopAll()
			return err
		}
		sides = append(sides, p)
		if c.readyPort > 0 {
			if err := waitForPort(runCtx, c.readyPort, 10*time.Second); err != nil {
				stopAll()
				return fmt.Errorf("%s never became ready: %w", p.label, err)
			}
			if p.exited() {
				stopAll()
				return fmt.Errorf("%s exited before the session started: %w", p.label, p.err)
			}
			continue
		}
		// No readiness port to watch: give a fast-failing child the chance
		// to surface before the primary is committed.
		select {
		case <-p.done:
			stopAll()
			return fmt.Errorf("%s exited before the session started: %w", p.label, p.err)
		case <-time.After(sideStartGrace):
		}
	}

	primary, err := startCommand(runCtx, plan.Primary)
	if err != nil {
		stopAll()
		return err
	}
	o.log.Debug("session started", zap.String("mode", string(plan.Mode)), zap.Int("sideChannels", len(sides)))

	// Once the primary is interactive, a dying side channel must not tear
	// the session down; it is logged and the session carries on.
	for _, p := range sides {
		go func(p *proc) {
			<-p.done
			if !shuttingDown.Load() {
				o.log.Warn("side channel exited during session", zap.String("label", p.label), zap.Error(p.err))
			}
		}(p)
	}

	var (
		transferErr  error
		transferDone chan struct{}
	)
	if plan.transfer != nil {
		transferDone = make(chan struct{})
		go func() {
			defer close(transferDone)
			transferErr = o.streamFile(runCtx, plan.transfer)
		}()
	}

	<-primary.done
	stopAll()
	if transferDone != nil {
		<-transferDone
	}

	if marker := primary.markers.Match(); marker != "" {
		return fault.ToolIncompatible("run session",
			fmt.Sprintf("%s reported %q; the installed tool does not support the required arguments", primary.label, marker))
	}
	if primary.err != nil {
		var exitErr *exec.ExitError
		if errors.As(primary.err, &exitErr) && exitErr.ExitCode() >= 0 {
			return &ExitError{Code: exitErr.ExitCode()}
		}
		return primary.err
	}
	if transferErr != nil {
		return transferErr
	}
	return nil
}

// streamFile is the local half of the transfer rendezvous: the first
// successful dial of the forwarded port is the readiness signal, and that
// same connection carries the payload. The remote listener is one-shot, so a
// throwaway readiness connection would consume it.
func (o *Orchestrator) streamFile(ctx context.Context, t *TransferOptions) error {
	file, err := os.Open(t.LocalFile)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	conn, err := dialTransferChannel(ctx, t.LocalPort, 30*time.Second)
	if err != nil {
		return fmt.Errorf("transfer channel never became reachable: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	n, err := io.Copy(conn, file)
	if err != nil {
		return fmt.Errorf("transfer interrupted after %d bytes: %w", n, err)
	}
	o.log.Debug("transfer complete", zap.Int64("bytes", n))
	o.narrator.Notef("Copied %d bytes to %s", n, t.RemotePath)
	return nil
}

// dialTransferChannel retries the forwarded port until it accepts or the
// timeout elapses, returning the accepted connection for the caller to use.
func dialTransferChannel(ctx context.Context, port int, timeout time.Duration) (net.Conn, error) {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			return conn, nil
		}
		timer := time.NewTimer(250 * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("port %d not reachable within %s", port, timeout)
}

// waitForPort polls until a loopback port accepts a connection or the
// timeout elapses.
func waitForPort(ctx context.Context, port int, timeout time.Duration) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		timer := time.NewTimer(250 * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("port %d not reachable within %s", port, timeout)
}
