package tunnel

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/p0-security/p0cli-sub002/pkg/p0/fault"
)

func shellCommand(label, script string) *Command {
	return &Command{Label: label, Argv: NewArgv("/bin/sh").Flag("-c").Arg(script)}
}

func tempDescriptor(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "x"+descriptorSuffix)
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	return path
}

func TestRunCleanExit(t *testing.T) {
	orch := NewOrchestrator(nil, zap.NewNop())
	plan := &Plan{
		Mode:           ModeCommand,
		Primary:        shellCommand("session", "exit 0"),
		DescriptorPath: tempDescriptor(t),
	}
	require.NoError(t, orch.Run(context.Background(), plan))
	_, err := os.Stat(plan.DescriptorPath)
	assert.True(t, os.IsNotExist(err), "descriptor must be removed on the way out")
}

func TestRunPropagatesExitCode(t *testing.T) {
	orch := NewOrchestrator(nil, zap.NewNop())
	plan := &Plan{
		Mode:           ModeCommand,
		Primary:        shellCommand("session", "exit 3"),
		DescriptorPath: tempDescriptor(t),
	}
	err := orch.Run(context.Background(), plan)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)

	_, statErr := os.Stat(plan.DescriptorPath)
	assert.True(t, os.IsNotExist(statErr), "descriptor must be removed even on failure")
}

func TestRunStopsSideChannelsWithPrimary(t *testing.T) {
	dir := t.TempDir()
	sentinel := filepath.Join(dir, "side-outlived")
	// the side channel would drop the sentinel if it survived past teardown
	side := shellCommand("forward-0", "trap 'exit 0' TERM; sleep 30; touch "+sentinel)
	plan := &Plan{
		Mode:           ModeCommand,
		Primary:        shellCommand("session", "sleep 0.2; exit 0"),
		Side:           []*Command{side},
		DescriptorPath: tempDescriptor(t),
	}

	orch := NewOrchestrator(nil, zap.NewNop())
	start := time.Now()
	require.NoError(t, orch.Run(context.Background(), plan))
	assert.Less(t, time.Since(start), 10*time.Second)

	_, err := os.Stat(sentinel)
	assert.True(t, os.IsNotExist(err))
}

func TestRunAbortsWhenSideChannelDiesEarly(t *testing.T) {
	plan := &Plan{
		Mode:           ModeCommand,
		Primary:        shellCommand("session", "sleep 5"),
		Side:           []*Command{shellCommand("forward-0", "exit 1")},
		DescriptorPath: tempDescriptor(t),
	}
	orch := NewOrchestrator(nil, zap.NewNop())
	start := time.Now()
	err := orch.Run(context.Background(), plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited before the session started")
	assert.Less(t, time.Since(start), 4*time.Second, "the primary must never start")
}

func TestRunForwardsCommandOutput(t *testing.T) {
	var stdout, stderr bytes.Buffer
	primary := shellCommand("session", "echo remote-command-output; echo remote-warning >&2")
	primary.Stdout = &stdout
	primary.Stderr = &stderr
	plan := &Plan{
		Mode:           ModeCommand,
		Primary:        primary,
		DescriptorPath: tempDescriptor(t),
	}
	orch := NewOrchestrator(nil, zap.NewNop())
	require.NoError(t, orch.Run(context.Background(), plan))
	assert.Equal(t, "remote-command-output\n", stdout.String())
	assert.Equal(t, "remote-warning\n", stderr.String())
}

func TestRunDetectsIncompatibleTool(t *testing.T) {
	plan := &Plan{
		Mode:           ModeShell,
		Primary:        shellCommand("session", "echo 'ssh: unknown option -- tt' >&2; exit 255"),
		DescriptorPath: tempDescriptor(t),
	}
	orch := NewOrchestrator(nil, zap.NewNop())
	err := orch.Run(context.Background(), plan)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindToolIncompatible), "got %v", err)
}

func TestRunContextCancelTerminatesSession(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	plan := &Plan{
		Mode:           ModeCommand,
		Primary:        shellCommand("session", "trap 'exit 0' TERM; sleep 30"),
		DescriptorPath: tempDescriptor(t),
	}
	orch := NewOrchestrator(nil, zap.NewNop())
	start := time.Now()
	_ = orch.Run(ctx, plan)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestStreamFileDeliversOnFirstAcceptedConnection(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() {
		_ = listener.Close()
	}()
	port := listener.Addr().(*net.TCPAddr).Port

	src := filepath.Join(t.TempDir(), "payload")
	require.NoError(t, os.WriteFile(src, []byte("hello across the tunnel"), 0o600))

	// One-shot listener, as the remote receiver is: a single Accept must
	// carry the whole payload.
	received := make(chan []byte, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			received <- nil
			return
		}
		defer func() {
			_ = conn.Close()
		}()
		data, _ := io.ReadAll(conn)
		received <- data
	}()

	orch := NewOrchestrator(nil, zap.NewNop())
	err = orch.streamFile(context.Background(), &TransferOptions{
		LocalFile:  src,
		RemotePath: "/var/tmp/payload",
		LocalPort:  port,
	})
	require.NoError(t, err)

	select {
	case data := <-received:
		assert.Equal(t, "hello across the tunnel", string(data))
	case <-time.After(5 * time.Second):
		t.Fatal("listener never received the payload")
	}
}

func TestStreamFileWaitsForLateListener(t *testing.T) {
	port := unusedPort(t)
	src := filepath.Join(t.TempDir(), "payload")
	require.NoError(t, os.WriteFile(src, []byte("late bind"), 0o600))

	received := make(chan []byte, 1)
	go func() {
		time.Sleep(400 * time.Millisecond)
		listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			received <- nil
			return
		}
		defer func() {
			_ = listener.Close()
		}()
		conn, err := listener.Accept()
		if err != nil {
			received <- nil
			return
		}
		defer func() {
			_ = conn.Close()
		}()
		data, _ := io.ReadAll(conn)
		received <- data
	}()

	orch := NewOrchestrator(nil, zap.NewNop())
	err := orch.streamFile(context.Background(), &TransferOptions{
		LocalFile:  src,
		RemotePath: "/var/tmp/payload",
		LocalPort:  port,
	})
	require.NoError(t, err)
	assert.Equal(t, "late bind", string(<-received))
}

func TestWaitForPortTimesOut(t *testing.T) {
	start := time.Now()
	err := waitForPort(context.Background(), unusedPort(t), 700*time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func unusedPort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return port
}
