package tunnel

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"go.uber.org/zap"

	"github.com/p0-security/p0cli-sub002/pkg/p0/api"
	"github.com/p0-security/p0cli-sub002/pkg/p0/device"
	"github.com/p0-security/p0cli-sub002/pkg/p0/fault"
	"github.com/p0-security/p0cli-sub002/pkg/p0/output"
)

type Mode string

const (
	// ModeShell runs an interactive shell on the remote target.
	ModeShell Mode = "shell"
	// ModeCommand runs one non-interactive remote command.
	ModeCommand Mode = "command"
	// ModePortForward holds one or more forwards open with no remote
	// command.
	ModePortForward Mode = "port-forward"
	// ModeFileTransfer copies a local file to a remote path through a
	// forwarded port.
	ModeFileTransfer Mode = "file-transfer"
)

// Forward is one local-to-remote port forward.
type Forward struct {
	LocalPort  int
	RemoteHost string
	RemotePort int
}

func (f Forward) spec() string {
	host := f.RemoteHost
	if host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%d:%s:%d", f.LocalPort, host, f.RemotePort)
}

// TransferOptions describes a local-to-remote copy: the local source file,
// the remote destination path, and the forwarded port pair carrying the
// bytes.
type TransferOptions struct {
	LocalFile  string
	RemotePath string
	LocalPort  int
	RemotePort int
}

type Options struct {
	// SessionBinary is the interactive session/forwarding tool driven as a
	// subprocess. Defaults to "ssh".
	SessionBinary string
	// ReceiverBinary is the remote-side raw socket receiver invoked via
	// the session binary during file transfer. Defaults to "p0-receive".
	ReceiverBinary string
	// Target is the session binary's destination argument.
	Target string
	// Command is the remote command for ModeCommand.
	Command []string
	// Forwards are held open concurrently with the primary process.
	Forwards []Forward
	// Transfer configures ModeFileTransfer.
	Transfer *TransferOptions
	// StateDir holds session descriptor files.
	StateDir string
}

// Command is one child process of a plan.
type Command struct {
	Label       string
	Argv        *Argv
	Env         []string
	Interactive bool
	// Stdout and Stderr default to the parent's streams when nil.
	Stdout io.Writer
	Stderr io.Writer
	// ready, when non-zero, is a local port whose reachability signals
	// the process is serving.
	readyPort int
}

// Plan is the coordinated set of child processes realizing one session. It
// is bound to a single grant and credential set, never outlives the
// invocation that created it, and is never reused.
type Plan struct {
	Mode           Mode
	Primary        *Command
	Side           []*Command
	DescriptorPath string
	transfer       *TransferOptions
}

type Orchestrator struct {
	narrator output.Narrator
	log      *zap.Logger
}

func NewOrchestrator(narrator output.Narrator, log *zap.Logger) *Orchestrator {
	if narrator == nil {
		narrator = output.Quiet()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{narrator: narrator, log: log}
}

// Plan builds the child process set for one session over an approved grant.
// The session descriptor is written here, before any consumer could spawn;
// Run removes it on the way out whatever happens.
func (o *Orchestrator) Plan(mode Mode, grant *api.Grant, cred *device.Credential, opts Options) (*Plan, error) {
	if grant == nil || !grant.Status.ApprovedEquivalent() {
		return nil, fault.Denied("plan tunnel", "no approved grant backs this session")
	}
	if cred == nil {
		return nil, errors.New("credential is required")
	}
	if opts.Target == "" {
		return nil, errors.New("target is required")
	}
	binary := opts.SessionBinary
	if binary == "" {
		binary = "ssh"
	}
	receiver := opts.ReceiverBinary
	if receiver == "" {
		receiver = "p0-receive"
	}

	SweepStaleDescriptors(opts.StateDir, StaleDescriptorAge, o.log)
	descPath, err := WriteDescriptor(opts.StateDir, grant, cred)
	if err != nil {
		return nil, err
	}
	env := credentialEnv(cred)
	env = append(env, "P0_SESSION_DESCRIPTOR="+descPath)

	plan := &Plan{Mode: mode, DescriptorPath: descPath}
	forwards := opts.Forwards

	switch mode {
	case ModeShell:
		argv := NewArgv(binary).Flag("-tt").Arg(opts.Target)
		plan.Primary = &Command{Label: "session", Argv: argv, Env: env, Interactive: true}
	case ModeCommand:
		if len(opts.Command) == 0 {
			return nil, errors.New("remote command is required")
		}
		argv := NewArgv(binary).Arg(opts.Target).Flag("--").Append(opts.Command...)
		plan.Primary = &Command{Label: "session", Argv: argv, Env: env}
	case ModePortForward:
		if len(forwards) == 0 {
			return nil, errors.New("at least one forward is required")
		}
		// No remote command requested: the first forward rides on a
		// forwarding-only primary.
		argv := NewArgv(binary).Flag("-N").Option("-L", forwards[0].spec()).Arg(opts.Target)
		plan.Primary = &Command{Label: "forward", Argv: argv, Env: env, readyPort: forwards[0].LocalPort}
		forwards = forwards[1:]
	case ModeFileTransfer:
		if opts.Transfer == nil {
			return nil, errors.New("transfer options are required")
		}
		t := opts.Transfer
		forward := Forward{LocalPort: t.LocalPort, RemotePort: t.RemotePort}
		argv := NewArgv(binary).
			Option("-L", forward.spec()).
			Arg(opts.Target).
			Flag("--").
			Arg(receiver).
			Option("--listen", strconv.Itoa(t.RemotePort)).
			Option("--output", t.RemotePath)
		plan.Primary = &Command{Label: "receiver", Argv: argv, Env: env}
		plan.transfer = t
	default:
		return nil, fmt.Errorf("unknown tunnel mode %q", mode)
	}

	for i, f := range forwards {
		argv := NewArgv(binary).Flag("-N").Option("-L", f.spec()).Arg(opts.Target)
		plan.Side = append(plan.Side, &Command{
			Label:     fmt.Sprintf("forward-%d", i),
			Argv:      argv,
			Env:       env,
			readyPort: f.LocalPort,
		})
	}
	return plan, nil
}

// credentialEnv maps a provider credential onto the environment the session
// binary and its helpers expect.
func credentialEnv(cred *device.Credential) []string {
	var env []string
	if cred.AccessKeyID != "" {
		env = append(env,
			"AWS_ACCESS_KEY_ID="+cred.AccessKeyID,
			"AWS_SECRET_ACCESS_KEY="+cred.SecretAccessKey,
			"AWS_SESSION_TOKEN="+cred.SessionToken,
		)
	}
	if cred.Token != "" {
		env = append(env, "P0_ACCESS_TOKEN="+cred.Token)
	}
	return env
}
