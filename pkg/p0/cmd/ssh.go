package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/p0-security/p0cli-sub002/pkg/p0/config"
	"github.com/p0-security/p0cli-sub002/pkg/p0/tunnel"
)

func NewSSHCommand() *cobra.Command {
	var (
		providerName string
		forwardSpecs []string
	)

	cmd := &cobra.Command{
		Use:   "ssh <target> [-- command...]",
		Short: "Open a shell or run a command on a remote host over a granted tunnel",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			target := args[0]
			var remoteCommand []string
			if dash := cmd.ArgsLenAtDash(); dash >= 0 && dash < len(args) {
				target = args[0]
				remoteCommand = args[dash:]
			} else if len(args) > 1 {
				remoteCommand = args[1:]
			}

			forwards, err := parseForwards(forwardSpecs)
			if err != nil {
				return err
			}

			// Interrupts must reach the children before the parent exits.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			grantRecord, cred, err := provisionSession(ctx, rt, append([]string{"ssh"}, args...), providerName)
			if err != nil {
				return err
			}

			mode := tunnel.ModeShell
			if len(remoteCommand) > 0 {
				mode = tunnel.ModeCommand
			}
			orch := tunnel.NewOrchestrator(rt.narrator(), rt.log)
			plan, err := orch.Plan(mode, grantRecord, cred, tunnel.Options{
				Target:   target,
				Command:  remoteCommand,
				Forwards: forwards,
				StateDir: config.DefaultStateDir(),
			})
			if err != nil {
				return err
			}
			return orch.Run(ctx, plan)
		},
	}

	cmd.Flags().StringVar(&providerName, "provider", "", "Credential provider name from the config file")
	cmd.Flags().StringArrayVarP(&forwardSpecs, "forward", "L", nil,
		"Additional port forward as local:remotePort or local:remoteHost:remotePort (repeatable)")
	return cmd
}

func parseForwards(specs []string) ([]tunnel.Forward, error) {
	var forwards []tunnel.Forward
	for _, spec := range specs {
		forward, err := parseForward(spec)
		if err != nil {
			return nil, err
		}
		forwards = append(forwards, forward)
	}
	return forwards, nil
}

func parseForward(spec string) (tunnel.Forward, error) {
	parts := strings.Split(spec, ":")
	switch len(parts) {
	case 2:
		local, err1 := strconv.Atoi(parts[0])
		remote, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return tunnel.Forward{}, fmt.Errorf("invalid forward spec %q", spec)
		}
		return tunnel.Forward{LocalPort: local, RemotePort: remote}, nil
	case 3:
		local, err1 := strconv.Atoi(parts[0])
		remote, err2 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil {
			return tunnel.Forward{}, fmt.Errorf("invalid forward spec %q", spec)
		}
		return tunnel.Forward{LocalPort: local, RemoteHost: parts[1], RemotePort: remote}, nil
	default:
		return tunnel.Forward{}, fmt.Errorf("invalid forward spec %q", spec)
	}
}
