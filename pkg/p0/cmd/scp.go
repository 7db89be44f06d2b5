package cmd

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/p0-security/p0cli-sub002/pkg/p0/config"
	"github.com/p0-security/p0cli-sub002/pkg/p0/tunnel"
)

func NewSCPCommand() *cobra.Command {
	var (
		providerName string
		remotePort   int
	)

	cmd := &cobra.Command{
		Use:   "scp <source> <destination>",
		Short: "Copy a local file to a remote host over a granted tunnel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			src, err := tunnel.ParseDestination(args[0])
			if err != nil {
				return fmt.Errorf("invalid source: %w", err)
			}
			dst, err := tunnel.ParseDestination(args[1])
			if err != nil {
				return fmt.Errorf("invalid destination: %w", err)
			}
			if src.Remote() {
				return errors.New("remote-to-local copy is not supported")
			}
			if !dst.Remote() {
				return errors.New("destination must be remote (host:path or scp://host/path)")
			}

			localPort, err := freePort()
			if err != nil {
				return err
			}
			transferPort := remotePort
			if dst.Port != 0 {
				transferPort = dst.Port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			grantRecord, cred, err := provisionSession(ctx, rt, []string{"ssh", dst.Host}, providerName)
			if err != nil {
				return err
			}

			orch := tunnel.NewOrchestrator(rt.narrator(), rt.log)
			plan, err := orch.Plan(tunnel.ModeFileTransfer, grantRecord, cred, tunnel.Options{
				Target:   dst.Host,
				StateDir: config.DefaultStateDir(),
				Transfer: &tunnel.TransferOptions{
					LocalFile:  src.Path,
					RemotePath: dst.Path,
					LocalPort:  localPort,
					RemotePort: transferPort,
				},
			})
			if err != nil {
				return err
			}
			return orch.Run(ctx, plan)
		},
	}

	cmd.Flags().StringVar(&providerName, "provider", "", "Credential provider name from the config file")
	cmd.Flags().IntVar(&remotePort, "transfer-port", 7777, "Remote port the transfer listener binds")
	return cmd
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to find a free port: %w", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port, nil
}
