package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/p0-security/p0cli-sub002/pkg/p0/config"
	"github.com/p0-security/p0cli-sub002/pkg/p0/output"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage p0 configuration",
	}
	cmd.AddCommand(newConfigInitCommand(), newConfigShowCommand())
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		org    string
		server string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write an initial config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			cfg := config.DefaultConfig()
			cfg.Org = org
			cfg.Server = server
			if err := config.Save(rt.configPath, &cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Wrote %s\n", rt.configPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&org, "org", "", "Organization identifier")
	cmd.Flags().StringVar(&server, "server", "", "Backend server URL")
	_ = cmd.MarkFlagRequired("server")
	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the active configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			return output.WriteObject(rt.Writer(), output.FormatYAML, rt.cfg)
		},
	}
}
