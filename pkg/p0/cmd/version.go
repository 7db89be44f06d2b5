package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/p0-security/p0cli-sub002/pkg/p0/output"
	"github.com/p0-security/p0cli-sub002/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show p0 version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			info := version.GetBuildInfo()
			format, err := output.ParseFormat(rt.OutputFormat())
			if err != nil {
				return err
			}
			if format != output.FormatText {
				return output.WriteObject(rt.Writer(), format, info)
			}
			_, _ = fmt.Fprintf(rt.Writer(), "p0 %s (commit: %s, built: %s)\n", info.Version, info.GitCommit, info.BuildDate)
			return nil
		},
	}
}
