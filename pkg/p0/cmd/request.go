package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/p0-security/p0cli-sub002/pkg/p0/api"
	"github.com/p0-security/p0cli-sub002/pkg/p0/grant"
	"github.com/p0-security/p0cli-sub002/pkg/p0/output"
)

func NewRequestCommand() *cobra.Command {
	var (
		stream  bool
		noWait  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "request <resource arguments...>",
		Short: "Request access to a resource",
		Long: "Submits an access request described by opaque resource arguments " +
			"and waits for a decision, via polling or a streamed event channel.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := buildClient(rt)
			if err != nil {
				return err
			}
			engine := grant.NewEngine(apiClient, rt.narrator(), rt.log)

			delivery := grant.DeliveryPoll
			if stream {
				delivery = grant.DeliveryStream
			}
			result, err := engine.Submit(cmd.Context(), api.GrantRequestSubmission{
				Arguments: args,
				Wait:      !noWait,
			}, grant.SubmitOptions{
				Delivery: delivery,
				Quiet:    rt.quiet,
				Timeout:  timeout,
			})
			if err != nil {
				return err
			}
			return writeGrantResult(rt, result)
		},
	}

	cmd.Flags().BoolVar(&stream, "stream", false, "Use streamed delivery instead of polling")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Submit without waiting for a decision")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Client-side wait deadline (default 5m)")
	return cmd
}

func writeGrantResult(rt *runtimeState, result *grant.Result) error {
	format, err := output.ParseFormat(rt.OutputFormat())
	if err != nil {
		return err
	}
	if format != output.FormatText {
		return output.WriteObject(rt.Writer(), format, result.Grant)
	}
	if !result.Grant.Status.Terminal() {
		_, _ = fmt.Fprintf(rt.Writer(), "Request %s submitted (status %s)\n", result.Grant.RequestID, result.Grant.Status)
		return nil
	}
	if result.Preexisting {
		_, _ = fmt.Fprintf(rt.Writer(), "Access already granted (request %s)\n", result.Grant.RequestID)
		return nil
	}
	_, _ = fmt.Fprintf(rt.Writer(), "Access granted (request %s)\n", result.Grant.RequestID)
	return nil
}
