package cmd

import (
	"context"

	"github.com/p0-security/p0cli-sub002/pkg/p0/api"
	"github.com/p0-security/p0cli-sub002/pkg/p0/device"
	"github.com/p0-security/p0cli-sub002/pkg/p0/grant"
)

// provisionSession runs the request-then-mint pipeline shared by the
// interactive commands: submit an interactive-session grant request, wait
// for approval under the short watchdog, then exchange the approval for a
// scoped provider credential.
func provisionSession(ctx context.Context, rt *runtimeState, arguments []string, providerName string) (*api.Grant, *device.Credential, error) {
	apiClient, err := buildClient(rt)
	if err != nil {
		return nil, nil, err
	}
	engine := grant.NewEngine(apiClient, rt.narrator(), rt.log)
	result, err := engine.Submit(ctx, api.GrantRequestSubmission{
		Arguments: arguments,
		Wait:      true,
	}, grant.SubmitOptions{
		Delivery:    grant.DeliveryPoll,
		Quiet:       rt.quiet,
		Interactive: true,
	})
	if err != nil {
		return nil, nil, err
	}

	provider, err := resolveProvider(rt.cfg, providerName)
	if err != nil {
		return nil, nil, err
	}
	scope, err := scopeFromGrant(result.Grant)
	if err != nil {
		return nil, nil, err
	}
	exchanger, err := buildExchanger(rt)
	if err != nil {
		return nil, nil, err
	}
	cred, err := exchanger.MintCredential(ctx, result.Grant, provider, scope)
	if err != nil {
		return nil, nil, err
	}
	return result.Grant, cred, nil
}
