package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/cobra"
)

func NewLoginCommand() *cobra.Command {
	var providerName string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate against the organization's identity provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			provider, err := resolveProvider(rt.cfg, providerName)
			if err != nil {
				return err
			}
			exchanger, err := buildExchanger(rt)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			reg, err := exchanger.Register(ctx, provider)
			if err != nil {
				return err
			}
			session, err := exchanger.Authorize(ctx, reg, provider)
			if err != nil {
				return err
			}
			token, err := exchanger.PollToken(ctx, reg, session, provider)
			if err != nil {
				return err
			}

			store, err := buildStore(rt)
			if err != nil {
				return err
			}
			stored := storedToken{
				AccessToken: token.AccessToken,
				TokenType:   token.TokenType,
				ExpiresAt:   token.Expiry,
			}
			data, err := json.Marshal(stored)
			if err != nil {
				return err
			}
			if err := store.Put(backendTokenKey, data); err != nil {
				return err
			}

			identity := tokenIdentity(token.AccessToken)
			if identity != "" {
				_, _ = fmt.Fprintf(rt.Writer(), "Logged in as %s\n", identity)
			} else {
				_, _ = fmt.Fprintln(rt.Writer(), "Logged in")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&providerName, "provider", "", "Provider name from the config file (defaults to the first)")
	return cmd
}

// tokenIdentity extracts a display identity from the token claims. The
// parse is unverified on purpose: validation is the backend's job, this is
// narration only.
func tokenIdentity(raw string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return ""
	}
	if email, ok := claims["email"].(string); ok && email != "" {
		return email
	}
	if sub, ok := claims["sub"].(string); ok {
		return sub
	}
	return ""
}
