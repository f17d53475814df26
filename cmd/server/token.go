package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	jwttoken "kycgate/internal/jwt_token"
	"kycgate/internal/platform/config"
)

var tokenTTL time.Duration

// tokenCmd mints a bearer token for local testing against a running gateway.
var tokenCmd = &cobra.Command{
	Use:   "token USER_ID",
	Short: "Issue an access token for a user (development only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(loadOptions()...)
		if err != nil {
			return err
		}
		svc, err := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer)
		if err != nil {
			return err
		}
		token, err := svc.IssueToken(args[0], tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
}
