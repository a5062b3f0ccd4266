package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinywideclouds/go-notification-service/internal/auth"
	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

type tokenOptions struct {
	Email   string
	TTL     time.Duration
	Service bool
}

func newTokenCommand(logger *slog.Logger) *cobra.Command {
	opts := &tokenOptions{}

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a signed credential for local testing",
		Long: `Issue a signed credential for local testing.

With --service the argument names a backend caller and the token is signed
with the service secret, for use against the emit routes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(logger)
			if err != nil {
				return err
			}
			var token string
			if opts.Service {
				if cfg.Auth.ServiceSecret == "" {
					return errors.New("SERVICE_JWT_SECRET is not set in config or env var")
				}
				token, err = auth.IssueServiceToken(cfg.Auth.ServiceSecret, cfg.Auth.Issuer, args[0], opts.TTL)
			} else {
				token, err = auth.IssueToken(cfg.Auth.JWTSecret, cfg.Auth.Issuer, notify.UserID(args[0]), opts.Email, opts.TTL)
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&opts.Email, "email", "", "email claim")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", time.Hour, "token lifetime")
	cmd.Flags().BoolVar(&opts.Service, "service", false, "issue a backend service credential")
	return cmd
}
