package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

func newTenantCommand(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenant namespaces",
		Long: `Manage tenant namespaces in the tenant data directory.

create and add-member drop the affected user's cached tenant resolution only
when the cache type is redis, which running servers share. With the memory
cache each server keeps its own resolutions, and a changed attribution shows
up there once the cached entry expires (tenancy.cache.ttl) or the server
restarts.`,
	}
	cmd.AddCommand(newTenantCreateCommand(logger))
	cmd.AddCommand(newTenantAddMemberCommand(logger))
	cmd.AddCommand(newTenantListCommand(logger))
	return cmd
}

func newTenantCreateCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "create <user-id>",
		Short: "Create the conventional tenant for a user, owned by that user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(logger)
			if err != nil {
				return err
			}
			stack, err := newTenantResolver(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer stack.Close()

			owner := notify.UserID(args[0])
			tenant, ok := stack.resolver.Candidate(owner)
			if !ok {
				return fmt.Errorf("user id %q cannot name a tenant", owner)
			}
			if err := stack.catalog.CreateTenant(cmd.Context(), tenant, owner); err != nil {
				return err
			}
			stack.invalidate(cmd.Context(), owner)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tenant)
			return err
		},
	}
}

func newTenantAddMemberCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "add-member <tenant> <user-id>",
		Short: "Attribute an existing tenant to another user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(logger)
			if err != nil {
				return err
			}
			stack, err := newTenantResolver(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer stack.Close()

			tenant, userID := notify.TenantID(args[0]), notify.UserID(args[1])
			if err := stack.catalog.AddMember(cmd.Context(), tenant, userID); err != nil {
				return err
			}
			stack.invalidate(cmd.Context(), userID)
			return nil
		},
	}
}

func newTenantListCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tenant namespaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(logger)
			if err != nil {
				return err
			}
			stack, err := newTenantResolver(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer stack.Close()

			tenants, err := stack.catalog.ListTenants(cmd.Context())
			if err != nil {
				return err
			}
			for _, t := range tenants {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), t); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
