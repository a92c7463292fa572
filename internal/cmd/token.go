package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/splitify/splitify/internal/auth"
	"github.com/splitify/splitify/internal/config"
	"github.com/splitify/splitify/internal/store"
)

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <username>",
		Short: "Issue a bearer token for an existing local user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(cmd, nil, defaultConfigPath))
			if err != nil {
				return fmt.Errorf("error: %w", err)
			}
			if cfg.Auth.Provider != "builtin" {
				return fmt.Errorf("tokens are issued by %s, not by splitify", cfg.Auth.Provider)
			}

			db, err := store.New(cfg.Storage)
			if err != nil {
				return fmt.Errorf("init storage: %w", err)
			}
			defer func() { _ = db.Close() }()

			svc := auth.NewService(db, cfg.Auth)
			if err := svc.Bootstrap(cmd.Context()); err != nil {
				return fmt.Errorf("bootstrap auth: %w", err)
			}
			token, err := svc.IssueToken(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("issue token for %q: %w", args[0], err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
