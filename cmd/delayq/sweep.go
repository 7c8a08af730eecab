package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

func newSweepCmd(flags *appFlags) *cli.Command {
	return &cli.Command{
		Name:        "sweep",
		Usage:       "Purge every stored message past the visibility window plus the retention grace",
		Description: "Only meaningful against the redis backend; the memory backend starts empty each run.",
		Flags:       backendFlags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfigWithOverrides(c, flags.ConfigPath)
			if err != nil {
				return err
			}

			repo, err := buildRepository(ctx, cfg, log.Logger)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			removed, err := repo.RemoveExpiredMessages(ctx)
			if err != nil {
				return err
			}
			log.Info().Int("removed", removed).Msg("Sweep complete.")
			return nil
		},
	}
}

func newClearCmd(flags *appFlags) *cli.Command {
	return &cli.Command{
		Name:        "clear",
		Usage:       "Delete every key the redis backend has written",
		Description: "Removes all topic streams, consumed streams and the topic registry under the configured key prefix. Keys outside the prefix are never touched.",
		Flags:       backendFlags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfigWithOverrides(c, flags.ConfigPath)
			if err != nil {
				return err
			}

			repo, err := buildRepository(ctx, cfg, log.Logger)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			clearer, ok := repo.(interface{ ClearAll(context.Context) error })
			if !ok {
				return fmt.Errorf("backend %q has nothing to clear", cfg.Backend)
			}
			if err := clearer.ClearAll(ctx); err != nil {
				return err
			}
			log.Info().Msg("Cleared all stored data.")
			return nil
		},
	}
}
