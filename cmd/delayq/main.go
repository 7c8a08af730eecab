// Command delayq is the driver around the delayed-visibility message
// broker. Its demo subcommand wires a repository, a broker, producers and
// consumers together, publishes to the stock topics, waits out the
// visibility window and shows the reconciled listings.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/pinkmango/delayq/pkg/msgstore"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	short := commit
	if len(commit) > 7 {
		short = commit[:7]
	}
	return fmt.Sprintf("%s (%s) %s", version, short, date)
}

type appFlags struct {
	LogLevel   string
	ConfigPath string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flags := &appFlags{}

	app := &cli.Command{
		Name:    "delayq",
		Usage:   "Topic-based pub/sub broker with delayed message visibility",
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error, fatal, panic)",
				Sources:     cli.EnvVars("DELAYQ_LOG_LEVEL"),
				Value:       "info",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("DELAYQ_CONFIG"),
				Destination: &flags.ConfigPath,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if err := setupLogger(flags.LogLevel); err != nil {
				return ctx, err
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			newDemoCmd(flags),
			newSweepCmd(flags),
			newClearCmd(flags),
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Error().Err(err).Msg("Command failed.")
		os.Exit(1)
	}
}

func setupLogger(level string) error {
	parsedLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(parsedLevel)
	return nil
}

// buildRepository constructs the configured storage backend. The caller owns
// the returned repository and must close it.
func buildRepository(ctx context.Context, cfg *Config, logger zerolog.Logger) (msgstore.MessageRepository, error) {
	switch cfg.Backend {
	case BackendRedis:
		return msgstore.NewRedisStore(ctx, msgstore.RedisConfig{
			Addr:             cfg.Redis.Addr,
			Password:         cfg.Redis.Password,
			DB:               cfg.Redis.DB,
			KeyPrefix:        cfg.Redis.KeyPrefix,
			VisibilityWindow: cfg.VisibilityWindow.Std(),
			RetentionGrace:   cfg.RetentionGrace.Std(),
		}, logger)
	case BackendMemory:
		return msgstore.NewMemoryStore(msgstore.MemoryConfig{
			VisibilityWindow: cfg.VisibilityWindow.Std(),
			RetentionGrace:   cfg.RetentionGrace.Std(),
		}), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// loadConfigWithOverrides loads the config file and lets explicitly set
// command flags win over it.
func loadConfigWithOverrides(c *cli.Command, configPath string) (*Config, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if c.IsSet("backend") {
		cfg.Backend = c.String("backend")
	}
	if c.IsSet("redis-addr") {
		cfg.Redis.Addr = c.String("redis-addr")
	}
	if c.IsSet("redis-db") {
		cfg.Redis.DB = int(c.Int("redis-db"))
	}
	if c.IsSet("visibility-window") {
		cfg.VisibilityWindow = Duration(c.Duration("visibility-window"))
	}
	if c.IsSet("sweep-interval") {
		cfg.SweepInterval = Duration(c.Duration("sweep-interval"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// backendFlags are shared by every subcommand that opens a repository.
func backendFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "backend",
			Usage:   "storage backend (memory or redis)",
			Sources: cli.EnvVars("DELAYQ_BACKEND"),
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "redis address",
			Sources: cli.EnvVars("DELAYQ_REDIS_ADDR"),
		},
		&cli.IntFlag{
			Name:    "redis-db",
			Usage:   "redis database number",
			Sources: cli.EnvVars("DELAYQ_REDIS_DB"),
		},
		&cli.DurationFlag{
			Name:    "visibility-window",
			Usage:   "how long a message stays pending before it can be consumed",
			Sources: cli.EnvVars("DELAYQ_VISIBILITY_WINDOW"),
		},
	}
}
