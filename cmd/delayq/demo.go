package main

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/pinkmango/delayq/pkg/broker"
	"github.com/pinkmango/delayq/pkg/messages"
	"github.com/pinkmango/delayq/pkg/msgstore"
)

func newDemoCmd(flags *appFlags) *cli.Command {
	return &cli.Command{
		Name:  "demo",
		Usage: "Publish to the configured topics, wait out the visibility window, reconcile and list",
		Flags: append(backendFlags(),
			&cli.DurationFlag{
				Name:    "sweep-interval",
				Usage:   "how often the background sweeper purges expired messages",
				Sources: cli.EnvVars("DELAYQ_SWEEP_INTERVAL"),
			},
			&cli.BoolFlag{
				Name:  "reset",
				Usage: "clear data from previous runs before starting (redis backend only)",
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfigWithOverrides(c, flags.ConfigPath)
			if err != nil {
				return err
			}
			return runDemo(ctx, cfg, c.Bool("reset"))
		},
	}
}

func runDemo(ctx context.Context, cfg *Config, reset bool) error {
	logger := log.With().Str("component", "demo").Logger()

	repo, err := buildRepository(ctx, cfg, log.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close repository.")
		}
	}()

	if reset {
		if clearer, ok := repo.(interface{ ClearAll(context.Context) error }); ok {
			if err := clearer.ClearAll(ctx); err != nil {
				return fmt.Errorf("failed to clear previous data: %w", err)
			}
			logger.Info().Msg("Cleared data from previous runs.")
		}
	}

	b, err := broker.New(repo, log.Logger)
	if err != nil {
		return err
	}

	// One logging consumer per topic, named after it.
	for _, name := range cfg.Topics {
		if _, err := b.CreateTopic(name); err != nil {
			return err
		}
		consumerName := path.Base(name) + "-consumer"
		consumer, err := messages.NewConsumer(consumerName, func(_ context.Context, m *messages.Message) (bool, error) {
			logger.Info().
				Str("consumer", consumerName).
				Str("producer", m.Producer().Name()).
				Str("content", m.Content()).
				Msg("Message received.")
			return true, nil
		})
		if err != nil {
			return err
		}
		if err := b.Subscribe(name, consumer); err != nil {
			return err
		}
	}

	producer, err := broker.NewProducer("demo-producer", b, log.Logger)
	if err != nil {
		return err
	}
	for _, name := range cfg.Topics {
		if err := producer.RegisterTopic(name); err != nil {
			return err
		}
	}

	// One broadcast to every registered topic, then a targeted message each.
	if err := producer.SendMessage(ctx, "system online"); err != nil {
		return err
	}
	for i, name := range cfg.Topics {
		if _, err := producer.Produce(ctx, fmt.Sprintf("order #%d", i+1), name); err != nil {
			return err
		}
	}

	if err := listTopics(ctx, b, cfg.Topics, logger); err != nil {
		return err
	}

	sweeper, err := msgstore.NewSweeper(msgstore.SweeperConfig{Interval: cfg.SweepInterval.Std()}, repo, log.Logger)
	if err != nil {
		return err
	}
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sweeper.Stop(stopCtx); err != nil {
			logger.Warn().Err(err).Msg("Failed to stop sweeper.")
		}
	}()

	wait := cfg.VisibilityWindow.Std() + time.Second
	logger.Info().Dur("wait", wait).Msg("Waiting for the visibility window to elapse...")
	select {
	case <-time.After(wait):
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, name := range cfg.Topics {
		topic, err := b.Topic(name)
		if err != nil {
			return err
		}
		if err := topic.Reconcile(ctx); err != nil {
			return err
		}
	}
	logger.Info().Msg("Reconciliation complete.")

	return listTopics(ctx, b, cfg.Topics, logger)
}

func listTopics(ctx context.Context, b *broker.Broker, topics []string, logger zerolog.Logger) error {
	for _, name := range topics {
		topic, err := b.Topic(name)
		if err != nil {
			return err
		}
		pending, err := topic.NotConsumedMessages(ctx)
		if err != nil {
			return err
		}
		consumed, err := topic.ConsumedMessages(ctx)
		if err != nil {
			return err
		}
		logger.Info().Str("topic", name).Int("pending", len(pending)).Int("consumed", len(consumed)).Msg("Topic state.")
		for _, m := range pending {
			logger.Info().
				Str("topic", name).
				Str("msg_id", m.ID().String()).
				Str("producer", m.Producer().Name()).
				Str("content", m.Content()).
				Msg("Pending message.")
		}
		for _, m := range consumed {
			logger.Info().
				Str("topic", name).
				Str("msg_id", m.ID().String()).
				Str("producer", m.Producer().Name()).
				Str("content", m.Content()).
				Msg("Consumed message.")
		}
	}
	return nil
}
