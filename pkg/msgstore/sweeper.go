package msgstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSweepInterval is how often the Sweeper purges expired messages when
// no interval is configured.
const DefaultSweepInterval = time.Minute

// ExpiredMessageRemover is the slice of the repository the sweeper drives.
type ExpiredMessageRemover interface {
	RemoveExpiredMessages(ctx context.Context) (int, error)
}

// SweeperConfig holds configuration for a Sweeper.
type SweeperConfig struct {
	Interval time.Duration
}

// Sweeper periodically removes expired messages from a store. Expiry is
// otherwise passive; running a Sweeper is the only way entries are ever
// physically deleted.
type Sweeper struct {
	interval time.Duration
	store    ExpiredMessageRemover
	logger   zerolog.Logger

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// NewSweeper creates a new Sweeper driving the given store.
func NewSweeper(cfg SweeperConfig, store ExpiredMessageRemover, logger zerolog.Logger) (*Sweeper, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}

	return &Sweeper{
		interval: cfg.Interval,
		store:    store,
		logger:   logger.With().Str("service", "Sweeper").Logger(),
		stop:     make(chan struct{}),
	}, nil
}

// Start begins the periodic sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("Starting maintenance sweeper...")
	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping maintenance sweeper...")
	s.stopOnce.Do(func() { close(s.stop) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("Maintenance sweeper stopped.")
		return nil
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for sweeper to finish.")
		return ctx.Err()
	}
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Sweeper shutting down due to context cancellation.")
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	removed, err := s.store.RemoveExpiredMessages(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to remove expired messages.")
		return
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Removed expired messages.")
	}
}
