package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const sweepTimeout = 30 * time.Second

// Sweeper periodically purges expired registry rows on a cron schedule.
type Sweeper struct {
	store Store
	cron  *cron.Cron
	log   zerolog.Logger
}

// NewSweeper creates a Sweeper running on schedule (standard cron spec or
// descriptor such as "@every 10m").
func NewSweeper(store Store, schedule string, log zerolog.Logger) (*Sweeper, error) {
	s := &Sweeper{
		store: store,
		cron:  cron.New(),
		log:   log.With().Str("component", "sweeper").Logger(),
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running the schedule in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running purge to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce purges expired rows immediately.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	return s.store.PurgeExpired(ctx)
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	start := time.Now()
	n, err := s.RunOnce(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("purge of expired connections failed")
		return
	}
	s.log.Debug().Int("purged", n).Dur("took", time.Since(start)).Msg("expired connections purged")
}
