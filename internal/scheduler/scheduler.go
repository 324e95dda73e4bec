package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mileusna/crontab"
	"github.com/rs/zerolog"
)

// JobTimeout bounds a single scheduled refresh.
const JobTimeout = 2 * time.Minute

// Refresher exchanges the stored refresh token for a new pair.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Scheduler refreshes the CRM token pair on a cron schedule.
type Scheduler struct {
	ctab      *crontab.Crontab
	refresher Refresher
	schedule  string
	log       zerolog.Logger
}

func New(refresher Refresher, schedule string, log zerolog.Logger) (*Scheduler, error) {
	if refresher == nil {
		return nil, errors.New("scheduler: refresher must not be nil")
	}
	if schedule == "" {
		return nil, errors.New("scheduler: schedule must not be empty")
	}
	return &Scheduler{
		ctab:      crontab.New(),
		refresher: refresher,
		schedule:  schedule,
		log:       log.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Run registers the refresh job and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.ctab.AddJob(s.schedule, s.refresh); err != nil {
		return fmt.Errorf("scheduler: add token refresh job %q: %w", s.schedule, err)
	}
	s.log.Info().Str("schedule", s.schedule).Msg("token refresh scheduled")

	<-ctx.Done()
	s.ctab.Shutdown()
	return nil
}

func (s *Scheduler) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), JobTimeout)
	defer cancel()
	if err := s.refresher.Refresh(ctx); err != nil {
		s.log.Error().Err(err).Msg("scheduled token refresh failed")
		return
	}
	s.log.Info().Msg("scheduled token refresh done")
}
