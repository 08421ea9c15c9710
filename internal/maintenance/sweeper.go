package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/corralhq/corral/internal/services"
	"github.com/corralhq/corral/pkg/logger"
)

// Sweeper runs background housekeeping on a schedule. Its only job today is
// reaping lock leases whose holders crashed without releasing.
type Sweeper struct {
	cron  *cron.Cron
	locks *services.LockService
	log   *zap.Logger
}

// NewSweeper constructs the sweeper.
func NewSweeper(locks *services.LockService) (*Sweeper, error) {
	if locks == nil {
		return nil, errors.New("sweeper requires lock service")
	}
	return &Sweeper{
		cron:  cron.New(),
		locks: locks,
		log:   logger.WithModule("maintenance"),
	}, nil
}

// Start schedules the sweep and begins running it.
func (s *Sweeper) Start(interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	_, err := s.cron.AddFunc("@every "+interval.String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.runOnce(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info("maintenance sweeper started", zap.Duration("interval", interval))
	return nil
}

func (s *Sweeper) runOnce(ctx context.Context) {
	var errs error

	if _, err := s.locks.ReapExpired(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}

	if errs != nil {
		s.log.Error("maintenance sweep failed", zap.Error(errs))
	}
}

// Stop halts the schedule and waits for in-flight sweeps.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
