package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const jobTimeout = 30 * time.Second

// Unblocker releases account lockouts that have run out
type Unblocker interface {
	ReleaseExpiredBlocks(ctx context.Context) (int64, error)
}

// Scheduler runs periodic maintenance jobs
type Scheduler struct {
	cron      *cron.Cron
	unblocker Unblocker
	log       *logrus.Logger
}

// NewScheduler registers the unblock job under the given cron spec
func NewScheduler(spec string, unblocker Unblocker, log *logrus.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		unblocker: unblocker,
		log:       log,
	}
	if _, err := s.cron.AddFunc(spec, s.releaseExpiredBlocks); err != nil {
		return nil, fmt.Errorf("invalid unblock schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins running jobs in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Scheduler started")
}

// Stop halts the scheduler and waits for a running job to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("Scheduler stopped")
}

func (s *Scheduler) releaseExpiredBlocks() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if _, err := s.unblocker.ReleaseExpiredBlocks(ctx); err != nil {
		s.log.Errorf("Failed to release expired blocks: %v", err)
	}
}
