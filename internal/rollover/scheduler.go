package rollover

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/router-for-me/supporthours/internal/settings"
	log "github.com/sirupsen/logrus"
)

// Scheduler runs the rollover sweep and the expiring-soon notifier on a cron schedule.
type Scheduler struct {
	job  *Job
	spec string
	cron *cron.Cron
	now  func() time.Time
}

// NewScheduler prepares a scheduler; spec is parsed by Start. An empty spec uses the default.
func NewScheduler(job *Job, spec string) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("rollover: nil job")
	}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = settings.DefaultRolloverCron
	}
	logger := cron.PrintfLogger(log.StandardLogger())
	s := &Scheduler{
		job:  job,
		spec: spec,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		now: job.engine.Now,
	}
	return s, nil
}

// Start schedules the sweep, runs one immediately in the background and stops the
// cron loop when ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, errAdd := s.cron.AddFunc(s.spec, func() { s.Tick(ctx) }); errAdd != nil {
		return errAdd
	}
	s.cron.Start()
	go s.Tick(ctx)
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	log.Infof("rollover scheduler started (spec=%s)", s.spec)
	return nil
}

// Stop stops scheduling and waits briefly for a running tick.
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		log.Warn("rollover scheduler: running tick did not finish before stop timeout")
	}
}

// Tick runs one sweep followed by the expiring-soon notifier.
func (s *Scheduler) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	now := s.now()
	if _, errSweep := s.job.RunDue(ctx, now); errSweep != nil {
		log.WithError(errSweep).Warn("rollover scheduler: sweep failed")
	}
	if _, errNotify := s.job.NotifyExpiring(ctx, now); errNotify != nil {
		log.WithError(errNotify).Warn("rollover scheduler: expiring notifier failed")
	}
}
