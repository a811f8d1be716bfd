// Package scheduler triggers transfers on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/andresuchdata/batchsync/internal/domain"
	"github.com/andresuchdata/batchsync/internal/transfer"
	"github.com/andresuchdata/batchsync/pkg/logger"
	"github.com/robfig/cron/v3"
)

// Runner is the part of the transfer service the scheduler drives.
type Runner interface {
	StartTransfer(ctx context.Context, trigger domain.Trigger) (*domain.Summary, error)
}

// Scheduler runs one transfer per cron tick. Specs carry a leading seconds
// field, e.g. "0 30 6 * * *" for 06:30:00 every day.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
}

func New(runner Runner, spec string, opts ...cron.Option) (*Scheduler, error) {
	opts = append([]cron.Option{cron.WithSeconds()}, opts...)
	c := cron.New(opts...)

	s := &Scheduler{cron: c, runner: runner}

	if _, err := c.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		logger.Log.Info().Time("next_run", e.Next).Msg("transfer schedule started")
	}
}

// Stop prevents new ticks and waits for a running transfer to finish or for
// ctx to end, whichever comes first. A transfer still running when ctx ends is
// not cancelled; it stops only when the process exits.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	summary, err := s.runner.StartTransfer(context.Background(), domain.TriggerScheduled)
	switch {
	case errors.Is(err, transfer.ErrTransferInProgress):
		logger.Log.Info().Msg("scheduled transfer skipped: another transfer is running")
	case err != nil:
		event := logger.Log.Error().Err(err)
		if summary != nil {
			event = event.Str("run_id", summary.RunID)
		}
		event.Msg("scheduled transfer failed")
	default:
		logger.Log.Info().
			Str("run_id", summary.RunID).
			Int("uploaded", summary.FilesUploaded).
			Int("failed", summary.FilesFailed).
			Msg("scheduled transfer finished")
	}
}
