package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/andresuchdata/batchsync/internal/cache"
	"github.com/andresuchdata/batchsync/internal/domain"
	"github.com/andresuchdata/batchsync/pkg/logger"
	"golang.org/x/sync/singleflight"
)

// RunStore keeps the history of invocations.
type RunStore interface {
	Record(ctx context.Context, summary *domain.Summary) error
	List(ctx context.Context, limit int) ([]domain.Summary, error)
}

type noopRunStore struct{}

func (noopRunStore) Record(context.Context, *domain.Summary) error { return nil }

func (noopRunStore) List(context.Context, int) ([]domain.Summary, error) {
	return []domain.Summary{}, nil
}

// ServiceOptions wires the optional collaborators. Nil fields fall back to a
// process-local lock, no status cache and no run history.
type ServiceOptions struct {
	Locker  cache.Locker
	Cache   cache.StatusCache
	Runs    RunStore
	LockTTL time.Duration
}

// Service is the entry point used by the HTTP handlers, the scheduler and the
// CLI. It guarantees at most one transfer per destination prefix.
type Service struct {
	orch    *Orchestrator
	locker  cache.Locker
	cache   cache.StatusCache
	runs    RunStore
	lockTTL time.Duration
	group   singleflight.Group
}

func NewService(orch *Orchestrator, opts ServiceOptions) *Service {
	s := &Service{
		orch:    orch,
		locker:  opts.Locker,
		cache:   opts.Cache,
		runs:    opts.Runs,
		lockTTL: opts.LockTTL,
	}
	if s.locker == nil {
		s.locker = cache.NewLocalLocker()
	}
	if s.cache == nil {
		s.cache = cache.NewNoopStatusCache()
	}
	if s.runs == nil {
		s.runs = noopRunStore{}
	}
	if s.lockTTL <= 0 {
		s.lockTTL = time.Hour
	}
	return s
}

// StartTransfer runs one invocation under the destination lock. It returns
// ErrTransferInProgress, without a summary, when another run holds the lock.
func (s *Service) StartTransfer(ctx context.Context, trigger domain.Trigger) (*domain.Summary, error) {
	key := s.orch.LockKey()
	release, acquired, err := s.locker.TryLock(ctx, key, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire transfer lock: %w", err)
	}
	if !acquired {
		return nil, ErrTransferInProgress
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Log.Warn().Err(err).Str("key", key).Msg("releasing transfer lock")
		}
	}()

	summary, runErr := s.orch.Run(ctx, trigger)

	bg := context.WithoutCancel(ctx)
	if err := s.cache.Invalidate(bg, s.statusKey()); err != nil {
		logger.Log.Warn().Err(err).Msg("invalidating status cache")
	}
	if err := s.runs.Record(bg, summary); err != nil {
		logger.Log.Warn().Err(err).Str("run_id", summary.RunID).Msg("recording run")
	}

	return summary, runErr
}

// Status returns a cached report when one is fresh; otherwise concurrent
// callers share a single probe of both stores.
func (s *Service) Status(ctx context.Context) (*domain.StatusReport, error) {
	key := s.statusKey()

	if report, ok, err := s.cache.GetStatus(ctx, key); err != nil {
		logger.Log.Warn().Err(err).Msg("reading status cache")
	} else if ok {
		return report, nil
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		report, err := s.orch.Status(context.WithoutCancel(ctx))
		if err == nil {
			if setErr := s.cache.SetStatus(context.WithoutCancel(ctx), key, report); setErr != nil {
				logger.Log.Warn().Err(setErr).Msg("writing status cache")
			}
		}
		return report, err
	})
	return v.(*domain.StatusReport), err
}

// FlushStatusCache drops every cached status report, including those left by
// earlier deployments under other buckets or prefixes.
func (s *Service) FlushStatusCache(ctx context.Context) error {
	return s.cache.InvalidateAll(ctx)
}

// Runs lists the most recent invocations, newest first.
func (s *Service) Runs(ctx context.Context, limit int) ([]domain.Summary, error) {
	return s.runs.List(ctx, limit)
}

// Check probes both stores for the connectivity command.
func (s *Service) Check(ctx context.Context, writeProbe bool) *CheckReport {
	return s.orch.Check(ctx, writeProbe)
}

func (s *Service) statusKey() string {
	return s.orch.dest.Bucket() + "/" + s.orch.opts.Prefix
}
