package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/andresuchdata/batchsync/internal/datetoken"
	"github.com/andresuchdata/batchsync/internal/domain"
	"github.com/andresuchdata/batchsync/internal/source"
	"github.com/andresuchdata/batchsync/internal/storage"
	"github.com/andresuchdata/batchsync/pkg/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options tunes one orchestrator.
type Options struct {
	Prefix        string
	CompressedExt string
	LookbackDays  int
	// ScratchDir is the parent of the per-invocation scratch dirs; empty means
	// the OS temp dir.
	ScratchDir string
	Location   *time.Location
	// OpTimeout bounds each destination call. Zero waits for the library default.
	OpTimeout time.Duration
}

// Orchestrator runs the delta sync from the SFTP source to the destination
// bucket. It keeps no state between invocations.
type Orchestrator struct {
	source source.Source
	dest   storage.ObjectStorage
	opts   Options
	now    func() time.Time
}

func NewOrchestrator(src source.Source, dest storage.ObjectStorage, opts Options) *Orchestrator {
	if opts.CompressedExt == "" {
		opts.CompressedExt = ".gz"
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 7
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Orchestrator{
		source: src,
		dest:   dest,
		opts:   opts,
		now:    time.Now,
	}
}

// LockKey identifies the destination prefix this orchestrator writes to.
func (o *Orchestrator) LockKey() string {
	return fmt.Sprintf("sync:lock:%s/%s", o.dest.Bucket(), o.opts.Prefix)
}

// run carries everything owned by a single invocation.
type run struct {
	state   domain.RunState
	summary *domain.Summary
	log     zerolog.Logger
}

func (r *run) enter(to domain.RunState) {
	if err := ValidateTransition(r.state, to); err != nil {
		r.log.Error().Err(err).Msg("unexpected state change")
	}
	r.log.Debug().Str("from", string(r.state)).Str("to", string(to)).Msg("state")
	r.state = to
	r.summary.State = to
}

// Run executes one invocation and always returns a summary. A non-nil error
// means the run ended in the Failed state.
func (o *Orchestrator) Run(ctx context.Context, trigger domain.Trigger) (*domain.Summary, error) {
	id := uuid.NewString()
	r := &run{
		state: domain.StateIdle,
		summary: &domain.Summary{
			RunID:         id,
			Trigger:       trigger,
			State:         domain.StateIdle,
			UploadedNames: []string{},
			StartedAt:     o.now(),
		},
		log: logger.Log.With().Str("run_id", id).Logger(),
	}
	r.log.Info().Str("trigger", string(trigger)).Msg("transfer started")

	err := o.execute(ctx, r)
	r.summary.FinishedAt = o.now()
	if err != nil {
		r.enter(domain.StateFailed)
		r.summary.Success = false
		r.summary.Message = FailureMessage(err)
		r.log.Error().Err(err).Msg("transfer failed")
		return r.summary, err
	}

	r.enter(domain.StateDone)
	r.summary.Success = true
	r.log.Info().
		Int("found", r.summary.FilesFound).
		Int("uploaded", r.summary.FilesUploaded).
		Int("failed", r.summary.FilesFailed).
		Msg(r.summary.Message)
	return r.summary, nil
}

func (o *Orchestrator) execute(ctx context.Context, r *run) error {
	s := r.summary

	r.enter(domain.StateResolvingWatermark)
	wm, err := o.resolveWatermark(ctx, r.log)
	if err != nil {
		return err
	}
	s.ObjectsWithoutDate = wm.Undated
	if wm.Undated > 0 {
		r.log.Info().Int("count", wm.Undated).Msg("destination objects without a date token")
	}

	r.enter(domain.StateComputingWindow)
	window := CalculateWindow(wm, s.StartedAt.In(o.opts.Location), o.opts.LookbackDays)
	if window.Empty() {
		r.enter(domain.StateWindowEmpty)
		s.Message = "nothing pending: destination is up to date"
		return nil
	}
	rng := window.Range()
	s.DateRange = &rng
	r.log.Info().Str("window", rng.String()).Bool("watermark_found", wm.Found).Msg("window computed")

	r.enter(domain.StateListing)
	session, err := o.source.Connect(ctx)
	if err != nil {
		return &ConnectivityError{Side: SideSource, Op: "connect", Err: err}
	}
	defer func() {
		if err := session.Close(); err != nil {
			r.log.Warn().Err(err).Msg("closing source session")
		}
	}()

	listing, err := session.List(ctx)
	if err != nil {
		return &ConnectivityError{Side: SideSource, Op: "list directory", Err: err}
	}

	r.enter(domain.StateSelecting)
	sel := SelectFiles(listing, window, o.opts.CompressedExt)
	s.FilesFound = len(sel.Files)
	s.SourceFilesWithoutDate = sel.Undated
	if sel.Undated > 0 {
		r.log.Info().Int("count", sel.Undated).Msg("source files without a date token")
	}
	if len(sel.Files) == 0 {
		s.Message = fmt.Sprintf("no new files found for %s", rng)
		return nil
	}

	r.enter(domain.StateFetchDecompress)
	scratch, err := os.MkdirTemp(o.opts.ScratchDir, "batchsync-")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			r.log.Warn().Err(err).Str("dir", scratch).Msg("removing scratch dir")
		}
	}()

	var staged []StagedFile
	for _, out := range fetchAndDecompress(ctx, session, scratch, sel.Files, o.opts.CompressedExt, r.log) {
		if out.Err != nil {
			s.Failures = append(s.Failures, domain.FileFailure{Name: out.Name, Stage: failureStage(out.Err), Reason: out.Err.Error()})
			continue
		}
		staged = append(staged, *out.Staged)
	}
	s.FilesFailed = len(s.Failures)
	if len(staged) == 0 {
		return ErrNoFilesStaged
	}

	r.enter(domain.StateUploading)
	res := uploadStaged(ctx, o.dest, o.opts.Prefix, staged, o.opts.OpTimeout, r.log)
	s.Failures = append(s.Failures, res.Failed...)
	s.FilesFailed = len(s.Failures)
	s.FilesUploaded = len(res.Uploaded)
	s.UploadedNames = append(s.UploadedNames, res.Uploaded...)
	s.Message = fmt.Sprintf("uploaded %d of %d files for %s", s.FilesUploaded, s.FilesFound, rng)
	return nil
}

func (o *Orchestrator) resolveWatermark(ctx context.Context, log zerolog.Logger) (Watermark, error) {
	ctx, cancel := withOpTimeout(ctx, o.opts.OpTimeout)
	defer cancel()
	return ResolveWatermark(ctx, o.dest, o.opts.Prefix, o.opts.Location, log)
}

// Status reports how far behind the destination is and whether both stores
// answer. The report is always returned; err carries any connectivity failure.
func (o *Orchestrator) Status(ctx context.Context) (*domain.StatusReport, error) {
	now := o.now()
	report := &domain.StatusReport{CheckedAt: now}
	log := logger.Log.With().Str("op", "status").Logger()

	var errs []error

	wm, wmErr := o.resolveWatermark(ctx, log)
	if wmErr != nil {
		errs = append(errs, wmErr)
	} else {
		report.DestinationReachable = true
		report.ObjectsWithoutDate = wm.Undated
	}

	if err := o.probeSource(ctx); err != nil {
		errs = append(errs, err)
	} else {
		report.SourceReachable = true
	}

	if len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, err := range errs {
			msgs = append(msgs, FailureMessage(err))
		}
		report.Message = strings.Join(msgs, "; ")
		err := errors.Join(errs...)
		log.Warn().Err(err).Msg("status check failed")
		return report, err
	}

	report.Success = true
	if !wm.Found {
		report.Message = fmt.Sprintf("no dated objects found under %q", o.opts.Prefix)
		return report, nil
	}

	last := domain.NewDate(wm.Date)
	report.LastUploadDate = &last
	yesterday := datetoken.Day(now.In(o.opts.Location)).AddDate(0, 0, -1)
	report.DaysPending = max(0, daysBetween(wm.Date, yesterday))
	return report, nil
}

func (o *Orchestrator) probeSource(ctx context.Context) error {
	_, err := o.listSource(ctx)
	return err
}

func withOpTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
