package worker

import (
	"context"
	"fmt"
	"time"

	"sjsage522/noticewatcher/helpers"
	"sjsage522/noticewatcher/internal/adapter"
	"sjsage522/noticewatcher/internal/detector"
	"sjsage522/noticewatcher/internal/filter"
	"sjsage522/noticewatcher/internal/state"
	"sjsage522/noticewatcher/logger"
	werrors "sjsage522/noticewatcher/pkg/errors"
	"sjsage522/noticewatcher/pkg/retry"
	"sjsage522/noticewatcher/services/notifier"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Source is one monitored source with its resolved policies
type Source struct {
	ID   string
	Name string
	// StateKey is the key of the source in the fingerprint store
	StateKey  string
	Adapter   adapter.Adapter
	Rules     filter.Rules
	Policy    detector.Policy
	Retention state.Retention
}

func (s Source) stateKey() string {
	if s.StateKey != "" {
		return s.StateKey
	}
	return s.ID
}

// Options tune the driver
type Options struct {
	// Workers bounds how many sources are checked at once
	Workers int
	// FetchTimeout bounds each adapter attempt
	FetchTimeout time.Duration
	Retry        retry.Policy
	// CrawlInterval is the pause between runs in Start
	CrawlInterval time.Duration
	// Production silences the per-run timing line
	Production bool
}

// Worker checks every source, notifies about new items and commits fingerprints
type Worker struct {
	ctx      context.Context
	sources  []Source
	store    *state.Store
	notifier notifier.Notifier
	logger   helpers.LoggerInterface
	opts     Options
}

// NewWorker creates a new worker. The store must already be loaded.
func NewWorker(
	ctx context.Context,
	sources []Source,
	store *state.Store,
	n notifier.Notifier,
	logger helpers.LoggerInterface,
	opts Options,
) *Worker {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.CrawlInterval <= 0 {
		opts.CrawlInterval = 5 * time.Minute
	}
	return &Worker{
		ctx:      ctx,
		sources:  sources,
		store:    store,
		notifier: n,
		logger:   logger,
		opts:     opts,
	}
}

// Start runs the sources every CrawlInterval until the context is cancelled
func (w *Worker) Start() {
	for {
		start := time.Now()
		w.RunOnce(w.ctx)
		if !w.opts.Production {
			w.logger.LogInfo("점검 소요 시간: %s", time.Since(start))
		}

		timer := time.NewTimer(w.opts.CrawlInterval)
		select {
		case <-w.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunOnce checks all sources once and returns their outcomes in
// configuration order. One source's failure never affects another.
func (w *Worker) RunOnce(ctx context.Context) *RunReport {
	report := &RunReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Outcomes:  make([]Outcome, len(w.sources)),
	}
	log := logger.ForWorker().WithField("run", report.RunID)

	var g errgroup.Group
	g.SetLimit(w.opts.Workers)
	for i, src := range w.sources {
		g.Go(func() error {
			report.Outcomes[i] = w.check(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	// Commits already saved per source; this flush covers records whose
	// immediate save failed.
	if err := w.store.Save(context.WithoutCancel(ctx)); err != nil {
		report.FlushErr = err
		w.logger.LogError("StateFlush", err)
	}

	if t, ok := w.notifier.(notifier.Trimmer); ok {
		if err := t.TrimStreams(ctx); err != nil {
			w.logger.LogError("StreamTrimming", err)
		}
	}

	report.FinishedAt = time.Now()
	for _, line := range report.Summary() {
		w.logger.LogInfo("%s", line)
	}
	log.Info().
		Int("sources", len(report.Outcomes)).
		Int("notified", report.Count(StatusNotified)).
		Int("errors", report.Count(StatusError)).
		Dur("elapsed", report.FinishedAt.Sub(report.StartedAt)).
		Msg("run finished")

	return report
}

// check walks one source through fetch, filter, compare, notify and commit
func (w *Worker) check(ctx context.Context, src Source) (out Outcome) {
	start := time.Now()
	out = Outcome{SourceID: src.ID, SourceName: src.Name}

	// stage is where a panic is reported; it moves ahead of each side effect
	stage := StageFetchFailed
	defer func() {
		if r := recover(); r != nil {
			out.Status = StatusError
			if stage == StageCommitFailed && out.Stage == StageCommitted {
				// the notification already went out
				out.Status = StatusNotified
			}
			out.Stage = stage
			out.Err = fmt.Errorf("panic while checking source: %v", r)
		}
		out.Duration = time.Since(start)
		if out.Err != nil {
			w.logger.LogError(src.ID, out.Err)
		}
	}()

	items, attempts, err := w.fetch(ctx, src)
	out.Attempts = attempts
	if err != nil {
		out.Status = StatusError
		out.Stage = StageFetchFailed
		out.Err = err
		return out
	}

	candidate, skipped := filter.SelectLatest(items, src.Rules)
	out.Skipped = skipped
	if candidate == nil {
		out.Status = StatusUnchanged
		out.Stage = StageUnchanged
		if skipped > 0 {
			out.Stage = StageExcluded
		}
		return out
	}
	item := *candidate
	out.Item = &item

	var prev *state.Fingerprint
	if fp, ok := w.store.Get(src.stateKey()); ok {
		prev = &fp
	}

	decision := detector.Classify(&item, prev, src.Policy)
	log := logger.ForSource(src.ID)

	if decision.Seed() {
		out.Status = StatusUnchanged
		out.Stage = StageSeeded
		out.Seeded = true
		stage = StageCommitFailed
		if _, err := w.store.Commit(context.WithoutCancel(ctx), src.stateKey(), decision.Key, src.Retention); err != nil {
			out.Err = err
		}
		log.Info().Str("key", decision.Key).Str("title", item.Title).Msg("첫 감시 시작")
		return out
	}

	if decision.Verdict == detector.Unchanged {
		out.Status = StatusUnchanged
		out.Stage = StageUnchanged
		log.Debug().Str("key", decision.Key).Msg("변화 없음")
		return out
	}

	log.Info().Str("key", decision.Key).Str("title", item.Title).Msg("새 글 발견")

	stage = StageNotifyFailed
	msg := notifier.RenderMessage(src.ID, src.Name, item)
	if err := w.notifier.Send(ctx, msg); err != nil {
		out.Status = StatusError
		out.Stage = StageNotifyFailed
		if !werrors.Is(err, werrors.ErrorTypeSend) {
			err = werrors.NewSend(src.ID, "notification failed", err)
		}
		out.Err = err
		return out
	}

	out.Status = StatusNotified
	out.Stage = StageCommitted
	stage = StageCommitFailed
	if _, err := w.store.Commit(context.WithoutCancel(ctx), src.stateKey(), decision.Key, src.Retention); err != nil {
		out.Stage = StageCommitFailed
		out.Err = err
	}
	return out
}

// fetch calls the adapter with a per-attempt timeout and the retry policy
func (w *Worker) fetch(ctx context.Context, src Source) ([]adapter.ObservedItem, int, error) {
	policy := w.opts.Retry
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		logger.ForSource(src.ID).Warn().Err(err).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("fetch failed, retrying")
	}

	var items []adapter.ObservedItem
	attempts := 0
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, w.opts.FetchTimeout)
		defer cancel()

		var err error
		items, err = src.Adapter.Fetch(attemptCtx)
		return err
	})
	return items, attempts, err
}
