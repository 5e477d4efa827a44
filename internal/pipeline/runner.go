package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/JakeFAU/anime-guide-crawler/internal/extract"
	"github.com/JakeFAU/anime-guide-crawler/internal/metrics"
	"github.com/JakeFAU/anime-guide-crawler/internal/store"
)

// ErrRunInProgress is returned when RunOnce is called while a cycle is running.
var ErrRunInProgress = errors.New("crawl run already in progress")

// IDGenerator produces crawl run IDs.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// RunSummary describes one finished crawl cycle.
type RunSummary struct {
	RunID           string          `json:"runId"`
	StartedAt       time.Time       `json:"startedAt"`
	FinishedAt      time.Time       `json:"finishedAt"`
	Status          store.RunStatus `json:"status"`
	Discovered      int             `json:"discovered"`
	DetailCrawled   int             `json:"detailCrawled"`
	EpisodesCrawled int             `json:"episodesCrawled"`
	Failed          int             `json:"failed"`
	Error           string          `json:"error,omitempty"`
}

// Attributes labels the published message.
func (s RunSummary) Attributes() map[string]string {
	return map[string]string{"run_id": s.RunID, "status": string(s.Status)}
}

// Runner executes crawl cycles, at most one at a time.
type Runner struct {
	crawler *Crawler
	ids     IDGenerator
	running atomic.Bool
	mu      sync.Mutex
	last    *RunSummary
}

// NewRunner wraps a Crawler.
func NewRunner(crawler *Crawler, ids IDGenerator) (*Runner, error) {
	if crawler == nil {
		return nil, fmt.Errorf("crawler is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	return &Runner{crawler: crawler, ids: ids}, nil
}

// Running reports whether a cycle is in progress.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// LastRun returns the summary of the most recent finished cycle.
func (r *Runner) LastRun() (RunSummary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return RunSummary{}, false
	}
	return *r.last, true
}

type runCounters struct {
	detail   atomic.Int64
	episodes atomic.Int64
	failed   atomic.Int64
}

// RunOnce executes one crawl cycle. A calendar failure aborts the cycle and
// is returned alongside the summary; per-subject failures are counted and
// logged. A concurrent call returns ErrRunInProgress immediately.
func (r *Runner) RunOnce(ctx context.Context) (RunSummary, error) {
	if !r.running.CompareAndSwap(false, true) {
		return RunSummary{}, ErrRunInProgress
	}
	defer r.running.Store(false)
	metrics.SetCrawlInProgress(true)
	defer metrics.SetCrawlInProgress(false)

	c := r.crawler
	runID, err := r.ids.NewRawID()
	if err != nil {
		return RunSummary{}, fmt.Errorf("new run id: %w", err)
	}
	started := c.clock.Now()
	log := c.logger.With(zap.String("run_id", runID.String()))
	log.Info("crawl run started")

	run := store.CrawlRun{ID: runID, StartedAt: started, Status: store.RunRunning}
	if err := c.repo.StartRun(ctx, run); err != nil {
		log.Warn("record run start failed", zap.Error(err))
	}

	summary := RunSummary{RunID: runID.String(), StartedAt: started}
	ids, calErr := c.CrawlCalendar(ctx)
	if calErr != nil {
		log.Error("calendar crawl failed", zap.Error(calErr))
		summary.Status = store.RunError
		summary.Error = calErr.Error()
		r.finish(ctx, log, run, &summary)
		return summary, fmt.Errorf("calendar crawl: %w", calErr)
	}
	summary.Discovered = len(ids)

	var counters runCounters
	p := pool.New().WithMaxGoroutines(c.cfg.Concurrency)
	for _, id := range ids {
		p.Go(func() {
			r.processSubject(ctx, log, id, &counters)
		})
	}
	p.Wait()

	summary.DetailCrawled = int(counters.detail.Load())
	summary.EpisodesCrawled = int(counters.episodes.Load())
	summary.Failed = int(counters.failed.Load())
	switch {
	case ctx.Err() != nil:
		summary.Status = store.RunPartial
		summary.Error = ctx.Err().Error()
	case summary.Failed > 0:
		summary.Status = store.RunPartial
	default:
		summary.Status = store.RunSuccess
	}
	r.finish(ctx, log, run, &summary)
	return summary, nil
}

// processSubject refreshes one subject. Errors and panics stay local.
func (r *Runner) processSubject(ctx context.Context, log *zap.Logger, subjectID int64, counters *runCounters) {
	log = log.With(zap.Int64("subject_id", subjectID))
	defer func() {
		if rec := recover(); rec != nil {
			counters.failed.Add(1)
			log.Error("subject crawl panicked", zap.Any("panic", rec), zap.Stack("stack"))
		}
	}()
	if ctx.Err() != nil {
		metrics.ObserveItem("subject", "skipped")
		return
	}
	c := r.crawler
	failed := false

	due, err := c.DetailDue(ctx, subjectID)
	switch {
	case err != nil:
		failed = true
		metrics.ObserveItem("detail", "error")
		log.Error("detail staleness check failed", zap.Error(err))
	case due:
		if err := c.CrawlSubject(ctx, subjectID); err != nil {
			failed = true
			metrics.ObserveItem("detail", "error")
			log.Error("subject crawl failed", zap.Error(err))
		} else {
			counters.detail.Add(1)
			metrics.ObserveItem("detail", "ok")
		}
	default:
		metrics.ObserveItem("detail", "fresh")
	}

	due, err = c.EpisodesDue(ctx, subjectID)
	switch {
	case err != nil:
		failed = true
		metrics.ObserveItem("episodes", "error")
		log.Error("episode staleness check failed", zap.Error(err))
	case due:
		if _, err := c.CrawlEpisodes(ctx, subjectID); err != nil {
			failed = true
			metrics.ObserveItem("episodes", "error")
			log.Error("episode crawl failed", zap.Error(err))
		} else {
			counters.episodes.Add(1)
			metrics.ObserveItem("episodes", "ok")
		}
	default:
		metrics.ObserveItem("episodes", "fresh")
	}

	if failed {
		counters.failed.Add(1)
	}
}

// finish records the outcome. Bookkeeping runs even when ctx was canceled.
func (r *Runner) finish(ctx context.Context, log *zap.Logger, run store.CrawlRun, summary *RunSummary) {
	c := r.crawler
	summary.FinishedAt = c.clock.Now()
	metrics.ObserveRun(string(summary.Status), summary.FinishedAt.Sub(summary.StartedAt))

	bookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	finished := summary.FinishedAt
	run.FinishedAt = &finished
	run.Status = summary.Status
	run.Discovered = summary.Discovered
	run.Failed = summary.Failed
	if summary.Error != "" {
		msg := summary.Error
		run.ErrorMessage = &msg
	}
	if err := c.repo.FinishRun(bookCtx, run); err != nil {
		log.Warn("record run finish failed", zap.Error(err))
	}

	if c.publisher != nil && c.cfg.Topic != "" {
		if _, err := c.publisher.Publish(bookCtx, c.cfg.Topic, *summary); err != nil {
			log.Warn("publish run summary failed", zap.Error(err))
		}
	}

	r.mu.Lock()
	last := *summary
	r.last = &last
	r.mu.Unlock()

	log.Info("crawl run finished",
		zap.String("status", string(summary.Status)),
		zap.Int("discovered", summary.Discovered),
		zap.Int("detail_crawled", summary.DetailCrawled),
		zap.Int("episodes_crawled", summary.EpisodesCrawled),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", summary.FinishedAt.Sub(summary.StartedAt)),
	)
}

// DetailDue reports whether the subject's detail page should be crawled: no
// row yet, never crawled, or last crawled at least DetailMaxAge ago.
func (c *Crawler) DetailDue(ctx context.Context, subjectID int64) (bool, error) {
	last, err := c.repo.LastDetailCrawl(ctx, subjectID)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("last detail crawl %d: %w", subjectID, err)
	}
	if last == nil {
		return true, nil
	}
	return c.clock.Now().Sub(*last) >= c.cfg.DetailMaxAge, nil
}

// EpisodesDue reports whether the episode list should be crawled: no row yet,
// no stored episodes, or no numbered airing entry in the current week.
func (c *Crawler) EpisodesDue(ctx context.Context, subjectID int64) (bool, error) {
	animeID, err := c.repo.AnimeIDBySubject(ctx, subjectID)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve anime %d: %w", subjectID, err)
	}
	count, err := c.repo.EpisodeCount(ctx, animeID)
	if err != nil {
		return false, fmt.Errorf("episode count %d: %w", subjectID, err)
	}
	if count == 0 {
		return true, nil
	}
	start, end := extract.WeekWindow(c.today())
	numbered, err := c.repo.NumberedCalendarEntries(ctx, animeID, start, end)
	if err != nil {
		return false, fmt.Errorf("numbered calendar entries %d: %w", subjectID, err)
	}
	return numbered == 0, nil
}
