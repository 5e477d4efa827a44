package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/anime-guide-crawler/internal/fetch"
	pubmemory "github.com/JakeFAU/anime-guide-crawler/internal/publisher/memory"
	"github.com/JakeFAU/anime-guide-crawler/internal/store"
)

func servePages(h *harness, subjects ...int64) {
	h.fetcher.Page(h.crawler.cfg.CalendarURL, calendarHTML)
	for _, id := range subjects {
		h.fetcher.Page(h.crawler.cfg.SubjectURL(id), subjectHTML)
		h.fetcher.Page(h.crawler.cfg.EpisodesURL(id), episodesHTML)
	}
}

func TestRunOnceCrawlsEverySubject(t *testing.T) {
	t.Parallel()
	pub := pubmemory.New()
	h := newHarness(t, WithPublisher(pub))
	h.crawler.cfg.Topic = "crawl.run.finished"
	servePages(h, 100, 200, 300)

	summary, err := h.runner(t).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, store.RunSuccess, summary.Status)
	require.Equal(t, 3, summary.Discovered)
	require.Equal(t, 3, summary.DetailCrawled)
	require.Equal(t, 3, summary.EpisodesCrawled)
	require.Zero(t, summary.Failed)

	runs := h.store.Runs()
	require.Len(t, runs, 1)
	require.Equal(t, store.RunSuccess, runs[0].Status)
	require.Equal(t, summary.RunID, runs[0].ID.String())
	require.NotNil(t, runs[0].FinishedAt)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "crawl.run.finished", msgs[0].Topic)
	var published RunSummary
	require.NoError(t, json.Unmarshal(msgs[0].Data, &published))
	require.Equal(t, summary.RunID, published.RunID)
	require.Equal(t, store.RunSuccess, published.Status)
}

func TestRunOnceContinuesAfterFetchFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	servePages(h, 100, 300)
	down := &fetch.Error{URL: "subject/200", StatusCode: 503, Attempts: 3, Err: errors.New("unavailable")}
	h.fetcher.Fail(h.crawler.cfg.SubjectURL(200), down)
	h.fetcher.Page(h.crawler.cfg.EpisodesURL(200), episodesHTML)

	summary, err := h.runner(t).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, store.RunPartial, summary.Status)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 2, summary.DetailCrawled)
	require.Equal(t, 3, summary.EpisodesCrawled)

	// The subject after the failing one was still crawled.
	gamma, err := h.store.AnimeBySubject(context.Background(), 300)
	require.NoError(t, err)
	require.NotNil(t, gamma.LastCrawledAt)
}

func TestRunOnceCalendarFailureAbortsCycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	down := &fetch.Error{URL: "calendar", StatusCode: 502, Attempts: 3, Err: errors.New("bad gateway")}
	h.fetcher.Fail(h.crawler.cfg.CalendarURL, down).Fail(DefaultFallbackCalendarURL, down)

	summary, err := h.runner(t).RunOnce(context.Background())
	require.ErrorIs(t, err, fetch.ErrFetch)
	require.Equal(t, store.RunError, summary.Status)
	require.NotEmpty(t, summary.Error)

	runs := h.store.Runs()
	require.Len(t, runs, 1)
	require.Equal(t, store.RunError, runs[0].Status)
	require.NotNil(t, runs[0].ErrorMessage)
}

func TestRunOnceSkipsFreshSubjects(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	servePages(h, 100, 200, 300)
	runner := h.runner(t)

	_, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	h.clock.Set(wednesday.Add(time.Hour))
	second, err := runner.RunOnce(context.Background())
	require.NoError(t, err)

	require.Zero(t, second.DetailCrawled)
	require.Zero(t, second.EpisodesCrawled)
	require.Equal(t, 1, h.fetcher.Count(h.crawler.cfg.SubjectURL(100)))

	last, ok := runner.LastRun()
	require.True(t, ok)
	require.Equal(t, second.RunID, last.RunID)
}

func TestRunOnceRejectsOverlap(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	servePages(h)
	entered := make(chan struct{})
	release := make(chan struct{})
	h.fetcher.before = func(url string) {
		if url == h.crawler.cfg.CalendarURL {
			close(entered)
			<-release
		}
	}
	runner := h.runner(t)

	done := make(chan error, 1)
	go func() {
		_, err := runner.RunOnce(context.Background())
		done <- err
	}()
	<-entered
	require.True(t, runner.Running())

	_, err := runner.RunOnce(context.Background())
	require.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	require.NoError(t, <-done)
	require.False(t, runner.Running())
}

func TestRunOnceBoundedPool(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.crawler.cfg.Concurrency = 4
	servePages(h, 100, 200, 300)

	summary, err := h.runner(t).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, summary.DetailCrawled)
	require.Equal(t, 3, summary.EpisodesCrawled)
}

func TestDetailDue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cases := []struct {
		name string
		age  time.Duration
		want bool
	}{
		{"six days", 6 * 24 * time.Hour, false},
		{"seven days", 7 * 24 * time.Hour, true},
		{"eight days", 8 * 24 * time.Hour, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			_, err := h.store.UpsertAnimeFromCalendar(ctx, store.CalendarSighting{SubjectID: 1})
			require.NoError(t, err)
			require.NoError(t, h.store.UpdateAnimeDetail(ctx, 1, store.AnimeDetail{}, wednesday.Add(-tc.age)))

			due, err := h.crawler.DetailDue(ctx, 1)
			require.NoError(t, err)
			require.Equal(t, tc.want, due)
		})
	}

	t.Run("missing row", func(t *testing.T) {
		t.Parallel()
		due, err := newHarness(t).crawler.DetailDue(ctx, 404)
		require.NoError(t, err)
		require.True(t, due)
	})

	t.Run("never crawled", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		_, err := h.store.UpsertAnimeFromCalendar(ctx, store.CalendarSighting{SubjectID: 1})
		require.NoError(t, err)
		due, err := h.crawler.DetailDue(ctx, 1)
		require.NoError(t, err)
		require.True(t, due)
	})
}

func TestEpisodesDue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	due, err := h.crawler.EpisodesDue(ctx, 1)
	require.NoError(t, err)
	require.True(t, due, "missing row")

	animeID, err := h.store.UpsertAnimeFromCalendar(ctx, store.CalendarSighting{SubjectID: 1})
	require.NoError(t, err)
	due, err = h.crawler.EpisodesDue(ctx, 1)
	require.NoError(t, err)
	require.True(t, due, "zero episodes")

	require.NoError(t, h.store.UpsertEpisode(ctx, store.Episode{AnimeID: animeID, Number: 1}))
	lastWeek := 4
	require.NoError(t, h.store.UpsertCalendarEntry(ctx, store.CalendarEntry{
		AnimeID: animeID, AirDate: day(2024, 2, 28), Weekday: 3, EpisodeNo: &lastWeek,
	}))
	require.NoError(t, h.store.UpsertCalendarEntry(ctx, store.CalendarEntry{
		AnimeID: animeID, AirDate: day(2024, 3, 6), Weekday: 3,
	}))
	due, err = h.crawler.EpisodesDue(ctx, 1)
	require.NoError(t, err)
	require.True(t, due, "no numbered entry this week")

	thisWeek := 5
	require.NoError(t, h.store.UpsertCalendarEntry(ctx, store.CalendarEntry{
		AnimeID: animeID, AirDate: day(2024, 3, 9), Weekday: 6, EpisodeNo: &thisWeek,
	}))
	due, err = h.crawler.EpisodesDue(ctx, 1)
	require.NoError(t, err)
	require.False(t, due)
}

func TestRunSummaryAttributes(t *testing.T) {
	t.Parallel()
	s := RunSummary{RunID: "abc", Status: store.RunPartial}
	require.Equal(t, map[string]string{"run_id": "abc", "status": "partial"}, s.Attributes())
	require.Equal(t, "https://bangumi.tv/subject/7/ep", Config{}.withDefaults().EpisodesURL(7))
	require.Equal(t, fmt.Sprintf("%s/subject/7", Config{}.withDefaults().BaseURL), Config{}.withDefaults().SubjectURL(7))
}
