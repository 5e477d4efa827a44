package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/anime-guide-crawler/internal/fetch"
	"github.com/JakeFAU/anime-guide-crawler/internal/hash/sha256"
	"github.com/JakeFAU/anime-guide-crawler/internal/storage/memory"
)

func TestCrawlCalendarDedupesInFirstSeenOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.fetcher.Page(h.crawler.cfg.CalendarURL, calendarHTML)
	ctx := context.Background()

	ids, err := h.crawler.CrawlCalendar(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{100, 200, 300}, ids)
	require.Equal(t, 0, h.fetcher.Count(DefaultFallbackCalendarURL))

	alpha, err := h.store.AnimeBySubject(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, "Alpha", alpha.Title)
	require.Equal(t, "https://bangumi.tv/subject/100", alpha.URL)
	require.Equal(t, "https://lain.bgm.tv/pic/cover/c/100.jpg", alpha.CoverImageURL)
	require.Equal(t, 3, *alpha.Weekday)

	// Beta is listed on Wednesday and Thursday; the later sighting wins the
	// weekday and both airing dates are kept.
	beta, err := h.store.AnimeBySubject(ctx, 200)
	require.NoError(t, err)
	require.Equal(t, 4, *beta.Weekday)
	entries := h.store.CalendarEntries(beta.ID)
	require.Len(t, entries, 2)
	require.Equal(t, day(2024, 3, 6), entries[0].AirDate)
	require.Equal(t, day(2024, 3, 7), entries[1].AirDate)
	require.Nil(t, entries[0].EpisodeNo)
}

func TestCrawlCalendarWeekAnchorIsSunday(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	// Sunday itself anchors the week.
	h.clock.Set(day(2024, 3, 3).Add(23 * time.Hour))
	h.fetcher.Page(h.crawler.cfg.CalendarURL, calendarHTML)

	_, err := h.crawler.CrawlCalendar(context.Background())
	require.NoError(t, err)
	gamma, err := h.store.AnimeBySubject(context.Background(), 300)
	require.NoError(t, err)
	entries := h.store.CalendarEntries(gamma.ID)
	require.Len(t, entries, 1)
	require.Equal(t, day(2024, 3, 7), entries[0].AirDate)
}

func TestCrawlCalendarFallsBackToAlternateDomain(t *testing.T) {
	t.Parallel()

	t.Run("NoBlocks", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.fetcher.Page(h.crawler.cfg.CalendarURL, emptyHTML).Page(DefaultFallbackCalendarURL, calendarHTML)

		ids, err := h.crawler.CrawlCalendar(context.Background())
		require.NoError(t, err)
		require.Len(t, ids, 3)
		require.Equal(t, []string{h.crawler.cfg.CalendarURL, DefaultFallbackCalendarURL}, h.fetcher.Calls())
	})

	t.Run("PrimaryFetchFails", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.fetcher.
			Fail(h.crawler.cfg.CalendarURL, &fetch.Error{URL: "primary", StatusCode: 503, Attempts: 3, Err: errors.New("unavailable")}).
			Page(DefaultFallbackCalendarURL, calendarHTML)

		ids, err := h.crawler.CrawlCalendar(context.Background())
		require.NoError(t, err)
		require.Len(t, ids, 3)
	})
}

func TestCrawlCalendarHeadlessLastResort(t *testing.T) {
	t.Parallel()
	renderer := &fakeRenderer{body: calendarHTML}
	h := newHarness(t, WithRenderer(renderer))
	h.fetcher.Page(h.crawler.cfg.CalendarURL, emptyHTML).Page(DefaultFallbackCalendarURL, emptyHTML)

	ids, err := h.crawler.CrawlCalendar(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int64{100, 200, 300}, ids)
	require.Equal(t, 1, renderer.calls)
}

func TestCrawlCalendarEmptyIsNotAnError(t *testing.T) {
	t.Parallel()
	archive := memory.NewBlobStore()
	h := newHarness(t, WithArchive(archive, sha256.New()), WithRenderer(&fakeRenderer{err: errors.New("no chrome")}))
	h.fetcher.Page(h.crawler.cfg.CalendarURL, emptyHTML).Page(DefaultFallbackCalendarURL, emptyHTML)

	ids, err := h.crawler.CrawlCalendar(context.Background())
	require.NoError(t, err)
	require.Empty(t, ids)

	paths := archive.Paths()
	require.Len(t, paths, 1)
	require.True(t, strings.HasPrefix(paths[0], "calendar/2024-03-06/calendar-"), paths[0])
	body, ok := archive.Object(paths[0])
	require.True(t, ok)
	require.Equal(t, emptyHTML, string(body))
}

func TestCrawlCalendarFailsWhenNoSourceResponds(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	down := &fetch.Error{URL: "x", StatusCode: 503, Attempts: 3, Err: errors.New("unavailable")}
	h.fetcher.Fail(h.crawler.cfg.CalendarURL, down).Fail(DefaultFallbackCalendarURL, down)

	_, err := h.crawler.CrawlCalendar(context.Background())
	require.ErrorIs(t, err, fetch.ErrFetch)
}

func TestCrawlCalendarSkipsFailedSighting(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.fetcher.Page(h.crawler.cfg.CalendarURL, calendarHTML)
	h.store.FailNextWrite(errors.New("db hiccup"))

	ids, err := h.crawler.CrawlCalendar(context.Background())
	require.NoError(t, err)
	// The first Alpha sighting fails; its repeat later in the block succeeds.
	require.Equal(t, []int64{200, 100, 300}, ids)
}
