package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/anime-guide-crawler/internal/store"
)

func ptr[T any](v T) *T { return &v }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestUpsertAnimeFromCalendarKeepsSurrogateID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewAnimeStore()

	first, err := s.UpsertAnimeFromCalendar(ctx, store.CalendarSighting{SubjectID: 42, Title: "old", Weekday: 1})
	require.NoError(t, err)
	second, err := s.UpsertAnimeFromCalendar(ctx, store.CalendarSighting{SubjectID: 42, Title: "new", Weekday: 3})
	require.NoError(t, err)
	require.Equal(t, first, second)

	row, err := s.AnimeBySubject(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, "new", row.Title)
	require.Equal(t, 3, *row.Weekday)
}

func TestUpdateAnimeDetailNeverReplacesWithNil(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewAnimeStore()
	_, err := s.UpsertAnimeFromCalendar(ctx, store.CalendarSighting{SubjectID: 7, Title: "t"})
	require.NoError(t, err)

	first := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateAnimeDetail(ctx, 7, store.AnimeDetail{
		TitleZH:       ptr("中文"),
		TotalEpisodes: ptr(12),
		Rating:        ptr(8.6),
	}, first))

	second := first.Add(48 * time.Hour)
	require.NoError(t, s.UpdateAnimeDetail(ctx, 7, store.AnimeDetail{
		Summary: ptr("synopsis"),
	}, second))

	row, err := s.AnimeBySubject(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, "中文", *row.TitleZH)
	require.Equal(t, 12, *row.TotalEpisodes)
	require.InDelta(t, 8.6, *row.Rating, 1e-9)
	require.Equal(t, "synopsis", *row.Summary)
	require.True(t, row.LastCrawledAt.Equal(second))
}

func TestUpdateAnimeDetailStampsEvenWhenEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewAnimeStore()
	_, err := s.UpsertAnimeFromCalendar(ctx, store.CalendarSighting{SubjectID: 9})
	require.NoError(t, err)

	stamp := time.Date(2024, 5, 5, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateAnimeDetail(ctx, 9, store.AnimeDetail{}, stamp))

	last, err := s.LastDetailCrawl(ctx, 9)
	require.NoError(t, err)
	require.NotNil(t, last)
	require.True(t, last.Equal(stamp))
}

func TestUpsertEpisodeReplacesTitleAndAirDate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewAnimeStore()

	require.NoError(t, s.UpsertEpisode(ctx, store.Episode{AnimeID: 1, Number: 3, Title: "draft", AirDate: ptr(day(2024, 1, 1))}))
	require.NoError(t, s.UpsertEpisode(ctx, store.Episode{AnimeID: 1, Number: 3, Title: "final"}))

	count, err := s.EpisodeCount(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	ep, ok := s.Episode(1, 3)
	require.True(t, ok)
	require.Equal(t, "final", ep.Title)
	require.Nil(t, ep.AirDate)

	require.Error(t, s.UpsertEpisode(ctx, store.Episode{AnimeID: 1, Number: 0}))
}

func TestUpsertCalendarEntryFirstEpisodeNumberWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewAnimeStore()
	date := day(2024, 3, 6)

	require.NoError(t, s.UpsertCalendarEntry(ctx, store.CalendarEntry{AnimeID: 5, AirDate: date, Weekday: 2}))
	require.NoError(t, s.UpsertCalendarEntry(ctx, store.CalendarEntry{AnimeID: 5, AirDate: date, Weekday: 3, EpisodeNo: ptr(4)}))
	require.NoError(t, s.UpsertCalendarEntry(ctx, store.CalendarEntry{AnimeID: 5, AirDate: date, Weekday: 3, EpisodeNo: ptr(9)}))
	require.NoError(t, s.UpsertCalendarEntry(ctx, store.CalendarEntry{AnimeID: 5, AirDate: date, Weekday: 3}))

	entries := s.CalendarEntries(5)
	require.Len(t, entries, 1)
	require.Equal(t, 3, entries[0].Weekday)
	require.Equal(t, 4, *entries[0].EpisodeNo)

	n, err := s.NumberedCalendarEntries(ctx, 5, day(2024, 3, 3), day(2024, 3, 9))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = s.NumberedCalendarEntries(ctx, 5, day(2024, 3, 10), day(2024, 3, 16))
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestGuideQueries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewAnimeStore()

	lowID, err := s.UpsertAnimeFromCalendar(ctx, store.CalendarSighting{SubjectID: 1, Title: "low", Weekday: 3})
	require.NoError(t, err)
	highID, err := s.UpsertAnimeFromCalendar(ctx, store.CalendarSighting{SubjectID: 2, Title: "high", Weekday: 3})
	require.NoError(t, err)
	require.NoError(t, s.UpdateAnimeDetail(ctx, 1, store.AnimeDetail{Rating: ptr(6.0)}, time.Unix(100, 0).UTC()))
	require.NoError(t, s.UpdateAnimeDetail(ctx, 2, store.AnimeDetail{Rating: ptr(9.0)}, time.Unix(200, 0).UTC()))

	date := day(2024, 3, 6)
	require.NoError(t, s.UpsertCalendarEntry(ctx, store.CalendarEntry{AnimeID: lowID, AirDate: date, Weekday: 3}))
	require.NoError(t, s.UpsertCalendarEntry(ctx, store.CalendarEntry{AnimeID: highID, AirDate: date, Weekday: 3}))
	require.NoError(t, s.UpsertEpisode(ctx, store.Episode{AnimeID: lowID, Number: 2, AirDate: ptr(date)}))
	require.NoError(t, s.UpsertEpisode(ctx, store.Episode{AnimeID: highID, Number: 5}))
	require.NoError(t, s.UpsertEpisode(ctx, store.Episode{AnimeID: highID, Number: 6}))

	updates, err := s.UpdatesOn(ctx, date)
	require.NoError(t, err)
	require.Len(t, updates, 2)
	require.Equal(t, int64(2), updates[0].SubjectID)
	require.Equal(t, 6, *updates[0].EpisodeNo)
	require.Equal(t, 2, *updates[1].EpisodeNo)

	dates, err := s.AirDates(ctx, day(2024, 3, 1), day(2024, 3, 31))
	require.NoError(t, err)
	require.Equal(t, []time.Time{date}, dates)

	latest, err := s.LatestDetailCrawl(ctx)
	require.NoError(t, err)
	require.True(t, latest.Equal(time.Unix(200, 0)))

	weekday, err := s.AnimeByWeekday(ctx, 3)
	require.NoError(t, err)
	require.Len(t, weekday, 2)
	require.Equal(t, "high", weekday[0].Title)

	numbers, err := s.EpisodeNumbers(ctx, highID)
	require.NoError(t, err)
	require.Equal(t, []int{5, 6}, numbers)

	_, err = s.AnimeBySubject(ctx, 404)
	require.ErrorIs(t, err, store.ErrNotFound)
}
