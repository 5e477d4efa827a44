package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/anime-guide-crawler/internal/store"
)

type episodeKey struct {
	animeID int64
	number  int
}

type calendarKey struct {
	animeID int64
	airDate time.Time
}

// AnimeStore is an in-memory store.Repository with the same merge semantics as
// the Postgres implementation. It backs tests and local dry runs.
type AnimeStore struct {
	mu        sync.RWMutex
	nextID    int64
	anime     map[int64]store.Anime // keyed by subject ID
	episodes  map[episodeKey]store.Episode
	calendar  map[calendarKey]store.CalendarEntry
	runs      map[uuid.UUID]store.CrawlRun
	failNext  error
	pingError error
}

var _ store.Repository = (*AnimeStore)(nil)

// NewAnimeStore constructs an empty AnimeStore.
func NewAnimeStore() *AnimeStore {
	return &AnimeStore{
		anime:    make(map[int64]store.Anime),
		episodes: make(map[episodeKey]store.Episode),
		calendar: make(map[calendarKey]store.CalendarEntry),
		runs:     make(map[uuid.UUID]store.CrawlRun),
	}
}

// FailNextWrite makes the next write return err. Used to simulate persistence faults.
func (s *AnimeStore) FailNextWrite(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// SetPingError controls the result of Ping.
func (s *AnimeStore) SetPingError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingError = err
}

func (s *AnimeStore) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

// UpsertAnimeFromCalendar inserts or refreshes title, URL, cover and weekday.
func (s *AnimeStore) UpsertAnimeFromCalendar(_ context.Context, sighting store.CalendarSighting) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return 0, err
	}
	row, ok := s.anime[sighting.SubjectID]
	if !ok {
		s.nextID++
		row = store.Anime{ID: s.nextID, SubjectID: sighting.SubjectID}
	}
	weekday := sighting.Weekday
	row.URL = sighting.URL
	row.Title = sighting.Title
	row.CoverImageURL = sighting.CoverImageURL
	row.Weekday = &weekday
	s.anime[sighting.SubjectID] = row
	return row.ID, nil
}

// UpdateAnimeDetail merges non-nil detail fields and stamps the crawl time.
func (s *AnimeStore) UpdateAnimeDetail(
	_ context.Context,
	subjectID int64,
	detail store.AnimeDetail,
	crawledAt time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	row, ok := s.anime[subjectID]
	if !ok {
		// UPDATE ... WHERE matches no rows; not an error.
		return nil
	}
	row.TitleZH = coalesce(detail.TitleZH, row.TitleZH)
	row.Summary = coalesce(detail.Summary, row.Summary)
	row.StartDate = coalesce(detail.StartDate, row.StartDate)
	row.TotalEpisodes = coalesce(detail.TotalEpisodes, row.TotalEpisodes)
	row.Rating = coalesce(detail.Rating, row.Rating)
	row.RatingCount = coalesce(detail.RatingCount, row.RatingCount)
	stamped := crawledAt
	row.LastCrawledAt = &stamped
	s.anime[subjectID] = row
	return nil
}

// UpsertEpisode replaces title and air date for (anime, number).
func (s *AnimeStore) UpsertEpisode(_ context.Context, episode store.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	if episode.Number <= 0 {
		return errors.New("episode number must be positive")
	}
	s.episodes[episodeKey{animeID: episode.AnimeID, number: episode.Number}] = episode
	return nil
}

// UpsertCalendarEntry overwrites weekday and fills the episode number only when unset.
func (s *AnimeStore) UpsertCalendarEntry(_ context.Context, entry store.CalendarEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	key := calendarKey{animeID: entry.AnimeID, airDate: entry.AirDate.UTC()}
	existing, ok := s.calendar[key]
	if !ok {
		entry.AirDate = key.airDate
		s.calendar[key] = entry
		return nil
	}
	existing.Weekday = entry.Weekday
	existing.EpisodeNo = coalesce(existing.EpisodeNo, entry.EpisodeNo)
	s.calendar[key] = existing
	return nil
}

// AnimeIDBySubject resolves the surrogate ID.
func (s *AnimeStore) AnimeIDBySubject(_ context.Context, subjectID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.anime[subjectID]
	if !ok {
		return 0, store.ErrNotFound
	}
	return row.ID, nil
}

// LastDetailCrawl returns the last detail crawl timestamp.
func (s *AnimeStore) LastDetailCrawl(_ context.Context, subjectID int64) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.anime[subjectID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return row.LastCrawledAt, nil
}

// EpisodeCount counts episodes stored for an anime.
func (s *AnimeStore) EpisodeCount(_ context.Context, animeID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for key := range s.episodes {
		if key.animeID == animeID {
			count++
		}
	}
	return count, nil
}

// NumberedCalendarEntries counts entries with a known episode number within [start, end].
func (s *AnimeStore) NumberedCalendarEntries(_ context.Context, animeID int64, start, end time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for key, entry := range s.calendar {
		if key.animeID != animeID || entry.EpisodeNo == nil {
			continue
		}
		if key.airDate.Before(start) || key.airDate.After(end) {
			continue
		}
		count++
	}
	return count, nil
}

// StartRun records a running crawl cycle.
func (s *AnimeStore) StartRun(_ context.Context, run store.CrawlRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

// FinishRun records the outcome of a crawl cycle.
func (s *AnimeStore) FinishRun(_ context.Context, run store.CrawlRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return store.ErrNotFound
	}
	s.runs[run.ID] = run
	return nil
}

// AirDates returns distinct calendar dates within [start, end] in ascending order.
func (s *AnimeStore) AirDates(_ context.Context, start, end time.Time) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[time.Time]struct{})
	var dates []time.Time
	for key := range s.calendar {
		if key.airDate.Before(start) || key.airDate.After(end) {
			continue
		}
		if _, dup := seen[key.airDate]; dup {
			continue
		}
		seen[key.airDate] = struct{}{}
		dates = append(dates, key.airDate)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

// LatestDetailCrawl returns the most recent detail crawl across all anime.
func (s *AnimeStore) LatestDetailCrawl(_ context.Context) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *time.Time
	for _, row := range s.anime {
		if row.LastCrawledAt == nil {
			continue
		}
		if latest == nil || row.LastCrawledAt.After(*latest) {
			ts := *row.LastCrawledAt
			latest = &ts
		}
	}
	return latest, nil
}

// UpdatesOn lists calendar entries airing on day, highest rating first.
func (s *AnimeStore) UpdatesOn(_ context.Context, day time.Time) ([]store.UpdateItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	day = day.UTC()
	var items []store.UpdateItem
	for key, entry := range s.calendar {
		if !key.airDate.Equal(day) {
			continue
		}
		row, ok := s.animeByID(key.animeID)
		if !ok {
			continue
		}
		episode := entry.EpisodeNo
		if episode == nil {
			episode = s.episodeAiredOn(key.animeID, day)
		}
		if episode == nil {
			episode = s.maxEpisode(key.animeID)
		}
		items = append(items, store.UpdateItem{
			SubjectID:     row.SubjectID,
			Title:         row.Title,
			TitleZH:       row.TitleZH,
			Rating:        row.Rating,
			CoverImageURL: row.CoverImageURL,
			Weekday:       entry.Weekday,
			AirDate:       key.airDate,
			EpisodeNo:     episode,
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return ratingDesc(items[i].Rating, items[j].Rating) })
	return items, nil
}

// AnimeByWeekday lists anime broadcast on weekday, highest rating first.
func (s *AnimeStore) AnimeByWeekday(_ context.Context, weekday int) ([]store.WeekdayItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var items []store.WeekdayItem
	for _, row := range s.anime {
		if row.Weekday == nil || *row.Weekday != weekday {
			continue
		}
		items = append(items, store.WeekdayItem{
			SubjectID:     row.SubjectID,
			Title:         row.Title,
			TitleZH:       row.TitleZH,
			Rating:        row.Rating,
			CoverImageURL: row.CoverImageURL,
			Weekday:       row.Weekday,
			MaxEpisode:    s.maxEpisode(row.ID),
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return ratingDesc(items[i].Rating, items[j].Rating) })
	return items, nil
}

// AnimeBySubject loads one anime by subject ID.
func (s *AnimeStore) AnimeBySubject(_ context.Context, subjectID int64) (store.Anime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.anime[subjectID]
	if !ok {
		return store.Anime{}, store.ErrNotFound
	}
	return row, nil
}

// EpisodeNumbers lists stored episode numbers in ascending order.
func (s *AnimeStore) EpisodeNumbers(_ context.Context, animeID int64) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var numbers []int
	for key := range s.episodes {
		if key.animeID == animeID {
			numbers = append(numbers, key.number)
		}
	}
	sort.Ints(numbers)
	return numbers, nil
}

// Episode returns a stored episode, for assertions.
func (s *AnimeStore) Episode(animeID int64, number int) (store.Episode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.episodes[episodeKey{animeID: animeID, number: number}]
	return ep, ok
}

// CalendarEntries returns every calendar entry of an anime ordered by date.
func (s *AnimeStore) CalendarEntries(animeID int64) []store.CalendarEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []store.CalendarEntry
	for key, entry := range s.calendar {
		if key.animeID == animeID {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].AirDate.Before(entries[j].AirDate) })
	return entries
}

// Runs returns every recorded crawl run.
func (s *AnimeStore) Runs() []store.CrawlRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]store.CrawlRun, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })
	return runs
}

// Ping reports the configured ping error.
func (s *AnimeStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pingError
}

// Close is a no-op.
func (s *AnimeStore) Close() {}

func (s *AnimeStore) animeByID(id int64) (store.Anime, bool) {
	for _, row := range s.anime {
		if row.ID == id {
			return row, true
		}
	}
	return store.Anime{}, false
}

func (s *AnimeStore) episodeAiredOn(animeID int64, day time.Time) *int {
	var best *int
	for key, ep := range s.episodes {
		if key.animeID != animeID || ep.AirDate == nil || !ep.AirDate.Equal(day) {
			continue
		}
		if best == nil || key.number > *best {
			n := key.number
			best = &n
		}
	}
	return best
}

func (s *AnimeStore) maxEpisode(animeID int64) *int {
	var best *int
	for key := range s.episodes {
		if key.animeID != animeID {
			continue
		}
		if best == nil || key.number > *best {
			n := key.number
			best = &n
		}
	}
	return best
}

func coalesce[T any](preferred, fallback *T) *T {
	if preferred != nil {
		return preferred
	}
	return fallback
}

// ratingDesc orders ratings descending with nil last.
func ratingDesc(a, b *float64) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return *a > *b
	}
}
