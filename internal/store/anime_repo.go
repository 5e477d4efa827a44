package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// RunStatus mirrors the crawl_run status column.
type RunStatus string

// Crawl run statuses persisted in crawl_run.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunError   RunStatus = "error"
)

// Anime models one row of the anime table.
type Anime struct {
	// ID is the surrogate key; stable across updates.
	ID int64
	// SubjectID is the external catalog ID (unique).
	SubjectID int64
	URL       string
	Title     string
	TitleZH   *string
	Summary   *string
	// StartDate is the first-air date at midnight UTC.
	StartDate     *time.Time
	TotalEpisodes *int
	// Weekday uses 0=Sunday..6=Saturday.
	Weekday       *int
	Rating        *float64
	RatingCount   *int
	CoverImageURL string
	// LastCrawledAt is written only by the detail crawl.
	LastCrawledAt *time.Time
}

// CalendarSighting is the minimal anime payload discovered on the weekly calendar.
// Title, URL, cover and weekday are authoritative and overwrite stored values.
type CalendarSighting struct {
	SubjectID     int64
	URL           string
	Title         string
	CoverImageURL string
	Weekday       int
}

// AnimeDetail carries detail-page fields. Nil fields keep the stored value.
type AnimeDetail struct {
	TitleZH       *string
	Summary       *string
	StartDate     *time.Time
	TotalEpisodes *int
	Rating        *float64
	RatingCount   *int
}

// Episode models one anime_episode row, unique per (AnimeID, Number).
type Episode struct {
	AnimeID int64
	Number  int
	Title   string
	AirDate *time.Time
}

// CalendarEntry models one anime_airing_calendar row, unique per (AnimeID, AirDate).
// On conflict Weekday is overwritten and EpisodeNo is only filled when unset.
type CalendarEntry struct {
	AnimeID   int64
	AirDate   time.Time
	Weekday   int
	EpisodeNo *int
}

// CrawlRun models one orchestrator cycle in crawl_run.
type CrawlRun struct {
	ID           uuid.UUID
	StartedAt    time.Time
	FinishedAt   *time.Time
	Status       RunStatus
	Discovered   int
	Failed       int
	ErrorMessage *string
}

// UpdateItem is a calendar entry joined with its anime for the per-date listing.
type UpdateItem struct {
	SubjectID     int64
	Title         string
	TitleZH       *string
	Rating        *float64
	CoverImageURL string
	Weekday       int
	AirDate       time.Time
	// EpisodeNo falls back from the calendar entry to the episode airing that
	// day, then to the highest known episode.
	EpisodeNo *int
}

// WeekdayItem is an anime broadcast on a weekday with its highest known episode.
type WeekdayItem struct {
	SubjectID     int64
	Title         string
	TitleZH       *string
	Rating        *float64
	CoverImageURL string
	Weekday       *int
	MaxEpisode    *int
}

// CrawlRepository is the write side used by the crawl pipeline.
type CrawlRepository interface {
	// UpsertAnimeFromCalendar inserts or refreshes an anime keyed by subject ID and returns its ID.
	UpsertAnimeFromCalendar(ctx context.Context, sighting CalendarSighting) (int64, error)
	// UpdateAnimeDetail merges detail fields and stamps last_crawled_at unconditionally.
	UpdateAnimeDetail(ctx context.Context, subjectID int64, detail AnimeDetail, crawledAt time.Time) error
	// UpsertEpisode replaces title and air date for (anime, number).
	UpsertEpisode(ctx context.Context, episode Episode) error
	// UpsertCalendarEntry applies the airing-calendar merge policy.
	UpsertCalendarEntry(ctx context.Context, entry CalendarEntry) error

	// AnimeIDBySubject resolves the surrogate ID or returns ErrNotFound.
	AnimeIDBySubject(ctx context.Context, subjectID int64) (int64, error)
	// LastDetailCrawl returns last_crawled_at (nil when never crawled) or ErrNotFound.
	LastDetailCrawl(ctx context.Context, subjectID int64) (*time.Time, error)
	// EpisodeCount counts stored episodes for an anime.
	EpisodeCount(ctx context.Context, animeID int64) (int, error)
	// NumberedCalendarEntries counts entries with a known episode number in [start, end].
	NumberedCalendarEntries(ctx context.Context, animeID int64, start, end time.Time) (int, error)
}

// RunRepository records crawl cycles.
type RunRepository interface {
	StartRun(ctx context.Context, run CrawlRun) error
	FinishRun(ctx context.Context, run CrawlRun) error
}

// GuideReader is the read-only side used by the query API.
type GuideReader interface {
	AirDates(ctx context.Context, start, end time.Time) ([]time.Time, error)
	LatestDetailCrawl(ctx context.Context) (*time.Time, error)
	UpdatesOn(ctx context.Context, day time.Time) ([]UpdateItem, error)
	AnimeByWeekday(ctx context.Context, weekday int) ([]WeekdayItem, error)
	AnimeBySubject(ctx context.Context, subjectID int64) (Anime, error)
	EpisodeNumbers(ctx context.Context, animeID int64) ([]int, error)
	Ping(ctx context.Context) error
}

// Repository bundles every persistence capability of a backend.
type Repository interface {
	CrawlRepository
	RunRepository
	GuideReader
	Close()
}
