// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/anime-guide-crawler/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// AnimeStore implements store.Repository on Postgres. Each method is a single
// statement; no transaction spans rows.
type AnimeStore struct {
	pool pool
}

var _ store.Repository = (*AnimeStore)(nil)

// NewAnimeStore connects a pool using cfg.
func NewAnimeStore(ctx context.Context, cfg Config) (*AnimeStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &AnimeStore{pool: p}, nil
}

// NewAnimeStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewAnimeStoreWithPool(p pool) (*AnimeStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &AnimeStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *AnimeStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables when missing.
func (s *AnimeStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *AnimeStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// UpsertAnimeFromCalendar inserts or refreshes an anime from a calendar sighting.
func (s *AnimeStore) UpsertAnimeFromCalendar(ctx context.Context, sighting store.CalendarSighting) (int64, error) {
	query := `
		INSERT INTO anime (bgm_subject_id, bgm_url, title, cover_image_url, weekday)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (bgm_subject_id) DO UPDATE SET
			bgm_url = EXCLUDED.bgm_url,
			title = EXCLUDED.title,
			cover_image_url = EXCLUDED.cover_image_url,
			weekday = EXCLUDED.weekday,
			updated_at = NOW()
		RETURNING id
	`
	var id int64
	err := s.pool.QueryRow(ctx, query,
		sighting.SubjectID,
		sighting.URL,
		sighting.Title,
		sighting.CoverImageURL,
		sighting.Weekday,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert anime %d: %w", sighting.SubjectID, err)
	}
	return id, nil
}

// UpdateAnimeDetail merges detail fields, keeping stored values where the
// detail is nil, and stamps last_crawled_at.
func (s *AnimeStore) UpdateAnimeDetail(
	ctx context.Context,
	subjectID int64,
	detail store.AnimeDetail,
	crawledAt time.Time,
) error {
	query := `
		UPDATE anime SET
			title_zh = COALESCE($1, title_zh),
			summary = COALESCE($2, summary),
			start_date = COALESCE($3, start_date),
			total_episodes = COALESCE($4, total_episodes),
			rating = COALESCE($5, rating),
			rating_count = COALESCE($6, rating_count),
			last_crawled_at = $7,
			updated_at = NOW()
		WHERE bgm_subject_id = $8
	`
	_, err := s.pool.Exec(ctx, query,
		detail.TitleZH,
		detail.Summary,
		detail.StartDate,
		detail.TotalEpisodes,
		detail.Rating,
		detail.RatingCount,
		crawledAt,
		subjectID,
	)
	if err != nil {
		return fmt.Errorf("update anime detail %d: %w", subjectID, err)
	}
	return nil
}

// UpsertEpisode replaces title and air date for (anime, number).
func (s *AnimeStore) UpsertEpisode(ctx context.Context, episode store.Episode) error {
	if episode.Number <= 0 {
		return fmt.Errorf("episode number must be positive, got %d", episode.Number)
	}
	query := `
		INSERT INTO anime_episode (anime_id, episode_no, title, air_date)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (anime_id, episode_no) DO UPDATE SET
			title = EXCLUDED.title,
			air_date = EXCLUDED.air_date,
			updated_at = NOW()
	`
	if _, err := s.pool.Exec(ctx, query, episode.AnimeID, episode.Number, episode.Title, episode.AirDate); err != nil {
		return fmt.Errorf("upsert episode %d/%d: %w", episode.AnimeID, episode.Number, err)
	}
	return nil
}

// UpsertCalendarEntry overwrites the weekday and fills episode_no only when unset.
func (s *AnimeStore) UpsertCalendarEntry(ctx context.Context, entry store.CalendarEntry) error {
	query := `
		INSERT INTO anime_airing_calendar (anime_id, air_date, weekday, episode_no)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (anime_id, air_date) DO UPDATE SET
			weekday = EXCLUDED.weekday,
			episode_no = COALESCE(anime_airing_calendar.episode_no, EXCLUDED.episode_no)
	`
	if _, err := s.pool.Exec(ctx, query, entry.AnimeID, entry.AirDate, entry.Weekday, entry.EpisodeNo); err != nil {
		return fmt.Errorf("upsert calendar entry %d@%s: %w", entry.AnimeID, entry.AirDate.Format(time.DateOnly), err)
	}
	return nil
}

// AnimeIDBySubject resolves the surrogate ID for a subject.
func (s *AnimeStore) AnimeIDBySubject(ctx context.Context, subjectID int64) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT id FROM anime WHERE bgm_subject_id = $1`, subjectID).Scan(&id)
	if err != nil {
		return 0, notFound(err, fmt.Sprintf("lookup anime %d", subjectID))
	}
	return id, nil
}

// LastDetailCrawl returns last_crawled_at, nil when the detail was never crawled.
func (s *AnimeStore) LastDetailCrawl(ctx context.Context, subjectID int64) (*time.Time, error) {
	var last *time.Time
	err := s.pool.QueryRow(ctx, `SELECT last_crawled_at FROM anime WHERE bgm_subject_id = $1`, subjectID).Scan(&last)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("lookup last crawl %d", subjectID))
	}
	return last, nil
}

// EpisodeCount counts stored episodes for an anime.
func (s *AnimeStore) EpisodeCount(ctx context.Context, animeID int64) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM anime_episode WHERE anime_id = $1`, animeID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count episodes %d: %w", animeID, err)
	}
	return count, nil
}

// NumberedCalendarEntries counts calendar entries with a known episode number in [start, end].
func (s *AnimeStore) NumberedCalendarEntries(ctx context.Context, animeID int64, start, end time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM anime_airing_calendar
		WHERE anime_id = $1 AND episode_no IS NOT NULL AND air_date BETWEEN $2 AND $3
	`
	var count int
	if err := s.pool.QueryRow(ctx, query, animeID, start, end).Scan(&count); err != nil {
		return 0, fmt.Errorf("count calendar entries %d: %w", animeID, err)
	}
	return count, nil
}

func notFound(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
