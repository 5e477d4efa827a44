package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/anime-guide-crawler/internal/store"
)

// AirDates lists distinct calendar dates within [start, end].
func (s *AnimeStore) AirDates(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT air_date FROM anime_airing_calendar
		WHERE air_date BETWEEN $1 AND $2
		ORDER BY air_date
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("query air dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan air date: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate air dates: %w", err)
	}
	return dates, nil
}

// LatestDetailCrawl returns the most recent detail crawl across the catalog.
func (s *AnimeStore) LatestDetailCrawl(ctx context.Context) (*time.Time, error) {
	var latest *time.Time
	if err := s.pool.QueryRow(ctx, `SELECT MAX(last_crawled_at) FROM anime`).Scan(&latest); err != nil {
		return nil, fmt.Errorf("query latest crawl: %w", err)
	}
	return latest, nil
}

// UpdatesOn lists anime airing on day. The episode number falls back from the
// calendar entry to an episode dated that day, then to the highest episode.
func (s *AnimeStore) UpdatesOn(ctx context.Context, day time.Time) ([]store.UpdateItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.bgm_subject_id, a.title, a.title_zh, a.rating, a.cover_image_url,
			c.weekday, c.air_date,
			COALESCE(
				c.episode_no,
				(SELECT MAX(e.episode_no) FROM anime_episode e
					WHERE e.anime_id = a.id AND e.air_date = c.air_date),
				(SELECT MAX(e.episode_no) FROM anime_episode e WHERE e.anime_id = a.id)
			)
		FROM anime_airing_calendar c
		JOIN anime a ON a.id = c.anime_id
		WHERE c.air_date = $1
		ORDER BY a.rating DESC NULLS LAST, a.id
	`, day)
	if err != nil {
		return nil, fmt.Errorf("query updates: %w", err)
	}
	defer rows.Close()

	var items []store.UpdateItem
	for rows.Next() {
		var it store.UpdateItem
		if err := rows.Scan(
			&it.SubjectID,
			&it.Title,
			&it.TitleZH,
			&it.Rating,
			&it.CoverImageURL,
			&it.Weekday,
			&it.AirDate,
			&it.EpisodeNo,
		); err != nil {
			return nil, fmt.Errorf("scan update: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate updates: %w", err)
	}
	return items, nil
}

// AnimeByWeekday lists anime broadcast on weekday with their highest episode.
func (s *AnimeStore) AnimeByWeekday(ctx context.Context, weekday int) ([]store.WeekdayItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.bgm_subject_id, a.title, a.title_zh, a.rating, a.cover_image_url, a.weekday,
			(SELECT MAX(e.episode_no) FROM anime_episode e WHERE e.anime_id = a.id)
		FROM anime a
		WHERE a.weekday = $1
		ORDER BY a.rating DESC NULLS LAST, a.id
	`, weekday)
	if err != nil {
		return nil, fmt.Errorf("query weekday %d: %w", weekday, err)
	}
	defer rows.Close()

	var items []store.WeekdayItem
	for rows.Next() {
		var it store.WeekdayItem
		if err := rows.Scan(
			&it.SubjectID,
			&it.Title,
			&it.TitleZH,
			&it.Rating,
			&it.CoverImageURL,
			&it.Weekday,
			&it.MaxEpisode,
		); err != nil {
			return nil, fmt.Errorf("scan weekday item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate weekday items: %w", err)
	}
	return items, nil
}

// AnimeBySubject loads one anime row.
func (s *AnimeStore) AnimeBySubject(ctx context.Context, subjectID int64) (store.Anime, error) {
	var a store.Anime
	err := s.pool.QueryRow(ctx, `
		SELECT id, bgm_subject_id, bgm_url, title, title_zh, summary, start_date,
			total_episodes, weekday, rating, rating_count, cover_image_url, last_crawled_at
		FROM anime WHERE bgm_subject_id = $1
	`, subjectID).Scan(
		&a.ID,
		&a.SubjectID,
		&a.URL,
		&a.Title,
		&a.TitleZH,
		&a.Summary,
		&a.StartDate,
		&a.TotalEpisodes,
		&a.Weekday,
		&a.Rating,
		&a.RatingCount,
		&a.CoverImageURL,
		&a.LastCrawledAt,
	)
	if err != nil {
		return store.Anime{}, notFound(err, fmt.Sprintf("load anime %d", subjectID))
	}
	return a, nil
}

// EpisodeNumbers lists stored episode numbers in ascending order.
func (s *AnimeStore) EpisodeNumbers(ctx context.Context, animeID int64) ([]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT episode_no FROM anime_episode WHERE anime_id = $1 ORDER BY episode_no`, animeID)
	if err != nil {
		return nil, fmt.Errorf("query episode numbers %d: %w", animeID, err)
	}
	defer rows.Close()

	var numbers []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan episode number: %w", err)
		}
		numbers = append(numbers, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate episode numbers: %w", err)
	}
	return numbers, nil
}
