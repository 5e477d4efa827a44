package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/anime-guide-crawler/internal/extract"
	"github.com/JakeFAU/anime-guide-crawler/internal/metrics"
	"github.com/JakeFAU/anime-guide-crawler/internal/store"
)

// CrawlEpisodes stores the episode list of one subject and returns how many
// episodes were written. Dated episodes also land on the airing calendar.
// A subject without an anime row is skipped with a warning.
func (c *Crawler) CrawlEpisodes(ctx context.Context, subjectID int64) (int, error) {
	url := c.cfg.EpisodesURL(subjectID)
	log := c.logger.With(zap.Int64("subject_id", subjectID))
	log.Info("crawling episodes", zap.String("url", url))

	html, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("fetch episodes %d: %w", subjectID, err)
	}
	page, err := extract.ParseEpisodes(html)
	if err != nil {
		return 0, fmt.Errorf("parse episodes %d: %w", subjectID, err)
	}
	if page.Container == "" {
		metrics.ObserveParseMiss("episodes")
		c.archivePage(ctx, "episodes", fmt.Sprint(subjectID), html)
		log.Warn("no episode list found", zap.String("title", page.PageTitle))
		for i, snippet := range page.Snippets {
			log.Warn("episode container snippet", zap.Int("index", i), zap.String("snippet", snippet))
		}
	}

	animeID, err := c.repo.AnimeIDBySubject(ctx, subjectID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("anime row missing, episodes not stored")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("resolve anime %d: %w", subjectID, err)
	}

	written := 0
	for _, item := range page.Items {
		if err := ctx.Err(); err != nil {
			return written, fmt.Errorf("episodes %d: %w", subjectID, err)
		}
		err := c.repo.UpsertEpisode(ctx, store.Episode{
			AnimeID: animeID,
			Number:  item.Number,
			Title:   item.Title,
			AirDate: item.AirDate,
		})
		if err != nil {
			return written, fmt.Errorf("store episode %d of %d: %w", item.Number, subjectID, err)
		}
		if item.AirDate != nil {
			number := item.Number
			err := c.repo.UpsertCalendarEntry(ctx, store.CalendarEntry{
				AnimeID:   animeID,
				AirDate:   *item.AirDate,
				Weekday:   extract.Weekday(*item.AirDate),
				EpisodeNo: &number,
			})
			if err != nil {
				return written, fmt.Errorf("store airing date of episode %d of %d: %w", item.Number, subjectID, err)
			}
		}
		written++
	}

	if page.Candidates > 0 && written == 0 {
		log.Warn("episode candidates found but none stored",
			zap.String("container", page.Container),
			zap.Int("candidates", page.Candidates),
		)
	}
	log.Info("episodes stored", zap.Int("count", written))
	return written, nil
}
