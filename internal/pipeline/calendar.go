package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/anime-guide-crawler/internal/extract"
	"github.com/JakeFAU/anime-guide-crawler/internal/metrics"
	"github.com/JakeFAU/anime-guide-crawler/internal/store"
)

// CrawlCalendar discovers this week's anime, records each sighting and its
// airing date, and returns the subject IDs in first-seen order without
// duplicates. An empty calendar is not an error.
func (c *Crawler) CrawlCalendar(ctx context.Context) ([]int64, error) {
	page, html, err := c.loadCalendar(ctx)
	if err != nil {
		return nil, err
	}
	if page.Blocks == 0 {
		metrics.ObserveParseMiss("calendar")
		c.archivePage(ctx, "calendar", "calendar", html)
		c.logger.Warn("calendar has no day blocks")
		return nil, nil
	}
	c.logger.Info("calendar parsed", zap.Int("blocks", page.Blocks), zap.Int("items", len(page.Items)))

	weekStart := extract.WeekStart(c.today())
	seen := make(map[int64]struct{}, len(page.Items))
	ids := make([]int64, 0, len(page.Items))
	for _, item := range page.Items {
		if err := ctx.Err(); err != nil {
			return ids, fmt.Errorf("calendar crawl: %w", err)
		}
		if err := c.recordSighting(ctx, item, weekStart); err != nil {
			c.logger.Error("calendar sighting not recorded", zap.Int64("subject_id", item.SubjectID), zap.Error(err))
			continue
		}
		if _, dup := seen[item.SubjectID]; dup {
			continue
		}
		seen[item.SubjectID] = struct{}{}
		ids = append(ids, item.SubjectID)
	}
	return ids, nil
}

// loadCalendar tries the primary domain, the alternate domain and finally the
// headless renderer until a page with day blocks is found.
func (c *Crawler) loadCalendar(ctx context.Context) (extract.CalendarPage, string, error) {
	urls := []string{c.cfg.CalendarURL, c.cfg.FallbackCalendarURL}
	var (
		page    extract.CalendarPage
		html    string
		lastErr error
		fetched bool
	)
	for i, url := range urls {
		if i > 0 {
			c.logger.Warn("calendar yielded no day blocks, trying alternate domain", zap.String("url", url))
		}
		body, err := c.fetcher.Fetch(ctx, url)
		if err != nil {
			lastErr = err
			c.logger.Warn("calendar fetch failed", zap.String("url", url), zap.Error(err))
			if ctx.Err() != nil {
				return page, html, fmt.Errorf("fetch calendar: %w", err)
			}
			continue
		}
		fetched = true
		html = body
		page, err = extract.ParseCalendar(body)
		if err != nil {
			return page, html, fmt.Errorf("parse calendar: %w", err)
		}
		if page.Blocks > 0 {
			return page, html, nil
		}
	}

	if c.renderer != nil {
		c.logger.Warn("falling back to headless calendar render", zap.String("url", c.cfg.CalendarURL))
		body, err := c.renderer.Render(ctx, c.cfg.CalendarURL)
		if err != nil {
			c.logger.Warn("headless calendar render failed", zap.Error(err))
		} else if rendered, perr := extract.ParseCalendar(body); perr == nil {
			fetched = true
			html = body
			page = rendered
		}
	}

	if !fetched {
		if lastErr == nil {
			lastErr = errors.New("no calendar source")
		}
		return page, html, fmt.Errorf("fetch calendar: %w", lastErr)
	}
	return page, html, nil
}

func (c *Crawler) recordSighting(ctx context.Context, item extract.CalendarItem, weekStart time.Time) error {
	animeID, err := c.repo.UpsertAnimeFromCalendar(ctx, store.CalendarSighting{
		SubjectID:     item.SubjectID,
		URL:           item.URL,
		Title:         item.Title,
		CoverImageURL: item.CoverImageURL,
		Weekday:       item.Weekday,
	})
	if err != nil {
		return fmt.Errorf("record calendar sighting %d: %w", item.SubjectID, err)
	}
	if animeID == 0 {
		return nil
	}
	err = c.repo.UpsertCalendarEntry(ctx, store.CalendarEntry{
		AnimeID: animeID,
		AirDate: weekStart.AddDate(0, 0, item.Weekday),
		Weekday: item.Weekday,
	})
	if err != nil {
		return fmt.Errorf("record airing date %d: %w", item.SubjectID, err)
	}
	return nil
}
