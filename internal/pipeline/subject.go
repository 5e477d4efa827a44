package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/anime-guide-crawler/internal/extract"
	"github.com/JakeFAU/anime-guide-crawler/internal/metrics"
	"github.com/JakeFAU/anime-guide-crawler/internal/store"
)

// CrawlSubject refreshes the detail fields of one subject. Fields missing
// from the page keep their stored values; the crawl time is always stamped.
func (c *Crawler) CrawlSubject(ctx context.Context, subjectID int64) error {
	url := c.cfg.SubjectURL(subjectID)
	c.logger.Info("crawling subject", zap.Int64("subject_id", subjectID), zap.String("url", url))

	html, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return fmt.Errorf("fetch subject %d: %w", subjectID, err)
	}
	detail, err := extract.ParseSubject(html)
	if err != nil {
		return fmt.Errorf("parse subject %d: %w", subjectID, err)
	}
	if isEmptyDetail(detail) {
		metrics.ObserveParseMiss("subject")
		c.archivePage(ctx, "subject", fmt.Sprint(subjectID), html)
		c.logger.Warn("subject page yielded no detail fields", zap.Int64("subject_id", subjectID))
	}

	err = c.repo.UpdateAnimeDetail(ctx, subjectID, store.AnimeDetail{
		TitleZH:       detail.TitleZH,
		Summary:       detail.Summary,
		StartDate:     detail.StartDate,
		TotalEpisodes: detail.TotalEpisodes,
		Rating:        detail.Rating,
		RatingCount:   detail.RatingCount,
	}, c.clock.Now())
	if err != nil {
		return fmt.Errorf("store subject %d: %w", subjectID, err)
	}
	c.logger.Debug("subject stored",
		zap.Int64("subject_id", subjectID),
		zap.Int("infobox_fields", len(detail.Infobox)),
	)
	return nil
}

func isEmptyDetail(d extract.SubjectDetail) bool {
	return d.TitleZH == nil && d.Summary == nil && d.StartDate == nil &&
		d.TotalEpisodes == nil && d.Rating == nil && d.RatingCount == nil
}
