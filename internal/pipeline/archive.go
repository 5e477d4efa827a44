package pipeline

import (
	"context"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/anime-guide-crawler/internal/extract"
)

const archiveContentType = "text/html; charset=utf-8"

// archivePage keeps the raw HTML of a page whose structure was not recognized.
// Failures are logged and never affect the crawl.
func (c *Crawler) archivePage(ctx context.Context, kind, key, html string) {
	if c.archive == nil || html == "" {
		return
	}
	name := key
	if c.hasher != nil {
		digest, err := c.hasher.Hash([]byte(html))
		if err == nil && len(digest) >= 12 {
			name = key + "-" + digest[:12]
		}
	}
	p := path.Join(kind, extract.FormatISO(c.today()), name+".html")
	if prefix := strings.Trim(c.cfg.ArchivePrefix, "/"); prefix != "" {
		p = path.Join(prefix, p)
	}
	uri, err := c.archive.PutObject(ctx, p, archiveContentType, strings.NewReader(html))
	if err != nil {
		c.logger.Warn("archive page failed", zap.String("kind", kind), zap.String("path", p), zap.Error(err))
		return
	}
	c.logger.Info("page archived", zap.String("kind", kind), zap.String("uri", uri))
}
