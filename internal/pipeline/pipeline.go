package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/anime-guide-crawler/internal/extract"
	"github.com/JakeFAU/anime-guide-crawler/internal/store"
)

// Fetcher returns the decoded body of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Renderer returns the DOM of a page after scripts ran.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// Archive stores raw pages and returns a URI.
type Archive interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes run summaries to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests for archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time in the location that decides "today".
type Clock interface {
	Now() time.Time
}

// Repository is the persistence surface the crawl needs.
type Repository interface {
	store.CrawlRepository
	store.RunRepository
}

// Config controls URLs and staleness thresholds.
type Config struct {
	BaseURL             string
	CalendarURL         string
	FallbackCalendarURL string
	// DetailMaxAge is the age at which a detail crawl is due again.
	DetailMaxAge time.Duration
	// Concurrency bounds per-subject work; 1 runs subjects sequentially.
	Concurrency int
	// Topic is attached to published run summaries; empty disables publishing.
	Topic         string
	ArchivePrefix string
}

// Defaults for Config.
const (
	DefaultCalendarURL         = extract.BaseURL + "/calendar"
	DefaultFallbackCalendarURL = "https://bgm.tv/calendar"
	DefaultDetailMaxAge        = 7 * 24 * time.Hour
)

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = extract.BaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.CalendarURL == "" {
		c.CalendarURL = c.BaseURL + "/calendar"
	}
	if c.FallbackCalendarURL == "" {
		c.FallbackCalendarURL = DefaultFallbackCalendarURL
	}
	if c.DetailMaxAge <= 0 {
		c.DetailMaxAge = DefaultDetailMaxAge
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	return c
}

// SubjectURL is the detail page of a subject.
func (c Config) SubjectURL(subjectID int64) string {
	return fmt.Sprintf("%s/subject/%d", c.BaseURL, subjectID)
}

// EpisodesURL is the episode list page of a subject.
func (c Config) EpisodesURL(subjectID int64) string {
	return fmt.Sprintf("%s/subject/%d/ep", c.BaseURL, subjectID)
}

// Crawler runs the individual calendar, subject and episode crawls.
type Crawler struct {
	repo      Repository
	fetcher   Fetcher
	renderer  Renderer
	archive   Archive
	hasher    Hasher
	publisher Publisher
	clock     Clock
	cfg       Config
	logger    *zap.Logger
}

// Option customizes a Crawler.
type Option func(*Crawler)

// WithRenderer enables the headless calendar fallback.
func WithRenderer(r Renderer) Option {
	return func(c *Crawler) { c.renderer = r }
}

// WithArchive stores pages whose expected structure was missing.
func WithArchive(a Archive, h Hasher) Option {
	return func(c *Crawler) {
		c.archive = a
		c.hasher = h
	}
}

// WithPublisher publishes a summary after every run.
func WithPublisher(p Publisher) Option {
	return func(c *Crawler) { c.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Crawler) {
		if l != nil {
			c.logger = l
		}
	}
}

// New constructs a Crawler.
func New(repo Repository, fetcher Fetcher, clock Clock, cfg Config, opts ...Option) (*Crawler, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	c := &Crawler{
		repo:    repo,
		fetcher: fetcher,
		clock:   clock,
		cfg:     cfg.withDefaults(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// today is the current calendar day in the clock's location.
func (c *Crawler) today() time.Time {
	return extract.DateOf(c.clock.Now())
}
