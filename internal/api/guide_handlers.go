package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/anime-guide-crawler/internal/extract"
	"github.com/JakeFAU/anime-guide-crawler/internal/store"
)

const guideTimeout = 5 * time.Second

var weekdayText = [7]string{"星期日", "星期一", "星期二", "星期三", "星期四", "星期五", "星期六"}

// GuideItem is one anime in a date or weekday listing.
type GuideItem struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	ChineseTitle  string  `json:"chineseTitle"`
	OriginalTitle string  `json:"originalTitle"`
	CoverURL      string  `json:"coverUrl"`
	Weekday       *int    `json:"weekday"`
	Date          string  `json:"date"`
	Episode       *string `json:"episode"`
	Rating        float64 `json:"rating"`
	UpdateTime    *string `json:"updateTime"`
}

// GuideDetail is the detail view of one anime.
type GuideDetail struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	CoverURL      string  `json:"coverUrl"`
	ChineseTitle  string  `json:"chineseTitle"`
	TotalEpisodes int     `json:"totalEpisodes"`
	StartDate     *string `json:"startDate"`
	WeekdayText   string  `json:"weekdayText"`
	Episodes      []int   `json:"episodes"`
	Synopsis      string  `json:"synopsis"`
	Rating        float64 `json:"rating"`
}

// GuideHandler serves the anime guide read endpoints.
type GuideHandler struct {
	repo    store.GuideReader
	timeout time.Duration
	logger  *zap.Logger
}

// NewGuideHandler wires the reader and logger.
func NewGuideHandler(repo store.GuideReader, logger *zap.Logger) *GuideHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GuideHandler{repo: repo, timeout: guideTimeout, logger: logger}
}

// Calendar handles GET /v1/anime-guide/calendar?start=&end=. It returns the
// distinct airing dates in the inclusive range.
func (h *GuideHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	start, ok := parseDateParam(w, r, "start")
	if !ok {
		return
	}
	end, ok := parseDateParam(w, r, "end")
	if !ok {
		return
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "end must not precede start")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	dates, err := h.repo.AirDates(ctx, start, end)
	if err != nil {
		h.fail(w, "air dates", err)
		return
	}
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, extract.FormatISO(d))
	}
	writeJSON(w, http.StatusOK, map[string][]string{"dates": out})
}

// CrawlStatus handles GET /v1/anime-guide/crawl-status.
func (h *GuideHandler) CrawlStatus(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	last, err := h.repo.LatestDetailCrawl(ctx)
	if err != nil {
		h.fail(w, "latest detail crawl", err)
		return
	}
	var out *string
	if last != nil {
		s := last.UTC().Format(time.RFC3339)
		out = &s
	}
	writeJSON(w, http.StatusOK, map[string]*string{"lastCrawledAt": out})
}

// Updates handles GET /v1/anime-guide/updates?date=. Items are ordered by
// rating, highest first, unrated last.
func (h *GuideHandler) Updates(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	day, ok := parseDateParam(w, r, "date")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	rows, err := h.repo.UpdatesOn(ctx, day)
	if err != nil {
		h.fail(w, "updates", err)
		return
	}
	items := make([]GuideItem, 0, len(rows))
	for _, row := range rows {
		weekday := row.Weekday
		items = append(items, GuideItem{
			ID:            strconv.FormatInt(row.SubjectID, 10),
			Title:         row.Title,
			ChineseTitle:  deref(row.TitleZH),
			OriginalTitle: row.Title,
			CoverURL:      row.CoverImageURL,
			Weekday:       &weekday,
			Date:          extract.FormatISO(row.AirDate),
			Episode:       EpisodeLabel(row.EpisodeNo),
			Rating:        FiveStarRating(row.Rating),
		})
	}
	writeJSON(w, http.StatusOK, map[string][]GuideItem{"items": items})
}

// Weekday handles GET /v1/anime-guide/weekday?weekday=0..6.
func (h *GuideHandler) Weekday(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	weekday, err := strconv.Atoi(r.URL.Query().Get("weekday"))
	if err != nil || weekday < 0 || weekday > 6 {
		writeError(w, http.StatusBadRequest, "weekday must be an integer between 0 and 6")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	rows, err := h.repo.AnimeByWeekday(ctx, weekday)
	if err != nil {
		h.fail(w, "anime by weekday", err)
		return
	}
	items := make([]GuideItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, GuideItem{
			ID:            strconv.FormatInt(row.SubjectID, 10),
			Title:         row.Title,
			ChineseTitle:  deref(row.TitleZH),
			OriginalTitle: row.Title,
			CoverURL:      row.CoverImageURL,
			Weekday:       row.Weekday,
			Episode:       EpisodeLabel(row.MaxEpisode),
			Rating:        FiveStarRating(row.Rating),
		})
	}
	writeJSON(w, http.StatusOK, map[string][]GuideItem{"items": items})
}

// Detail handles GET /v1/anime-guide/detail/{subject_id}. It returns 404
// when the subject is unknown.
func (h *GuideHandler) Detail(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	subjectID, err := strconv.ParseInt(chi.URLParam(r, "subject_id"), 10, 64)
	if err != nil || subjectID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid subject id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	anime, err := h.repo.AnimeBySubject(ctx, subjectID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	if err != nil {
		h.fail(w, "anime by subject", err)
		return
	}

	total := 0
	if anime.TotalEpisodes != nil {
		total = *anime.TotalEpisodes
	}
	var episodes []int
	if total > 0 && total <= MaxListedEpisodes {
		episodes = make([]int, total)
		for i := range episodes {
			episodes[i] = i + 1
		}
	} else {
		episodes, err = h.repo.EpisodeNumbers(ctx, anime.ID)
		if err != nil {
			h.fail(w, "episode numbers", err)
			return
		}
	}
	if episodes == nil {
		episodes = []int{}
	}

	detail := GuideDetail{
		ID:            strconv.FormatInt(anime.SubjectID, 10),
		Title:         anime.Title,
		CoverURL:      anime.CoverImageURL,
		ChineseTitle:  deref(anime.TitleZH),
		TotalEpisodes: total,
		WeekdayText:   WeekdayText(anime.Weekday),
		Episodes:      episodes,
		Synopsis:      deref(anime.Summary),
		Rating:        FiveStarRating(anime.Rating),
	}
	if anime.StartDate != nil {
		s := extract.FormatLocalized(*anime.StartDate)
		detail.StartDate = &s
	}
	writeJSON(w, http.StatusOK, map[string]GuideDetail{"detail": detail})
}

func (h *GuideHandler) ready(w http.ResponseWriter) bool {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "guide store unavailable")
		return false
	}
	return true
}

func (h *GuideHandler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error("guide query failed", zap.String("op", op), zap.Error(err))
	status := http.StatusInternalServerError
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	writeError(w, status, "failed to load "+op)
}

func parseDateParam(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		writeError(w, http.StatusBadRequest, name+" is required")
		return time.Time{}, false
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be YYYY-MM-DD", name))
		return time.Time{}, false
	}
	return t, true
}

// MaxListedEpisodes bounds the 1..total expansion of a detail response.
// Larger totals are scrape noise and fall back to the stored episode numbers.
const MaxListedEpisodes = 2000

// FiveStarRating maps a 0-10 rating onto 0-5 with one decimal. Nil maps to 0.
func FiveStarRating(rating *float64) float64 {
	if rating == nil {
		return 0
	}
	v := math.Min(math.Max(*rating/2, 0), 5)
	return math.Round(v*10) / 10
}

// EpisodeLabel renders an episode number as 第N集.
func EpisodeLabel(n *int) *string {
	if n == nil || *n <= 0 {
		return nil
	}
	s := fmt.Sprintf("第%d集", *n)
	return &s
}

// WeekdayText names a weekday, or returns "" when unknown.
func WeekdayText(weekday *int) string {
	if weekday == nil || *weekday < 0 || *weekday > 6 {
		return ""
	}
	return weekdayText[*weekday]
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
