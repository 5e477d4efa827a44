package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// SubjectDetail holds the detail-page fields. Nil means not found on the page.
type SubjectDetail struct {
	TitleZH       *string
	Summary       *string
	StartDate     *time.Time
	TotalEpisodes *int
	Rating        *float64
	RatingCount   *int
	// Infobox is the raw label/value map, kept for diagnostics.
	Infobox map[string]string
}

var (
	titleLabels     = []string{"中文名", "中文"}
	startDateLabels = []string{"放送开始", "开始", "上映年度", "发售日"}
	episodeLabels   = []string{"话数", "集数"}

	votesInChart = regexp.MustCompile(`(\d+)\s+votes`)
)

var ratingStrategies = []Strategy[float64]{
	selectFloat(".global_score .number"),
	selectFloat("#panelInterest span.number"),
}

var ratingCountStrategies = []Strategy[int]{
	selectCount(`[property="v:votes"]`),
	selectCount("#panelInterest span#rating_total"),
	selectCount("#panelInterest span.people"),
	selectCount(".global_score .total"),
	selectCount(".global_score .people"),
	{
		Name: "#ChartWarpper votes",
		Apply: func(root *goquery.Selection) (int, bool) {
			chart := root.Find("#ChartWarpper").First()
			if chart.Length() == 0 {
				return 0, false
			}
			m := votesInChart.FindStringSubmatch(textOf(chart, " "))
			if m == nil {
				return 0, false
			}
			n, err := strconv.Atoi(m[1])
			return n, err == nil
		},
	},
}

// ParseSubject extracts the detail fields of a subject page.
func ParseSubject(html string) (SubjectDetail, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return SubjectDetail{}, fmt.Errorf("parse subject html: %w", err)
	}
	root := doc.Selection
	info := parseInfobox(root)
	detail := SubjectDetail{Infobox: info}

	if v, ok := lookup(info, titleLabels); ok {
		detail.TitleZH = &v
	}
	if node := root.Find("#subject_summary").First(); node.Length() > 0 {
		summary := textOf(node, "\n")
		detail.Summary = &summary
	}
	if v, ok := lookup(info, startDateLabels); ok {
		if d, ok := ParseDate(v); ok {
			detail.StartDate = &d
		}
	}
	if v, ok := lookup(info, episodeLabels); ok {
		if n, ok := firstInt(v); ok {
			detail.TotalEpisodes = &n
		}
	}
	if v, _, ok := First(root, ratingStrategies); ok {
		detail.Rating = &v
	}
	if v, _, ok := First(root, ratingCountStrategies); ok {
		detail.RatingCount = &v
	}
	return detail, nil
}

func parseInfobox(root *goquery.Selection) map[string]string {
	info := make(map[string]string)
	root.Find("#infobox li").Each(func(_ int, li *goquery.Selection) {
		tip := li.Find("span.tip").First()
		if tip.Length() == 0 {
			return
		}
		raw := textOf(tip, "")
		label := strings.TrimRight(raw, ":：")
		value := strings.Replace(textOf(li, " "), raw, "", 1)
		info[label] = strings.Trim(value, " :：")
	})
	return info
}

// lookup returns the first non-empty value among labels.
func lookup(info map[string]string, labels []string) (string, bool) {
	for _, l := range labels {
		if v := info[l]; v != "" {
			return v, true
		}
	}
	return "", false
}
