package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// BaseURL is the primary catalog origin used to absolutize relative links.
const BaseURL = "https://bangumi.tv"

// CalendarItem is one anime sighting on the weekly calendar.
type CalendarItem struct {
	SubjectID     int64
	URL           string
	Title         string
	CoverImageURL string
	Weekday       int
}

// CalendarPage is the parse result of a calendar page.
type CalendarPage struct {
	// Blocks counts ul.coverList day blocks, resolvable or not.
	Blocks int
	Items  []CalendarItem
}

// weekdayNames is scanned in order; longer Chinese forms precede the short ones
// they contain.
var weekdayNames = []struct {
	name    string
	weekday int
}{
	{"星期日", 0}, {"星期天", 0}, {"周日", 0},
	{"星期一", 1}, {"周一", 1},
	{"星期二", 2}, {"周二", 2},
	{"星期三", 3}, {"周三", 3},
	{"星期四", 4}, {"周四", 4},
	{"星期五", 5}, {"周五", 5},
	{"星期六", 6}, {"周六", 6},
	{"sunday", 0}, {"monday", 1}, {"tuesday", 2}, {"wednesday", 3},
	{"thursday", 4}, {"friday", 5}, {"saturday", 6},
	{"sun", 0}, {"mon", 1}, {"tue", 2}, {"wed", 3},
	{"thu", 4}, {"fri", 5}, {"sat", 6},
}

// ParseWeekday finds a weekday name inside a heading text.
func ParseWeekday(text string) (int, bool) {
	lower := strings.ToLower(text)
	for _, w := range weekdayNames {
		if strings.Contains(lower, w.name) {
			return w.weekday, true
		}
	}
	return 0, false
}

var calendarTitle = []Strategy[string]{
	selectText("em"),
	selectText("a.nav"),
}

// ParseCalendar extracts every anime listed under a resolvable weekday heading.
// Items are returned in document order and may repeat a subject.
func ParseCalendar(html string) (CalendarPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return CalendarPage{}, fmt.Errorf("parse calendar html: %w", err)
	}

	var (
		page      CalendarPage
		lastH3    string
		lastOther string
		seenH3    bool
		seenOther bool
	)
	// Walk headings and blocks in document order so each block sees the
	// nearest preceding h3, then the nearest preceding h2/h4.
	doc.Find("h2, h3, h4, ul.coverList").Each(func(_ int, node *goquery.Selection) {
		switch goquery.NodeName(node) {
		case "h3":
			lastH3, seenH3 = textOf(node, ""), true
			return
		case "h2", "h4":
			lastOther, seenOther = textOf(node, ""), true
			return
		}
		page.Blocks++
		var header string
		switch {
		case seenH3:
			header = lastH3
		case seenOther:
			header = lastOther
		default:
			return
		}
		weekday, ok := ParseWeekday(header)
		if !ok {
			return
		}
		node.Find("li").Each(func(_ int, li *goquery.Selection) {
			if item, ok := parseCalendarItem(li, weekday); ok {
				page.Items = append(page.Items, item)
			}
		})
	})
	return page, nil
}

func parseCalendarItem(li *goquery.Selection, weekday int) (CalendarItem, bool) {
	link := li.Find("a[href]").FilterFunction(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		return strings.Contains(href, "/subject/")
	}).First()
	if link.Length() == 0 {
		return CalendarItem{}, false
	}
	href, _ := link.Attr("href")
	href = strings.TrimSpace(href)
	subjectID, ok := SubjectIDFromURL(href)
	if !ok {
		return CalendarItem{}, false
	}
	if !strings.HasPrefix(href, "http") {
		href = BaseURL + href
	}

	title, _, ok := First(li, calendarTitle)
	if !ok {
		title = textOf(link, "")
	}

	return CalendarItem{
		SubjectID:     subjectID,
		URL:           href,
		Title:         title,
		CoverImageURL: coverFromStyle(li.AttrOr("style", "")),
		Weekday:       weekday,
	}, true
}

// SubjectIDFromURL reads the integer path segment following /subject/.
func SubjectIDFromURL(href string) (int64, bool) {
	_, rest, found := strings.Cut(href, "/subject/")
	if !found {
		return 0, false
	}
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func coverFromStyle(style string) string {
	_, rest, found := strings.Cut(style, "url(")
	if !found {
		return ""
	}
	end := strings.Index(rest, ")")
	if end <= 0 {
		return ""
	}
	cover := strings.Trim(rest[:end], `'" `)
	if strings.HasPrefix(cover, "//") {
		cover = "https:" + cover
	}
	return cover
}
