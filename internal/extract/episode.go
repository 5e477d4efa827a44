package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// EpisodeItem is one numbered episode parsed from an episode list.
type EpisodeItem struct {
	Number  int
	Title   string
	AirDate *time.Time
}

// EpisodePage is the parse result of an episode list page.
type EpisodePage struct {
	// Container names the strategy that matched, empty when none did.
	Container string
	// Candidates counts list items before skipping unnumbered ones.
	Candidates int
	Items      []EpisodeItem
	// PageTitle and Snippets are filled only when no container matched.
	PageTitle string
	Snippets  []string
}

const snippetLimit = 300

var containerSelectors = []string{
	"#episode_list li",
	"#eplist li",
	"#subject_prg_list li",
	"#sectionEp li",
	".line_list li",
	"[data-ep], [data-episode-no]",
}

var diagnosticContainers = []string{
	"#episode_list",
	"#eplist",
	"#subject_prg_list",
	"#sectionEp",
	".line_list",
}

var episodeContainers = buildContainerStrategies()

func buildContainerStrategies() []Strategy[*goquery.Selection] {
	strategies := make([]Strategy[*goquery.Selection], 0, len(containerSelectors))
	for _, selector := range containerSelectors {
		strategies = append(strategies, Strategy[*goquery.Selection]{
			Name: selector,
			Apply: func(root *goquery.Selection) (*goquery.Selection, bool) {
				items := root.Find(selector)
				return items, items.Length() > 0
			},
		})
	}
	return strategies
}

var leadingDigits = regexp.MustCompile(`^(\d+)`)

var episodeNumberStrategies = []Strategy[int]{
	{
		Name: "data attribute",
		Apply: func(item *goquery.Selection) (int, bool) {
			raw, ok := item.Attr("data-ep")
			if !ok || raw == "" {
				raw, ok = item.Attr("data-episode-no")
			}
			if !ok || !allDigits(raw) {
				return 0, false
			}
			n, err := strconv.Atoi(raw)
			return n, err == nil && n > 0
		},
	},
	{
		Name: ".ep/.sort",
		Apply: func(item *goquery.Selection) (int, bool) {
			tag := item.Find(".ep, .sort").First()
			if tag.Length() == 0 {
				return 0, false
			}
			n, ok := firstInt(textOf(tag, ""))
			return n, ok && n > 0
		},
	},
	{
		Name: "h6 link",
		Apply: func(item *goquery.Selection) (int, bool) {
			link := item.Find("h6 a[href]").First()
			if link.Length() == 0 {
				return 0, false
			}
			m := leadingDigits.FindStringSubmatch(textOf(link, ""))
			if m == nil {
				return 0, false
			}
			n, err := strconv.Atoi(m[1])
			return n, err == nil && n > 0
		},
	},
}

var episodeTitleStrategies = []Strategy[string]{
	linkText("a.l"),
	linkText("h6 a[href]"),
	linkText("a[href]"),
}

func linkText(selector string) Strategy[string] {
	return Strategy[string]{
		Name: selector,
		Apply: func(item *goquery.Selection) (string, bool) {
			node := item.Find(selector).First()
			if node.Length() == 0 {
				return "", false
			}
			return textOf(node, ""), true
		},
	}
}

// ParseEpisodes extracts numbered episodes. Items of class cat and items
// without a resolvable number are skipped.
func ParseEpisodes(html string) (EpisodePage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return EpisodePage{}, fmt.Errorf("parse episode html: %w", err)
	}
	root := doc.Selection

	items, container, ok := First(root, episodeContainers)
	if !ok {
		return EpisodePage{
			PageTitle: strings.TrimSpace(root.Find("title").First().Text()),
			Snippets:  containerSnippets(root),
		}, nil
	}

	page := EpisodePage{Container: container, Candidates: items.Length()}
	items.Each(func(_ int, item *goquery.Selection) {
		if item.HasClass("cat") {
			return
		}
		number, _, ok := First(item, episodeNumberStrategies)
		if !ok {
			return
		}
		title, _, _ := First(item, episodeTitleStrategies)
		ep := EpisodeItem{Number: number, Title: title}
		if d, ok := FindDate(textOf(item, " ")); ok {
			ep.AirDate = &d
		}
		page.Items = append(page.Items, ep)
	})
	return page, nil
}

func containerSnippets(root *goquery.Selection) []string {
	var snippets []string
	for _, selector := range diagnosticContainers {
		node := root.Find(selector).First()
		if node.Length() == 0 {
			continue
		}
		snippets = append(snippets, truncateRunes(textOf(node, " "), snippetLimit))
	}
	return snippets
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
