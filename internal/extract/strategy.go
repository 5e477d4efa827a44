package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Strategy is one attempt in an ordered fallback list. Apply reports false
// when the strategy does not match the given root.
type Strategy[T any] struct {
	Name  string
	Apply func(root *goquery.Selection) (T, bool)
}

// First runs strategies in order and returns the first match together with the
// name of the strategy that produced it.
func First[T any](root *goquery.Selection, strategies []Strategy[T]) (T, string, bool) {
	for _, s := range strategies {
		if v, ok := s.Apply(root); ok {
			return v, s.Name, true
		}
	}
	var zero T
	return zero, "", false
}

var digitRun = regexp.MustCompile(`\d+`)

// textOf returns the trimmed text nodes under sel joined by sep, skipping
// empty nodes, comments and scripts.
func textOf(sel *goquery.Selection, sep string) string {
	return strings.Join(collectText(sel, nil), sep)
}

func collectText(sel *goquery.Selection, parts []string) []string {
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		switch goquery.NodeName(c) {
		case "#text":
			if t := strings.TrimSpace(c.Text()); t != "" {
				parts = append(parts, t)
			}
		case "#comment", "script", "style":
		default:
			parts = collectText(c, parts)
		}
	})
	return parts
}

func firstInt(s string) (int, bool) {
	m := digitRun.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// selectText builds a strategy reading the compact text of the first node
// matching selector.
func selectText(selector string) Strategy[string] {
	return Strategy[string]{
		Name: selector,
		Apply: func(root *goquery.Selection) (string, bool) {
			node := root.Find(selector).First()
			if node.Length() == 0 {
				return "", false
			}
			text := textOf(node, "")
			return text, text != ""
		},
	}
}

// selectFloat builds a strategy parsing the text of the first node matching
// selector as a float.
func selectFloat(selector string) Strategy[float64] {
	return Strategy[float64]{
		Name: selector,
		Apply: func(root *goquery.Selection) (float64, bool) {
			node := root.Find(selector).First()
			if node.Length() == 0 {
				return 0, false
			}
			v, err := strconv.ParseFloat(textOf(node, ""), 64)
			if err != nil {
				return 0, false
			}
			return v, true
		},
	}
}

// selectCount builds a strategy reading an integer from the content attribute
// of the first node matching selector, then from the first digit run of its text.
func selectCount(selector string) Strategy[int] {
	return Strategy[int]{
		Name: selector,
		Apply: func(root *goquery.Selection) (int, bool) {
			node := root.Find(selector).First()
			if node.Length() == 0 {
				return 0, false
			}
			if content, ok := node.Attr("content"); ok {
				if n, err := strconv.Atoi(strings.TrimSpace(content)); err == nil {
					return n, true
				}
			}
			return firstInt(textOf(node, ""))
		},
	}
}
