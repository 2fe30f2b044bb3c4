package extract

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const (
	sampleRunes   = 50
	topClassLimit = 15
)

var exploratory = Selectors{
	Title:       []string{"h1.title", "h1", ".article-title", `[class*="title"]`},
	Author:      []string{"a.author-name", ".author", `[class*="author"]`, "span.author"},
	PublishTime: []string{"time", `[class*="time"]`, `[class*="date"]`},
	Body:        []string{"article", ".article-content", `[class*="content"]`, "main"},
}

// Candidate describes how one selector fares against a page.
type Candidate struct {
	Selector   string `yaml:"selector"`
	Count      int    `yaml:"count"`
	Sample     string `yaml:"sample,omitempty"`
	TextLength int    `yaml:"text_length,omitempty"`
	Configured bool   `yaml:"configured"`
}

// ClassCount is a CSS class and how many div elements carry it.
type ClassCount struct {
	Class string `yaml:"class"`
	Count int    `yaml:"count"`
}

// Analysis is a selector diagnostic report for one page.
type Analysis struct {
	Title       []Candidate  `yaml:"title"`
	Author      []Candidate  `yaml:"author"`
	PublishTime []Candidate  `yaml:"publish_time"`
	Body        []Candidate  `yaml:"body"`
	DivClasses  []ClassCount `yaml:"div_classes"`
}

// Inspect evaluates the configured selectors plus a set of exploratory ones
// against html. It is used to repair selectors after a layout change.
func Inspect(html []byte, configured Selectors) (Analysis, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return Analysis{}, fmt.Errorf("parse html: %w", err)
	}
	configured = configured.withDefaults()
	root := doc.Selection
	analysis := Analysis{
		Title:       candidates(root, configured.Title, exploratory.Title),
		Author:      candidates(root, configured.Author, exploratory.Author),
		PublishTime: candidates(root, configured.PublishTime, exploratory.PublishTime),
		Body:        candidates(root, configured.Body, exploratory.Body),
		DivClasses:  divClasses(root),
	}
	sort.SliceStable(analysis.Body, func(i, j int) bool {
		return analysis.Body[i].TextLength > analysis.Body[j].TextLength
	})
	return analysis, nil
}

func candidates(root *goquery.Selection, configured, extra []string) []Candidate {
	seen := make(map[string]bool, len(configured)+len(extra))
	var out []Candidate
	add := func(sel string, isConfigured bool) {
		if seen[sel] {
			return
		}
		seen[sel] = true
		found := root.Find(sel)
		if found.Length() == 0 && !isConfigured {
			return
		}
		c := Candidate{Selector: sel, Count: found.Length(), Configured: isConfigured}
		if found.Length() > 0 {
			text := collapse(found.First().Text())
			c.TextLength = utf8.RuneCountInString(text)
			c.Sample = truncateRunes(text, sampleRunes)
		}
		out = append(out, c)
	}
	for _, sel := range configured {
		add(sel, true)
	}
	for _, sel := range extra {
		add(sel, false)
	}
	return out
}

func divClasses(root *goquery.Selection) []ClassCount {
	counts := map[string]int{}
	root.Find("div[class]").Each(func(_ int, s *goquery.Selection) {
		class, _ := s.Attr("class")
		for _, c := range strings.Fields(class) {
			counts[c]++
		}
	})
	out := make([]ClassCount, 0, len(counts))
	for class, n := range counts {
		out = append(out, ClassCount{Class: class, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Class < out[j].Class
	})
	if len(out) > topClassLimit {
		out = out[:topClassLimit]
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
