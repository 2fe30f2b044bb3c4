// Package extract parses article pages into structured fields using ordered
// CSS selector candidates, so minor markup changes fall through to the next
// candidate instead of failing.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

// Placeholders used when optional fields cannot be located.
const (
	MissingTitle  = "未找到标题"
	UnknownAuthor = "未知作者"
)

// Format selects how the body container is rendered.
type Format string

// Supported body formats.
const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
)

const (
	noiseSelector = "script, style, figcaption, noscript"
	blockSelector = "p, h1, h2, h3, h4, h5, h6, blockquote, ul, ol, pre"
)

// Selectors lists candidate CSS selectors per field in priority order.
type Selectors struct {
	Title       []string `mapstructure:"title" yaml:"title"`
	Author      []string `mapstructure:"author" yaml:"author"`
	PublishTime []string `mapstructure:"publish_time" yaml:"publish_time"`
	Body        []string `mapstructure:"body" yaml:"body"`
}

// DefaultSelectors matches the sspai article layout.
func DefaultSelectors() Selectors {
	return Selectors{
		Title:       []string{"div#article-title.title", "div.title", "h1"},
		Author:      []string{"a.ss__user__nickname__wrapper.nickname", "div.ss__user__nickname span", "div.ss__user__nickname"},
		PublishTime: []string{"div.timer", "time"},
		Body:        []string{"div.content.wangEditor-txt", "div.content", "article"},
	}
}

func (s Selectors) withDefaults() Selectors {
	def := DefaultSelectors()
	if len(s.Title) == 0 {
		s.Title = def.Title
	}
	if len(s.Author) == 0 {
		s.Author = def.Author
	}
	if len(s.PublishTime) == 0 {
		s.PublishTime = def.PublishTime
	}
	if len(s.Body) == 0 {
		s.Body = def.Body
	}
	return s
}

// Config controls Extractor behavior.
type Config struct {
	Selectors Selectors
	Format    Format
}

// Extractor implements harvest.Extractor with goquery.
type Extractor struct {
	selectors Selectors
	format    Format
	converter *md.Converter
}

var _ harvest.Extractor = (*Extractor)(nil)

// New builds an Extractor. Empty selector lists fall back to DefaultSelectors.
func New(cfg Config) (*Extractor, error) {
	format := cfg.Format
	if format == "" {
		format = FormatText
	}
	if format != FormatText && format != FormatMarkdown {
		return nil, fmt.Errorf("unsupported body format %q", format)
	}
	e := &Extractor{
		selectors: cfg.Selectors.withDefaults(),
		format:    format,
	}
	if format == FormatMarkdown {
		e.converter = md.NewConverter("", true, nil)
	}
	return e, nil
}

// Extract locates title, author, publish time and body. Only the body is
// required; its absence is reported as *harvest.ParseError.
func (e *Extractor) Extract(raw harvest.RawArticle) (harvest.Extracted, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw.Body))
	if err != nil {
		return harvest.Extracted{}, &harvest.ParseError{Field: "document", Reason: err.Error()}
	}

	container, selector := firstMatch(doc.Selection, e.selectors.Body)
	if container == nil {
		return harvest.Extracted{}, &harvest.ParseError{
			Field:  "body",
			Reason: fmt.Sprintf("no element matched %s", strings.Join(e.selectors.Body, " | ")),
		}
	}
	body, err := e.renderBody(container)
	if err != nil {
		return harvest.Extracted{}, &harvest.ParseError{Field: "body", Reason: err.Error()}
	}
	if body == "" {
		return harvest.Extracted{}, &harvest.ParseError{
			Field:  "body",
			Reason: fmt.Sprintf("%s matched but contained no text", selector),
		}
	}

	out := harvest.Extracted{
		Title:       firstText(doc.Selection, e.selectors.Title),
		Author:      firstText(doc.Selection, e.selectors.Author),
		PublishTime: firstText(doc.Selection, e.selectors.PublishTime),
		Body:        body,
	}
	if out.Title == "" {
		out.Title = MissingTitle
	}
	if out.Author == "" {
		out.Author = UnknownAuthor
	}
	return out, nil
}

func (e *Extractor) renderBody(container *goquery.Selection) (string, error) {
	container = container.Clone()
	container.Find(noiseSelector).Remove()
	if e.format == FormatMarkdown {
		html, err := goquery.OuterHtml(container)
		if err != nil {
			return "", fmt.Errorf("render container: %w", err)
		}
		text, err := e.converter.ConvertString(html)
		if err != nil {
			return "", fmt.Errorf("convert to markdown: %w", err)
		}
		return strings.TrimSpace(text), nil
	}
	return Normalize(blockText(container)), nil
}

// blockText joins the text of top-level block elements with blank lines,
// falling back to the container's own text when it has no blocks.
func blockText(container *goquery.Selection) string {
	var parts []string
	container.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		if s.ParentsUntilSelection(container).Filter(blockSelector).Length() > 0 {
			return
		}
		var text string
		if goquery.NodeName(s) == "ul" || goquery.NodeName(s) == "ol" {
			var items []string
			s.Find("li").Each(func(_ int, li *goquery.Selection) {
				if t := collapse(li.Text()); t != "" {
					items = append(items, t)
				}
			})
			text = strings.Join(items, "\n")
		} else {
			text = s.Text()
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	})
	if len(parts) == 0 {
		return container.Text()
	}
	return strings.Join(parts, "\n\n")
}

func firstMatch(root *goquery.Selection, selectors []string) (*goquery.Selection, string) {
	for _, sel := range selectors {
		found := root.Find(sel).First()
		if found.Length() > 0 {
			return found, sel
		}
	}
	return nil, ""
}

func firstText(root *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		if text := collapse(root.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// Normalize collapses whitespace inside each line, drops blank-line runs to a
// single paragraph break and trims the result.
func Normalize(text string) string {
	var (
		b       strings.Builder
		pending bool
	)
	for _, line := range strings.Split(text, "\n") {
		line = collapse(line)
		if line == "" {
			pending = b.Len() > 0
			continue
		}
		if b.Len() > 0 {
			if pending {
				b.WriteString("\n\n")
			} else {
				b.WriteString("\n")
			}
		}
		pending = false
		b.WriteString(line)
	}
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
