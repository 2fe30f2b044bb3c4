package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

// WriteJSON writes records as an indented JSON array with non-ASCII text
// kept as-is.
func WriteJSON(w io.Writer, records []harvest.ArticleRecord) error {
	if records == nil {
		records = []harvest.ArticleRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	return nil
}

// RenderReport renders the Markdown summary report for records.
func RenderReport(records []harvest.ArticleRecord, generatedAt time.Time) string {
	var b strings.Builder
	b.WriteString("# Article Summary Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", generatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Articles: %d\n\n", len(records))
	b.WriteString("---\n\n")
	for i, rec := range records {
		fmt.Fprintf(&b, "## %d. %s\n\n", i+1, orDefault(rec.Title, "Untitled"))
		fmt.Fprintf(&b, "**Author**: %s\n\n", orDefault(rec.Author, "Unknown"))
		fmt.Fprintf(&b, "**Link**: %s\n\n", rec.URL)
		if rec.PublishTime != "" {
			fmt.Fprintf(&b, "**Published**: %s\n\n", rec.PublishTime)
		}
		fmt.Fprintf(&b, "**Fetched**: %s\n\n", rec.FetchTime)
		fmt.Fprintf(&b, "**Summary**: %s\n\n", orDefault(rec.SummaryText(), "(no summary)"))
		b.WriteString("---\n\n")
	}
	return b.String()
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
