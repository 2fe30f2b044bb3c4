package auto

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

// DefaultBodyThreshold is the page size below which a script-heavy page is
// considered an unrendered shell.
const DefaultBodyThreshold = 2048

// Heuristic decides from a plain HTTP response whether the page needs a
// browser to render.
type Heuristic struct {
	BodyThreshold int
}

// NewHeuristic creates a detector. A zero threshold uses DefaultBodyThreshold.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = DefaultBodyThreshold
	}
	return &Heuristic{BodyThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="__nuxt"`),
	[]byte(`id="root"></div>`),
	[]byte(`id="app"></div>`),
	[]byte("data-reactroot"),
}

// NeedsRender reports whether raw looks like a client-rendered shell.
func (h *Heuristic) NeedsRender(raw harvest.RawArticle) bool {
	if raw.StatusCode != 0 && raw.StatusCode != http.StatusOK {
		return false
	}
	body := bytes.TrimSpace(raw.Body)
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyThreshold && scriptShare(body) >= 25 {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptShare returns the percentage of body covered by <script> elements.
func scriptShare(body []byte) int {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return 0
	}
	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		gt := strings.IndexByte(lower[start:], '>')
		if gt == -1 {
			// Unterminated tag: the rest of the document is script.
			covered += total - start
			break
		}
		contentStart := start + gt + 1
		end := total
		if relEnd := strings.Index(lower[contentStart:], closeTag); relEnd != -1 {
			end = contentStart + relEnd + len(closeTag)
		}
		covered += end - start
		pos = end
	}
	return covered * 100 / total
}
