package harvest

import (
	"strconv"
	"strings"
)

// DefaultBaseURL is the article source used when none is configured.
const DefaultBaseURL = "https://sspai.com"

// URLTemplate derives article URLs from identifiers as {base}/post/{id}.
type URLTemplate struct {
	Base string
}

// URL returns the article URL for id.
func (t URLTemplate) URL(id int64) string {
	base := strings.TrimRight(t.Base, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return base + "/post/" + strconv.FormatInt(id, 10)
}
