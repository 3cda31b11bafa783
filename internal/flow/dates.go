package flow

import (
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// dateParser resolves natural-language dates the extractor left unresolved
// ("next friday", "tomorrow").
var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// resolveNaturalDate normalizes a date string to ISO form. Already-ISO input
// passes through; otherwise the natural-language parser is tried relative to
// now. Returns the empty string when nothing can be resolved.
func resolveNaturalDate(raw string, now time.Time, loc *time.Location) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if _, err := time.Parse("2006-01-02", raw); err == nil {
		return raw
	}
	r, err := dateParser.Parse(raw, now.In(loc))
	if err != nil || r == nil {
		slog.Debug("flow.resolveNaturalDate could not resolve date", "raw", raw)
		return ""
	}
	return r.Time.Format("2006-01-02")
}

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

// extractURL pulls the first URL out of a text, returning the URL and the
// text with it removed.
func extractURL(text string) (url, remainder string) {
	url = urlPattern.FindString(text)
	if url == "" {
		return "", text
	}
	remainder = strings.Join(strings.Fields(strings.Replace(text, url, "", 1)), " ")
	return strings.TrimRight(url, ".,;)"), remainder
}
