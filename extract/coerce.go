package extract

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"golang.org/x/net/html"
)

// parseNumber coerces page text into a float64, tolerating the noise
// that number-bearing elements typically carry: thousands separators,
// currency symbols, percent signs and surrounding words are stripped.
func parseNumber(raw string) (float64, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '+':
			return r
		default:
			return -1
		}
	}, strings.ReplaceAll(raw, ",", ""))

	if cleaned == "" {
		return 0, fmt.Errorf("no numeric content in %q", raw)
	}
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed number %q: %w", raw, err)
	}
	return n, nil
}

// parseDate coerces page text into an RFC 3339 timestamp using flexible
// format detection.
func parseDate(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("empty date text")
	}
	t, err := dateparse.ParseAny(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("malformed date %q: %w", raw, err)
	}
	return t.UTC().Format(time.RFC3339), nil
}

// visibleText extracts the visible text from an HTML fragment, stripping
// all tags and <script>/<style>/<noscript> content.
func visibleText(fragment string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(fragment))
	var buf strings.Builder
	skipDepth := 0

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return strings.TrimSpace(buf.String())
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "script", "style", "noscript":
				skipDepth++
			}
		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "script", "style", "noscript":
				if skipDepth > 0 {
					skipDepth--
				}
			}
		case html.TextToken:
			if skipDepth == 0 {
				text := strings.TrimSpace(string(tokenizer.Text()))
				if text != "" {
					if buf.Len() > 0 {
						buf.WriteByte(' ')
					}
					buf.WriteString(text)
				}
			}
		}
	}
}
