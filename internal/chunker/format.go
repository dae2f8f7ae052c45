package chunker

import (
	"fmt"
	"regexp"
	"strings"
)

// Format selects how content boundaries are discovered.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// ParseFormat maps a name to a Format. The empty string means "detect".
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatText, FormatMarkdown, FormatHTML:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown content format %q", s)
	}
}

var (
	htmlTagPattern  = regexp.MustCompile(`(?i)<(?:[a-z][a-z0-9-]*|/[a-z][a-z0-9-]*|!--)[^<>]*>`)
	markdownPattern = regexp.MustCompile("(?m)^(?:#{1,6}\\s|```|~~~|>\\s|[-*+]\\s|\\d+\\.\\s)")
)

// DetectFormat guesses the markup of content. Anything that contains an
// element tag is treated as HTML, block markers make it markdown, and
// everything else is plain text.
func DetectFormat(content string) Format {
	switch {
	case htmlTagPattern.MatchString(content):
		return FormatHTML
	case markdownPattern.MatchString(content):
		return FormatMarkdown
	default:
		return FormatText
	}
}
