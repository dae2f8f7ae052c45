package chunker

import (
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// blockElements end a semantic unit; a cut right after their end tag keeps
// every segment renderable on its own.
var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "aside": true,
	"header": true, "footer": true, "blockquote": true, "pre": true,
	"ul": true, "ol": true, "li": true, "table": true, "tr": true,
	"figure": true, "figcaption": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

const maxEntityLen = 32

// htmlLayout tokenizes content. Tags, comments, and doctypes are atomic;
// text tokens keep their word and line breaks and character references
// inside them are atomic.
func htmlLayout(content string) (layout, error) {
	var lay layout
	z := html.NewTokenizer(strings.NewReader(content))
	pos := 0

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if errors.Is(z.Err(), io.EOF) {
				break
			}
			return layout{}, &DecodeError{Format: FormatHTML, Offset: pos, Reason: z.Err().Error()}
		}

		raw := z.Raw()
		end := pos + len(raw)
		if end > len(content) || content[pos:end] != string(raw) {
			return layout{}, &DecodeError{Format: FormatHTML, Offset: pos, Reason: "token does not match source"}
		}

		if tt == html.TextToken {
			textBreaks(content, pos, end, &lay)
			entitySpans(content, pos, end, &lay)
		} else {
			lay.atomics = append(lay.atomics, span{start: pos, end: end})
			tagBreaks(z, tt, pos, end, &lay)
		}
		pos = end
	}

	if pos != len(content) {
		return layout{}, &DecodeError{Format: FormatHTML, Offset: pos, Reason: "unterminated markup"}
	}
	return lay, nil
}

func tagBreaks(z *html.Tokenizer, tt html.TokenType, start, end int, lay *layout) {
	switch tt {
	case html.EndTagToken:
		name, _ := z.TagName()
		if blockElements[string(name)] {
			lay.addBreak(end, breakBlock)
		}
	case html.StartTagToken, html.SelfClosingTagToken:
		name, _ := z.TagName()
		switch tag := string(name); {
		case tag == "br" || tag == "hr":
			lay.addBreak(end, breakLine)
		case blockElements[tag]:
			lay.addBreak(start, breakLine)
		}
	case html.CommentToken:
		lay.addBreak(end, breakWord)
	}
}

// entitySpans marks character references such as "&amp;" as atomic.
func entitySpans(content string, start, end int, lay *layout) {
	for i := start; i < end; i++ {
		if content[i] != '&' {
			continue
		}
		limit := min(end, i+maxEntityLen)
		for j := i + 1; j < limit; j++ {
			c := content[j]
			if c == ';' {
				if j > i+1 {
					lay.atomics = append(lay.atomics, span{start: i, end: j + 1})
					i = j
				}
				break
			}
			if !isEntityByte(c) {
				break
			}
		}
	}
}

func isEntityByte(c byte) bool {
	return c == '#' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
