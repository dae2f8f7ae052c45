package chunker

import (
	"bytes"
	"slices"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdownParser = goldmark.New().Parser()

// markdownLayout adds the start of every top-level block, as parsed by
// goldmark, as a block boundary on top of the plain-text breaks. Links,
// images, code spans, autolinks and inline HTML are atomic.
func markdownLayout(content string) layout {
	lay := textLayout(content)
	src := []byte(content)

	doc := markdownParser.Parse(text.NewReader(src))
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if off, ok := blockStart(n, src); ok && off > 0 {
			lay.addBreak(off, breakBlock)
		}
	}
	lay.atomics = inlineAtomics(doc, src)
	return lay
}

// inlineAtomics returns the source ranges of the inline units that must not
// be cut, sorted and merged. Goldmark records positions for text and raw
// HTML only, so the other units are found by scanning forward from the end
// of the text before them.
func inlineAtomics(doc ast.Node, src []byte) []span {
	var spans []span
	cursor := 0
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			cursor = max(cursor, node.Segment.Stop)
			return ast.WalkContinue, nil
		case *ast.RawHTML:
			if node.Segments != nil && node.Segments.Len() > 0 {
				s := span{start: node.Segments.At(0).Start, end: node.Segments.At(node.Segments.Len() - 1).Stop}
				if s.start >= cursor && s.end > s.start {
					spans = append(spans, s)
					cursor = s.end
				}
			}
			return ast.WalkSkipChildren, nil
		case *ast.Link, *ast.Image, *ast.CodeSpan, *ast.AutoLink:
			if s, ok := locateInline(n, src, cursor); ok {
				spans = append(spans, s)
				cursor = s.end
			}
			return ast.WalkSkipChildren, nil
		}
		if n.Type() == ast.TypeBlock && n.Lines().Len() > 0 {
			cursor = max(cursor, n.Lines().At(0).Start)
		}
		return ast.WalkContinue, nil
	})
	return mergeSpans(spans)
}

func locateInline(n ast.Node, src []byte, from int) (span, bool) {
	switch n.(type) {
	case *ast.Image:
		start := indexFrom(src, from, "![")
		if start < 0 {
			return span{}, false
		}
		end, ok := linkEnd(src, start+1)
		return span{start: start, end: end}, ok
	case *ast.Link:
		start := indexFrom(src, from, "[")
		if start < 0 {
			return span{}, false
		}
		end, ok := linkEnd(src, start)
		return span{start: start, end: end}, ok
	case *ast.CodeSpan:
		start := indexFrom(src, from, "`")
		if start < 0 {
			return span{}, false
		}
		run := backtickRun(src, start)
		for i := start + run; i < len(src); {
			j := indexFrom(src, i, "`")
			if j < 0 {
				break
			}
			r := backtickRun(src, j)
			if r == run {
				return span{start: start, end: j + r}, true
			}
			i = j + r
		}
	case *ast.AutoLink:
		start := indexFrom(src, from, "<")
		if start < 0 {
			return span{}, false
		}
		if end := indexFrom(src, start, ">"); end > start {
			return span{start: start, end: end + 1}, true
		}
	}
	return span{}, false
}

// linkEnd returns the offset just past a link whose label opens at open:
// the label plus an inline destination or a reference label.
func linkEnd(src []byte, open int) (int, bool) {
	closing, ok := matchBracket(src, open)
	if !ok {
		return 0, false
	}
	i := closing + 1
	if i < len(src) {
		switch src[i] {
		case '(':
			return destinationEnd(src, i)
		case '[':
			if c, ok := matchBracket(src, i); ok {
				return c + 1, true
			}
		}
	}
	return i, true
}

func matchBracket(src []byte, open int) (int, bool) {
	depth := 0
	for i := open; i < len(src); i++ {
		switch src[i] {
		case '\\':
			i++
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// destinationEnd scans an inline destination and optional title starting at
// the opening parenthesis.
func destinationEnd(src []byte, open int) (int, bool) {
	depth := 0
	var quote byte
	for i := open; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '\\':
			i++
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '<' && i == open+1:
			end := indexFrom(src, i, ">")
			if end < 0 {
				return 0, false
			}
			i = end
		case (c == '"' || c == '\'') && isSpace(src[i-1]):
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

func backtickRun(src []byte, i int) int {
	n := 0
	for i+n < len(src) && src[i+n] == '`' {
		n++
	}
	return n
}

func indexFrom(src []byte, from int, sep string) int {
	if from >= len(src) {
		return -1
	}
	i := bytes.Index(src[from:], []byte(sep))
	if i < 0 {
		return -1
	}
	return from + i
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n'
}

func mergeSpans(spans []span) []span {
	if len(spans) == 0 {
		return nil
	}
	slices.SortFunc(spans, func(a, b span) int { return a.start - b.start })
	out := spans[:1]
	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if s.start < last.end {
			last.end = max(last.end, s.end)
			continue
		}
		out = append(out, s)
	}
	return out
}

// blockStart returns the byte offset of the first source line of a block.
// Container blocks (lists, quotes) have no lines of their own, so the first
// descendant that does is used.
func blockStart(n ast.Node, src []byte) (int, bool) {
	if n.Type() != ast.TypeBlock {
		return 0, false
	}
	if lines := n.Lines(); lines.Len() > 0 {
		start := lineStart(src, lines.At(0).Start)
		if _, fenced := n.(*ast.FencedCodeBlock); fenced && start > 0 {
			// The opening fence sits on the line before the first code line.
			start = lineStart(src, start-1)
		}
		return start, true
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if off, ok := blockStart(c, src); ok {
			return off, true
		}
	}
	return 0, false
}

func lineStart(src []byte, i int) int {
	for i > 0 && src[i-1] != '\n' {
		i--
	}
	return i
}
