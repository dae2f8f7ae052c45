// Package chunker partitions long post bodies into bounded segments and
// reveals them a few at a time, so that a huge article is streamed to the
// reader instead of being pushed in a single write.
package chunker

import (
	"slices"
	"unicode/utf8"

	"github.com/jonesrussell/north-cloud/reader/internal/apperrors"
	"github.com/jonesrussell/north-cloud/reader/internal/logger"
)

// strength ranks cut positions. Higher is a better place to cut.
type strength uint8

const (
	breakWord strength = iota + 1
	breakLine
	breakBlock
)

// boundary is a byte offset where a segment may end.
type boundary struct {
	offset   int
	strength strength
}

// span is a half-open byte range that must never be cut.
type span struct {
	start, end int
}

// layout describes where content may and may not be cut.
type layout struct {
	atomics []span
	breaks  []boundary
}

func (l *layout) addBreak(offset int, s strength) {
	l.breaks = append(l.breaks, boundary{offset: offset, strength: s})
}

// Split partitions content into segments of at most chunkSize characters
// whose concatenation is exactly content. Cuts fall on rune boundaries,
// never inside an atomic markup unit, and prefer the strongest semantic
// boundary in the back half of a segment. A single atomic unit longer than
// chunkSize is returned as its own segment. An empty format is detected.
func Split(content string, chunkSize int, format Format) ([]string, error) {
	if chunkSize <= 0 {
		return nil, apperrors.NewConfigurationError("chunker", "chunk_size", "must be > 0, got %d", chunkSize)
	}
	if content == "" {
		return nil, nil
	}
	if !utf8.ValidString(content) {
		return nil, &DecodeError{Format: format, Offset: firstInvalid(content), Reason: "invalid UTF-8"}
	}
	if format == "" {
		format = DetectFormat(content)
	}

	var (
		lay layout
		err error
	)
	switch format {
	case FormatHTML:
		lay, err = htmlLayout(content)
	case FormatMarkdown:
		lay = markdownLayout(content)
	default:
		lay = textLayout(content)
	}
	if err != nil {
		return nil, err
	}
	return pack(content, chunkSize, lay), nil
}

// Partition is Split with the degraded path: content that cannot be
// partitioned becomes one segment and the failure is logged.
func Partition(content string, chunkSize int, format Format, log logger.Logger) ([]string, error) {
	segments, err := Split(content, chunkSize, format)
	if err == nil {
		return segments, nil
	}
	if apperrors.IsConfigurationError(err) {
		return nil, err
	}
	logger.OrNop(log).Warn("Content could not be partitioned, revealing it whole",
		logger.String("format", string(format)),
		logger.Int("bytes", len(content)),
		logger.Error(err),
	)
	return []string{content}, nil
}

type candidate struct {
	offset   int
	runes    int
	strength strength
}

func pack(content string, size int, lay layout) []string {
	breaks := normalizeBreaks(lay.breaks)

	var (
		segments []string
		pending  []candidate
		segStart int
		pos      int
		runes    int
		ai, bi   int
	)
	for pos < len(content) {
		for ai < len(lay.atomics) && lay.atomics[ai].end <= pos {
			ai++
		}
		var stepEnd int
		if ai < len(lay.atomics) && lay.atomics[ai].start == pos {
			stepEnd = lay.atomics[ai].end
		} else {
			_, w := utf8.DecodeRuneInString(content[pos:])
			stepEnd = pos + w
		}
		stepRunes := utf8.RuneCountInString(content[pos:stepEnd])

		if runes > 0 && runes+stepRunes > size {
			cut, cutRunes := pos, runes
			if c, ok := bestCandidate(pending, size); ok {
				cut, cutRunes = c.offset, c.runes
			}
			segments = append(segments, content[segStart:cut])
			segStart = cut
			runes -= cutRunes
			pending = rebase(pending, cut, cutRunes)
			continue
		}

		pos = stepEnd
		runes += stepRunes
		for bi < len(breaks) && breaks[bi].offset < pos {
			bi++
		}
		if bi < len(breaks) && breaks[bi].offset == pos && pos < len(content) {
			pending = append(pending, candidate{offset: pos, runes: runes, strength: breaks[bi].strength})
		}
	}
	return append(segments, content[segStart:])
}

// bestCandidate picks the latest cut of the highest strength that keeps the
// segment at least half full.
func bestCandidate(pending []candidate, size int) (candidate, bool) {
	for s := breakBlock; s >= breakWord; s-- {
		for i := len(pending) - 1; i >= 0; i-- {
			c := pending[i]
			if c.strength != s {
				continue
			}
			if c.runes*2 < size {
				break
			}
			return c, true
		}
	}
	return candidate{}, false
}

func rebase(pending []candidate, cut, cutRunes int) []candidate {
	kept := pending[:0]
	for _, c := range pending {
		if c.offset > cut {
			c.runes -= cutRunes
			kept = append(kept, c)
		}
	}
	return kept
}

// normalizeBreaks sorts boundaries and keeps the strongest per offset.
func normalizeBreaks(in []boundary) []boundary {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	slices.SortFunc(out, func(a, b boundary) int {
		if a.offset != b.offset {
			return a.offset - b.offset
		}
		return int(b.strength) - int(a.strength)
	})
	return slices.CompactFunc(out, func(a, b boundary) bool { return a.offset == b.offset })
}

func firstInvalid(s string) int {
	for i := 0; i < len(s); {
		r, w := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && w == 1 {
			return i
		}
		i += w
	}
	return len(s)
}
