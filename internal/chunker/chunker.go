// Package chunker splits document text into ordered, bounded, overlapping
// chunks that respect paragraph and sentence boundaries.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/54b3r/docqa-go/internal/rag"
)

const (
	// DefaultChunkSize is the maximum chunk length in characters.
	DefaultChunkSize = 1000
	// DefaultChunkOverlap enables segment carry-over between chunks.
	DefaultChunkOverlap = 200
)

var (
	excessBlankLines = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)
	horizontalSpace  = regexp.MustCompile(`[ \t\f\v]+`)
	paragraphBreak   = regexp.MustCompile(`\n[ \t]*\n`)
)

// Chunker turns raw text into rag.Chunk values. It is safe for concurrent use.
type Chunker struct {
	// size is the maximum chunk length in characters.
	size int
	// overlap, when positive, carries the last segment of a closed chunk into
	// the next one.
	overlap int
	// now stamps chunk metadata. Overridable in tests.
	now func() time.Time
	// newID generates chunk identifiers. Overridable in tests.
	newID func() string
}

// New returns a Chunker with the given size and overlap. A zero size selects
// DefaultChunkSize.
func New(size, overlap int) (*Chunker, error) {
	if size == 0 {
		size = DefaultChunkSize
	}
	if size < 0 {
		return nil, fmt.Errorf("chunker: chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("chunker: overlap must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("chunker: overlap (%d) must be smaller than chunk size (%d)", overlap, size)
	}
	return &Chunker{
		size:    size,
		overlap: overlap,
		now:     time.Now,
		newID:   uuid.NewString,
	}, nil
}

// Size returns the configured maximum chunk length.
func (c *Chunker) Size() int { return c.size }

// segment is an atomic unit of accumulation: a whole paragraph or a single
// sentence of an oversized paragraph.
type segment struct {
	text string
	// paragraph is true when the segment opens a new paragraph.
	paragraph bool
}

// Chunk splits content into chunks attributed to source. Chunk indexes start
// at 0 and increase strictly. Blank content yields no chunks.
//
// A chunk never exceeds the configured size except when it holds a single
// sentence longer than the size on its own, or when it starts with the
// segment carried over from the previous chunk.
func (c *Chunker) Chunk(source, content string) []rag.Chunk {
	text := Normalize(content)
	if text == "" {
		return nil
	}

	var (
		texts   []string
		current []segment
	)
	for _, seg := range c.segments(text) {
		if len(current) > 0 && joinedLen(current)+sepLen(seg)+runeLen(seg.text) > c.size {
			if s := strings.TrimSpace(join(current)); s != "" {
				texts = append(texts, s)
			}
			if c.overlap > 0 {
				current = []segment{current[len(current)-1]}
			} else {
				current = current[:0]
			}
		}
		current = append(current, seg)
	}
	if s := strings.TrimSpace(join(current)); s != "" {
		texts = append(texts, s)
	}

	if len(texts) == 0 {
		texts = []string{text}
	}

	created := c.now().UTC()
	chunks := make([]rag.Chunk, 0, len(texts))
	for i, t := range texts {
		chunks = append(chunks, rag.Chunk{
			ID:      c.newID(),
			Source:  source,
			Content: t,
			Index:   i,
			Metadata: rag.Metadata{
				Length:    runeLen(t),
				CreatedAt: created,
			},
		})
	}
	return chunks
}

// segments breaks normalized text into paragraphs, splitting any paragraph
// longer than the chunk size into sentences.
func (c *Chunker) segments(text string) []segment {
	var out []segment
	for _, para := range paragraphBreak.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if runeLen(para) <= c.size {
			out = append(out, segment{text: para, paragraph: true})
			continue
		}
		for i, sentence := range SplitSentences(para) {
			out = append(out, segment{text: sentence, paragraph: i == 0})
		}
	}
	return out
}

// Normalize unifies line breaks to \n, collapses three or more consecutive
// line breaks (blank lines) into one blank line, collapses runs of horizontal
// whitespace to a single space and trims both ends.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = horizontalSpace.ReplaceAllString(s, " ")
	s = excessBlankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// SplitSentences splits text after '.', '!' or '?' when followed by
// whitespace, and at every line break. Words are never split. Returned
// sentences are trimmed and non-empty.
func SplitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	emit := func(end int) {
		if s := strings.TrimSpace(text[start:end]); s != "" {
			out = append(out, s)
		}
		start = end
	}
	for i, r := range text {
		switch {
		case r == '\n':
			emit(i)
		case r == '.' || r == '!' || r == '?':
			next, _ := utf8.DecodeRuneInString(text[i+1:])
			if i+1 < len(text) && unicode.IsSpace(next) {
				emit(i + 1)
			}
		}
	}
	emit(len(text))
	return out
}

// join renders segments back to text: paragraphs are separated by a blank
// line, sentences within a paragraph by a single space.
func join(segs []segment) string {
	var b strings.Builder
	for i, s := range segs {
		if i > 0 {
			b.WriteString(separator(s))
		}
		b.WriteString(s.text)
	}
	return b.String()
}

func joinedLen(segs []segment) int {
	n := 0
	for i, s := range segs {
		if i > 0 {
			n += sepLen(s)
		}
		n += runeLen(s.text)
	}
	return n
}

func separator(s segment) string {
	if s.paragraph {
		return "\n\n"
	}
	return " "
}

func sepLen(s segment) int { return len(separator(s)) }

func runeLen(s string) int { return utf8.RuneCountInString(s) }
