package knowledge

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Default chunking parameters, in characters.
const (
	DefaultChunkSize    = 1500
	DefaultChunkOverlap = 200
)

var chunkSeparators = []string{"\n\n", "\n", ". ", " "}

// Splitter cuts text into overlapping windows of at most Size characters,
// preferring paragraph, line, sentence and word boundaries in that order.
type Splitter struct {
	Size    int
	Overlap int
}

// NewSplitter normalizes size and overlap. Overlap is clamped below size.
func NewSplitter(size, overlap int) Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 4
	}
	return Splitter{Size: size, Overlap: overlap}
}

// Split returns the chunks of text. Each chunk after the first starts with
// the tail of the previous one.
func (s Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	body := s.Size - s.Overlap
	base := recursiveSplit(text, body, chunkSeparators)
	if s.Overlap == 0 || len(base) <= 1 {
		return base
	}

	out := make([]string, len(base))
	out[0] = base[0]
	for i := 1; i < len(base); i++ {
		room := s.Size - runeLen(base[i]) - 1
		if room > s.Overlap {
			room = s.Overlap
		}
		tail := ""
		if room > 0 {
			tail = overlapTail(base[i-1], room)
		}
		if tail == "" {
			out[i] = base[i]
			continue
		}
		out[i] = tail + " " + base[i]
	}
	return out
}

func recursiveSplit(text string, max int, separators []string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if runeLen(text) <= max {
		return []string{text}
	}
	if len(separators) == 0 {
		return hardSplit(text, max)
	}

	sep := separators[0]
	parts := strings.SplitAfter(text, sep)
	if len(parts) <= 1 {
		return recursiveSplit(text, max, separators[1:])
	}

	var grouped []string
	current := ""
	for _, part := range parts {
		if part == "" {
			continue
		}
		candidate := current + part
		if current == "" || runeLen(strings.TrimSpace(candidate)) <= max {
			current = candidate
			continue
		}
		grouped = append(grouped, current)
		current = part
	}
	if strings.TrimSpace(current) != "" {
		grouped = append(grouped, current)
	}

	var out []string
	for _, g := range grouped {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if runeLen(g) <= max {
			out = append(out, g)
			continue
		}
		out = append(out, recursiveSplit(g, max, separators[1:])...)
	}
	return out
}

func hardSplit(text string, max int) []string {
	rs := []rune(text)
	var out []string
	for start := 0; start < len(rs); start += max {
		end := start + max
		if end > len(rs) {
			end = len(rs)
		}
		if piece := strings.TrimSpace(string(rs[start:end])); piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

// overlapTail returns at most n trailing characters of s, starting on a word
// boundary when one exists.
func overlapTail(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return strings.TrimSpace(s)
	}
	tail := rs[len(rs)-n:]
	for i, r := range tail {
		if unicode.IsSpace(r) {
			if rest := strings.TrimSpace(string(tail[i:])); rest != "" {
				return rest
			}
			break
		}
	}
	return strings.TrimSpace(string(tail))
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
