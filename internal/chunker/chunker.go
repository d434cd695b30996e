// Package chunker splits document text into bounded, overlapping,
// boundary-aware segments and derives keyword metadata from them. All
// functions are pure; offsets are in Unicode code points relative to the
// input text.
package chunker

import (
	"regexp"
	"strings"
)

// Chunk is a bounded contiguous segment of a source document, the unit of
// embedding and retrieval. Index is contiguous from 0 within one document;
// StartChar/EndChar are rune offsets into the original text. A chunk is
// replaced, never mutated, when its text changes.
type Chunk struct {
	Text      string
	Index     int
	StartChar int
	EndChar   int
}

// Config controls chunk sizing. Size is the maximum chunk length and Overlap
// the number of runes shared between consecutive chunks, both in runes.
type Config struct {
	Size    int
	Overlap int
}

// sentenceEndings are the terminators a window may be truncated after, so
// chunks avoid severing sentences. Checked near the end of each window only.
var sentenceEndings = [][]rune{
	[]rune(". "),
	[]rune("。"),
	[]rune("! "),
	[]rune("！"),
	[]rune("? "),
	[]rune("？"),
	[]rune("\n\n"),
}

// Split chunks text with a greedy window. The window is truncated at the
// right-most sentence terminator found in its last 20% so sentences stay
// whole; windows that trim to nothing are discarded. Overlap is clamped to
// half the chunk size, and the start offset advances at least one rune per
// iteration, so Split always terminates.
func Split(text string, cfg Config) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)

	overlap := cfg.Overlap
	if overlap > cfg.Size/2 {
		overlap = cfg.Size / 2
	}

	var chunks []Chunk
	start := 0
	index := 0

	for start < len(runes) {
		end := min(start+cfg.Size, len(runes))
		window := runes[start:end]

		// Snap to a sentence boundary when the window does not already
		// reach the end of the text.
		if end < len(runes) {
			if cut := boundaryCut(window); cut > 0 {
				window = window[:cut]
			}
		}

		if trimmed := strings.TrimSpace(string(window)); trimmed != "" {
			chunks = append(chunks, Chunk{
				Text:      trimmed,
				Index:     index,
				StartChar: start,
				EndChar:   start + len(window),
			})
			index++
		}

		next := start + len(window) - overlap
		if next <= start {
			start += max(1, len(window))
		} else {
			start = next
		}
	}

	return chunks
}

// boundaryCut returns the rune position just past the right-most sentence
// terminator in the last 20% of the window, or 0 when none qualifies.
func boundaryCut(window []rune) int {
	searchStart := len(window) * 8 / 10

	best := 0
	bestPos := -1
	for _, ending := range sentenceEndings {
		pos := lastIndexRunes(window, ending)
		if pos > searchStart && pos > bestPos {
			bestPos = pos
			best = pos + len(ending)
		}
	}
	return best
}

// lastIndexRunes returns the index of the last occurrence of pattern in s,
// or -1 if absent.
func lastIndexRunes(s, pattern []rune) int {
	if len(pattern) == 0 || len(pattern) > len(s) {
		return -1
	}
outer:
	for i := len(s) - len(pattern); i >= 0; i-- {
		for j, r := range pattern {
			if s[i+j] != r {
				continue outer
			}
		}
		return i
	}
	return -1
}

// paragraphSep splits documents on blank-line boundaries.
var paragraphSep = regexp.MustCompile(`\n\n+`)

// SplitByParagraphs splits text on blank lines first. Paragraphs that fit in
// one chunk are kept verbatim; longer paragraphs go through Split. Indices
// are renumbered globally and offsets translated to document-absolute by the
// running paragraph offset, which advances by the paragraph length plus the
// two-rune separator.
func SplitByParagraphs(text string, cfg Config) []Chunk {
	var chunks []Chunk
	current := 0
	index := 0

	for _, paragraph := range paragraphSep.Split(text, -1) {
		plen := len([]rune(paragraph))

		if strings.TrimSpace(paragraph) == "" {
			current += plen + 2
			continue
		}

		if plen <= cfg.Size {
			chunks = append(chunks, Chunk{
				Text:      strings.TrimSpace(paragraph),
				Index:     index,
				StartChar: current,
				EndChar:   current + plen,
			})
			index++
		} else {
			for _, c := range Split(paragraph, cfg) {
				chunks = append(chunks, Chunk{
					Text:      c.Text,
					Index:     index,
					StartChar: current + c.StartChar,
					EndChar:   current + c.EndChar,
				})
				index++
			}
		}

		current += plen + 2
	}

	return chunks
}

// OptimalConfig picks chunk sizing from the document length: small documents
// get smaller chunks, very large ones get larger chunks.
func OptimalConfig(textLen int) Config {
	switch {
	case textLen < 2000:
		return Config{Size: 500, Overlap: 100}
	case textLen > 50000:
		return Config{Size: 2000, Overlap: 400}
	default:
		return Config{Size: 1000, Overlap: 200}
	}
}
