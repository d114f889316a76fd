// Package chunker splits text into overlapping chunks for embedding.
//
// The splitter is greedy: it takes up to size runes per chunk, preferring to
// cut at a paragraph break, then a line break, then a sentence end, then a
// word boundary. Consecutive chunks share the trailing overlap runes of the
// previous chunk so that context spanning a boundary is retrievable from
// either side.
package chunker

// Splitter produces deterministic overlapping chunks from input text.
type Splitter struct {
	size    int
	overlap int
}

// New returns a Splitter with the given chunk size and overlap, both counted
// in runes. An overlap at or above size is clamped to size/4 so that every
// chunk makes forward progress.
func New(size, overlap int) *Splitter {
	if size <= 0 {
		size = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &Splitter{size: size, overlap: overlap}
}

// Split divides text into chunks of at most size runes. Empty or
// whitespace-free-and-short input yields nil or a single chunk; identical
// input always yields identical output.
func (s *Splitter) Split(text string) []string {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= s.size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + s.size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}

		// Cut at the best boundary in (start+overlap, end]. Restricting the
		// search past the overlap guarantees the next start advances.
		cut := s.findBoundary(runes, start+s.overlap+1, end)
		chunks = append(chunks, string(runes[start:cut]))
		start = cut - s.overlap
	}
	return chunks
}

// boundary preference order, strongest first
var separators = []string{"\n\n", "\n", ". ", "! ", "? ", " "}

// findBoundary returns the cut position in (lo, hi], preferring the latest
// occurrence of the strongest separator. Falls back to a hard cut at hi.
func (s *Splitter) findBoundary(runes []rune, lo, hi int) int {
	if lo < 1 {
		lo = 1
	}
	for _, sep := range separators {
		sepRunes := []rune(sep)
		for i := hi; i >= lo; i-- {
			if matchesAt(runes, i-len(sepRunes), sepRunes) {
				return i
			}
		}
	}
	return hi
}

// matchesAt reports whether runes[pos:pos+len(sep)] equals sep.
func matchesAt(runes []rune, pos int, sep []rune) bool {
	if pos < 0 || pos+len(sep) > len(runes) {
		return false
	}
	for i, r := range sep {
		if runes[pos+i] != r {
			return false
		}
	}
	return true
}
