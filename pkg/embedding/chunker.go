package embedding

import (
	"strings"
)

// DefaultChunkSize is the default chunk window in characters.
const DefaultChunkSize = 500

// DefaultChunkOverlap is the default overlap between consecutive chunks.
const DefaultChunkOverlap = 50

// sentenceTerminators are the boundaries scanned for when no paragraph break
// falls past the window midpoint.
var sentenceTerminators = []string{". ", "? ", "! "}

// TextChunk is one window of a chunked document, before embedding.
type TextChunk struct {
	Text     string
	Position int
}

// ChunkText splits text into overlapping windows of at most chunkSize
// characters, snapped to natural boundaries. A window that does not reach the
// end of the text is cut after the last paragraph break ("\n\n") past its
// midpoint, else after the last sentence terminator past its midpoint, else
// at the raw chunkSize. The next window starts overlap characters before the
// previous cut. Text shorter than chunkSize yields exactly one chunk; empty
// text yields none.
func ChunkText(text string, chunkSize, overlap int) []TextChunk {
	if text == "" {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = chunkSize / 10
	}

	var chunks []TextChunk
	n := len(text)
	start := 0

	for start < n {
		end := start + chunkSize
		if end >= n {
			end = n
		} else {
			end = start + snapBoundary(text[start:end], chunkSize)
		}

		chunks = append(chunks, TextChunk{Text: text[start:end], Position: len(chunks)})

		if end >= n {
			break
		}
		next := end - overlap
		if next <= start {
			// A snapped boundary can land close enough to the window start
			// that overlapping would stall the cursor; advance without
			// overlap instead.
			next = end
		}
		start = next
	}

	return chunks
}

// snapBoundary returns the cut offset within window: just past a paragraph
// break beyond the midpoint, else just past a sentence terminator beyond the
// midpoint, else the full window length.
func snapBoundary(window string, chunkSize int) int {
	mid := chunkSize / 2

	if idx := strings.LastIndex(window, "\n\n"); idx > mid {
		return idx + 2
	}

	best := -1
	for _, term := range sentenceTerminators {
		if idx := strings.LastIndex(window, term); idx > mid && idx > best {
			best = idx
		}
	}
	if best >= 0 {
		// All terminators are two characters wide.
		return best + 2
	}

	return len(window)
}
