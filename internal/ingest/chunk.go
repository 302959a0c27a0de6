package ingest

import "strings"

const (
	// DefaultChunkSize is the default window size in runes.
	DefaultChunkSize = 8000
	// DefaultChunkOverlap is the default number of runes shared by consecutive chunks.
	DefaultChunkOverlap = 200
)

// Chunk is one bounded window of paper text.
type Chunk struct {
	Index  int    `json:"index"`
	Offset int    `json:"offset"` // rune offset in the source text
	Text   string `json:"text"`
}

// ChunkText splits text into overlapping windows of at most maxSize runes.
//
// A window that stops before the end of the text is pulled back to the last
// paragraph break after its start, else to the last sentence break (the
// period stays in the chunk), else it is cut hard. The next window starts
// overlap runes before the previous end, or at the previous end when that
// would not move forward.
func ChunkText(text string, maxSize, overlap int) []Chunk {
	if text == "" {
		return nil
	}
	if maxSize <= 0 {
		maxSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}

	runes := []rune(text)
	n := len(runes)
	if n <= maxSize {
		return []Chunk{{Index: 0, Offset: 0, Text: text}}
	}

	var chunks []Chunk
	start := 0
	for start < n {
		end := start + maxSize
		if end < n {
			window := string(runes[start:end])
			if i := lastRuneIndex(window, "\n\n"); i > 0 {
				end = start + i
			} else if i := lastRuneIndex(window, ". "); i > 0 {
				end = start + i + 1
			}
		} else {
			end = n
		}

		chunks = append(chunks, Chunk{
			Index:  len(chunks),
			Offset: start,
			Text:   string(runes[start:end]),
		})

		if end >= n {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// lastRuneIndex is strings.LastIndex measured in runes; -1 when absent.
func lastRuneIndex(s, sep string) int {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return -1
	}
	return len([]rune(s[:i]))
}
