package timeline

import (
	"math"
	"strings"
	"unicode/utf8"
)

// Subcaption is a time-bounded fragment of display text aligned within a
// clip's duration. Offset is relative to the clip start.
type Subcaption struct {
	Text     string
	Duration float64
	Offset   float64
}

// Partition splits text into sub-captions that exactly cover totalDuration.
// The text is whitespace-normalized, split into ceil(len/maxLen) contiguous
// token groups of equal token count, and each group's share of the duration
// is weighted by its character length. Displayed durations are shortened by
// buff (floored at zero), but placement offsets accumulate the un-clamped
// chunk duration, so the buffer gap never shifts later chunks.
//
// Token chunking may legitimately produce one group fewer than the character
// estimate; both outcomes are valid.
func Partition(text string, totalDuration float64, maxLen int, buff float64) []Subcaption {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || maxLen <= 0 {
		return nil
	}

	normalized := strings.Join(tokens, " ")

	// Lengths are counted in characters, not bytes, so multibyte scripts do
	// not inflate the chunk estimate or skew the duration weighting.
	nChunks := int(math.Ceil(float64(utf8.RuneCountInString(normalized)) / float64(maxLen)))
	if nChunks < 1 {
		nChunks = 1
	}

	tokensPerChunk := int(math.Ceil(float64(len(tokens)) / float64(nChunks)))

	chunks := make([]string, 0, nChunks)

	for start := 0; start < len(tokens); start += tokensPerChunk {
		end := start + tokensPerChunk
		if end > len(tokens) {
			end = len(tokens)
		}

		chunks = append(chunks, strings.Join(tokens[start:end], " "))
	}

	var totalChars int
	for _, chunk := range chunks {
		totalChars += utf8.RuneCountInString(chunk)
	}

	subcaptions := make([]Subcaption, 0, len(chunks))

	var offset float64

	for _, chunk := range chunks {
		chunkDuration := totalDuration * float64(utf8.RuneCountInString(chunk)) / float64(totalChars)

		displayed := chunkDuration - buff
		if displayed < 0 {
			displayed = 0
		}

		subcaptions = append(subcaptions, Subcaption{
			Text:     chunk,
			Duration: displayed,
			Offset:   offset,
		})

		offset += chunkDuration
	}

	return subcaptions
}
