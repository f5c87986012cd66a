package service

import (
	"strings"
	"unicode"
)

// ChunkConfig controls how extracted document text is split for embedding.
type ChunkConfig struct {
	// MaxSize is the maximum chunk length in characters.
	MaxSize int
	// Overlap is how many trailing characters of a closed chunk seed the next.
	Overlap int
	// MinChunkSize drops fragments below this length; they are typically
	// headers or noise, not retrievable knowledge.
	MinChunkSize int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxSize:      1000,
		Overlap:      200,
		MinChunkSize: 50,
	}
}

// TextChunk is one segment of normalized document text. Offsets are
// character positions in the normalized text, not the original.
type TextChunk struct {
	Content    string
	StartIndex int
	EndIndex   int
}

type span struct {
	start int
	end   int
}

// ChunkText splits text into overlapping, sentence-respecting chunks bounded
// by cfg.MaxSize. It is deterministic and has no side effects.
func ChunkText(text string, cfg ChunkConfig) []TextChunk {
	if cfg.MaxSize <= 0 {
		cfg = DefaultChunkConfig()
	}

	runes := []rune(NormalizeText(text))
	if len(runes) == 0 {
		return nil
	}

	if len(runes) <= cfg.MaxSize {
		chunk := TextChunk{Content: string(runes), StartIndex: 0, EndIndex: len(runes)}
		return []TextChunk{chunk}
	}

	sentences := splitSentences(runes)

	chunks := make([]TextChunk, 0, 8)
	chunkStart := -1
	chunkEnd := 0

	for _, s := range sentences {
		if chunkStart < 0 {
			chunkStart = s.start
			chunkEnd = s.end
			continue
		}

		if s.end-chunkStart > cfg.MaxSize {
			chunks = append(chunks, TextChunk{
				Content:    string(runes[chunkStart:chunkEnd]),
				StartIndex: chunkStart,
				EndIndex:   chunkEnd,
			})

			// Seed the next chunk with the tail of the one just closed,
			// then the sentence that triggered the overflow.
			nextStart := chunkEnd - cfg.Overlap
			if cfg.Overlap <= 0 || nextStart < chunkStart {
				nextStart = s.start
			}
			chunkStart = nextStart
			chunkEnd = s.end
			continue
		}

		chunkEnd = s.end
	}

	if chunkStart >= 0 && chunkEnd > chunkStart {
		chunks = append(chunks, TextChunk{
			Content:    string(runes[chunkStart:chunkEnd]),
			StartIndex: chunkStart,
			EndIndex:   chunkEnd,
		})
	}

	return filterShortChunks(chunks, cfg.MinChunkSize)
}

// NormalizeText collapses runs of spaces and tabs to single spaces, collapses
// blank lines, and trims the result.
func NormalizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	pendingSpace := false
	pendingNewline := false
	for _, r := range text {
		switch {
		case r == '\n' || r == '\r':
			pendingNewline = true
			pendingSpace = false
		case unicode.IsSpace(r):
			if !pendingNewline {
				pendingSpace = true
			}
		default:
			if b.Len() > 0 {
				if pendingNewline {
					b.WriteRune('\n')
				} else if pendingSpace {
					b.WriteRune(' ')
				}
			}
			pendingNewline = false
			pendingSpace = false
			b.WriteRune(r)
		}
	}

	return b.String()
}

// splitSentences returns sentence spans over runes, split on terminal
// punctuation followed by whitespace. Empty fragments are discarded. A
// trailing fragment without terminal punctuation counts as a sentence.
func splitSentences(runes []rune) []span {
	var spans []span
	start := -1

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if start < 0 {
			if unicode.IsSpace(r) {
				continue
			}
			start = i
		}

		if isSentenceTerminal(r) && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])) {
			spans = append(spans, span{start: start, end: i + 1})
			start = -1
		}
	}

	if start >= 0 {
		spans = append(spans, span{start: start, end: len(runes)})
	}

	return spans
}

func isSentenceTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// filterShortChunks drops chunks below the minimum viable length. A sole
// chunk is exempt so that short documents remain retrievable.
func filterShortChunks(chunks []TextChunk, min int) []TextChunk {
	if min <= 0 || len(chunks) <= 1 {
		return chunks
	}

	kept := chunks[:0]
	for _, c := range chunks {
		if len([]rune(c.Content)) >= min {
			kept = append(kept, c)
		}
	}
	return kept
}
