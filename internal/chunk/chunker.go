// Package chunk plans request-sized synthesis units from chapter text.
// Chunk boundaries are a pure function of the text and the size limit, so
// re-running a conversion never changes the plan for unchanged input.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Chunk is one synthesis request worth of text.
type Chunk struct {
	ChapterIndex int
	Sequence     int
	Text         string
	CharCount    int
	ContentHash  string
	ForcedSplit  bool // set when a single sentence exceeded the limit and was word-split
}

// Hash returns the content identity of a chunk's text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// SplitChapter splits chapter text into ordered chunks of at most limit
// characters, breaking at paragraph and sentence boundaries. Empty text
// yields no chunks.
func SplitChapter(chapterIndex int, text string, limit int) []Chunk {
	var out []Chunk
	for seq, p := range splitText(text, limit) {
		out = append(out, Chunk{
			ChapterIndex: chapterIndex,
			Sequence:     seq,
			Text:         p.text,
			CharCount:    runeLen(p.text),
			ContentHash:  Hash(p.text),
			ForcedSplit:  p.forced,
		})
	}
	return out
}

type piece struct {
	text   string
	forced bool
}

func splitText(text string, limit int) []piece {
	var packed []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			packed = append(packed, s)
		}
		current.Reset()
		currentLen = 0
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		sentences := []string{para}
		if runeLen(para) > limit {
			sentences = SplitSentences(para)
		}
		for _, sentence := range sentences {
			n := runeLen(sentence)
			switch {
			case currentLen == 0:
				current.WriteString(sentence)
				currentLen = n
			case currentLen+1+n > limit:
				flush()
				current.WriteString(sentence)
				currentLen = n
			default:
				current.WriteByte(' ')
				current.WriteString(sentence)
				currentLen += 1 + n
			}
		}
	}
	flush()

	// Last-resort word-boundary split for any single sentence over the limit.
	var out []piece
	for _, p := range packed {
		if runeLen(p) <= limit {
			out = append(out, piece{text: p})
			continue
		}
		for _, part := range hardSplit(p, limit) {
			out = append(out, piece{text: part, forced: true})
		}
	}
	return out
}

func hardSplit(text string, limit int) []string {
	var parts []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := -1
		for i := limit; i > 0; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}
		if cut <= 0 {
			cut = limit
		}
		if part := strings.TrimSpace(string(runes[:cut])); part != "" {
			parts = append(parts, part)
		}
		runes = []rune(strings.TrimSpace(string(runes[cut:])))
	}
	if part := strings.TrimSpace(string(runes)); part != "" {
		parts = append(parts, part)
	}
	return parts
}

// SplitSentences splits text at terminal punctuation followed by whitespace
// and an upper-case letter or opening quote.
func SplitSentences(text string) []string {
	runes := []rune(text)
	var sentences []string
	start := 0
	i := 0
	for i < len(runes) {
		r := runes[i]
		if r == '.' || r == '!' || r == '?' {
			j := i + 1
			for j < len(runes) && unicode.IsSpace(runes[j]) {
				j++
			}
			if j > i+1 && j < len(runes) && startsSentence(runes[j]) {
				if s := strings.TrimSpace(string(runes[start:i+1])); s != "" {
					sentences = append(sentences, s)
				}
				start = j
				i = j
				continue
			}
		}
		i++
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func startsSentence(r rune) bool {
	return unicode.IsUpper(r) || r == '"' || r == '\'' || r == '‘' || r == '“'
}

// TruncateAtSentence caps text at maxChars, cutting at the last sentence end
// inside the budget, falling back to the last word boundary.
func TruncateAtSentence(text string, maxChars int) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	truncated := string(runes[:maxChars])
	for _, end := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(truncated, end); idx != -1 {
			return truncated[:idx+1]
		}
	}
	if idx := strings.LastIndex(truncated, " "); idx != -1 {
		return truncated[:idx]
	}
	return truncated
}

func runeLen(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}
