package chunk

import (
	"strings"
	"testing"
)

func sentence(lead rune, length int) string {
	return string(lead) + strings.Repeat("a", length-2) + "."
}

func TestSplitChapterDeterministic(t *testing.T) {
	text := "First sentence here. Second sentence follows. Third one closes."
	a := SplitChapter(1, text, 40)
	b := SplitChapter(1, text, 40)
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Text != b[i].Text || a[i].ContentHash != b[i].ContentHash {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}

func TestSplitChapterRespectsLimit(t *testing.T) {
	var sentences []string
	for i := 0; i < 50; i++ {
		sentences = append(sentences, sentence('A', 80))
	}
	text := strings.Join(sentences, " ")
	chunks := SplitChapter(1, text, 300)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if c.CharCount > 300 {
			t.Fatalf("chunk %d has %d chars, limit 300", c.Sequence, c.CharCount)
		}
		if c.ForcedSplit {
			t.Fatalf("chunk %d unexpectedly flagged as forced split", c.Sequence)
		}
	}
}

func TestSplitChapterEmptyText(t *testing.T) {
	if chunks := SplitChapter(3, "", 1000); len(chunks) != 0 {
		t.Fatalf("expected zero chunks for empty chapter, got %d", len(chunks))
	}
	if chunks := SplitChapter(3, "  \n\n  ", 1000); len(chunks) != 0 {
		t.Fatalf("expected zero chunks for blank chapter, got %d", len(chunks))
	}
}

func TestOverlongSentenceIsForcedSplit(t *testing.T) {
	// One 250-char "sentence" with no terminal punctuation until the end.
	long := "B" + strings.Repeat("b ", 124) + "b."
	chunks := SplitChapter(1, long, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected forced split into multiple chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if !c.ForcedSplit {
			t.Fatalf("chunk %d should carry the forced split flag", c.Sequence)
		}
		if c.CharCount > 100 {
			t.Fatalf("forced chunk %d exceeds limit: %d", c.Sequence, c.CharCount)
		}
		if strings.HasPrefix(c.Text, " ") || strings.HasSuffix(c.Text, " ") {
			t.Fatalf("forced chunk %d not trimmed: %q", c.Sequence, c.Text)
		}
	}
	joined := strings.Join(textsOf(chunks), " ")
	if joined != long {
		t.Fatalf("forced split lost content:\n got %q\nwant %q", joined, long)
	}
}

// A 16,372-character chapter with ~120-char sentences and a 2500-char limit
// packs into exactly 7 chunks with sequence indices 0 through 6.
func TestSevenChunkScenario(t *testing.T) {
	var sentences []string
	for i := 0; i < 135; i++ {
		sentences = append(sentences, sentence('A', 120))
	}
	sentences = append(sentences, sentence('Z', 37))
	text := strings.Join(sentences, " ")
	if got := len(text); got != 16372 {
		t.Fatalf("test input is %d chars, want 16372", got)
	}

	chunks := SplitChapter(1, text, 2500)
	if len(chunks) != 7 {
		t.Fatalf("expected 7 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Sequence != i {
			t.Fatalf("chunk %d has sequence %d", i, c.Sequence)
		}
		if c.CharCount > 2500 {
			t.Fatalf("chunk %d has %d chars, limit 2500", i, c.CharCount)
		}
		if c.ForcedSplit {
			t.Fatalf("chunk %d should not be a forced split", i)
		}
	}
	// Re-joining with single spaces reproduces the normalized input exactly.
	if joined := strings.Join(textsOf(chunks), " "); joined != text {
		t.Fatalf("concatenated chunks differ from input: %d vs %d chars", len(joined), len(text))
	}
}

func TestParagraphBoundariesPreferred(t *testing.T) {
	para := sentence('A', 90) + " " + sentence('B', 90)
	text := para + "\n\n" + para + "\n\n" + para
	chunks := SplitChapter(1, text, 200)
	for _, c := range chunks {
		if c.CharCount > 200 {
			t.Fatalf("chunk %d over limit: %d", c.Sequence, c.CharCount)
		}
	}
}

func TestSplitSentences(t *testing.T) {
	text := `He stopped. "What now?" she asked. Nothing happened! Then silence.`
	got := SplitSentences(text)
	want := []string{
		"He stopped.",
		`"What now?" she asked.`,
		"Nothing happened!",
		"Then silence.",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d sentences %q, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitSentencesNoFalseBreakOnAbbreviationCase(t *testing.T) {
	// Lower-case continuation after a period keeps the sentence together.
	got := SplitSentences("He arrived at 5 p.m. and left soon after. She stayed.")
	if len(got) != 2 {
		t.Fatalf("expected 2 sentences, got %d: %q", len(got), got)
	}
}

func TestTruncateAtSentence(t *testing.T) {
	text := "One sentence here. Another sentence there. A third trails off"
	got := TruncateAtSentence(text, 30)
	if got != "One sentence here." {
		t.Fatalf("truncate = %q", got)
	}
	if full := TruncateAtSentence(text, 10_000); full != text {
		t.Fatalf("text within budget should be unchanged")
	}
	// No sentence end inside the budget: fall back to a word boundary.
	got = TruncateAtSentence("word another word yet more", 12)
	if got != "word another" {
		t.Fatalf("word-boundary truncate = %q", got)
	}
}

func TestHashStability(t *testing.T) {
	if Hash("abc") != Hash("abc") {
		t.Fatal("hash must be deterministic")
	}
	if Hash("abc") == Hash("abd") {
		t.Fatal("hash must distinguish different text")
	}
}

func textsOf(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}
