// Package pipeline drives a conversion run end to end: plan chunks,
// reconcile against saved progress, synthesize what is missing, assemble
// chapters, and package the audiobook.
package pipeline

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/speakbooklabs/speakbook/internal/book"
	"github.com/speakbooklabs/speakbook/internal/chunk"
)

// PlannedChapter is one chapter with its chunk plan and target paths.
type PlannedChapter struct {
	Chapter    book.Chapter
	Chunks     []chunk.Chunk
	ChunkPaths []string
	AudioPath  string
}

// Plan is the full deterministic work list for a run. Planning the same
// input twice yields byte-identical chunk text and identical paths.
type Plan struct {
	Chapters    []PlannedChapter
	Meta        book.Metadata
	TotalChunks int
	TotalChars  int
}

// PlanOptions control how the plan is built.
type PlanOptions struct {
	RequestLimitChars int
	MaxTotalChars     int    // 0 means unlimited
	ChapterRange      *ChapterRange
	WorkDir           string
	AudioExt          string // "mp3" or "wav", from the synthesizer
}

// ChunksDir is where per-chunk audio lands under the work directory.
func ChunksDir(workDir string) string { return filepath.Join(workDir, "audio_chunks") }

// ChaptersDir is where assembled chapter audio lands.
func ChaptersDir(workDir string) string { return filepath.Join(workDir, "chapters") }

// ChunkKey names one chunk stably across runs.
func ChunkKey(chapterIndex, sequence int) string {
	return fmt.Sprintf("ch%02d_chunk%03d", chapterIndex, sequence)
}

// BuildPlan selects chapters, applies the global character budget, prepends
// the spoken title announcement, and chunks each chapter.
func BuildPlan(parsed book.ParseResult, opts PlanOptions) (Plan, error) {
	if opts.RequestLimitChars <= 0 {
		return Plan{}, fmt.Errorf("request limit must be positive, got %d", opts.RequestLimitChars)
	}
	ext := opts.AudioExt
	if ext == "" {
		ext = "mp3"
	}

	chapters := parsed.Chapters
	if opts.ChapterRange != nil {
		var kept []book.Chapter
		for _, ch := range chapters {
			if opts.ChapterRange.Contains(ch.Index) {
				kept = append(kept, ch)
			}
		}
		if len(kept) == 0 {
			return Plan{}, fmt.Errorf("no chapters matched range %s (book has %d chapters)", opts.ChapterRange, len(chapters))
		}
		chapters = kept
	}

	plan := Plan{Meta: parsed.Meta}
	remaining := opts.MaxTotalChars
	truncated := false
	for _, ch := range chapters {
		if truncated {
			break
		}
		text := ch.Text
		if opts.MaxTotalChars > 0 {
			if remaining <= 0 {
				break
			}
			if utf8.RuneCountInString(text) > remaining {
				text = chunk.TruncateAtSentence(text, remaining)
				truncated = true
			}
			remaining -= utf8.RuneCountInString(text)
		}

		spoken := text
		if ch.TTSTitle != "" {
			spoken = ch.TTSTitle + ".\n\n" + text
		}
		chunks := chunk.SplitChapter(ch.Index, spoken, opts.RequestLimitChars)
		if len(chunks) == 0 {
			continue
		}

		pc := PlannedChapter{
			Chapter:   ch,
			Chunks:    chunks,
			AudioPath: filepath.Join(ChaptersDir(opts.WorkDir), fmt.Sprintf("ch%02d_%s.%s", ch.Index, safeTitle(ch.Title), ext)),
		}
		for _, c := range chunks {
			pc.ChunkPaths = append(pc.ChunkPaths, filepath.Join(ChunksDir(opts.WorkDir), ChunkKey(c.ChapterIndex, c.Sequence)+"."+ext))
			plan.TotalChars += c.CharCount
			plan.TotalChunks++
		}
		plan.Chapters = append(plan.Chapters, pc)
	}
	return plan, nil
}

// safeTitle makes a chapter title usable as a filename fragment.
func safeTitle(title string) string {
	if len(title) > 40 {
		title = title[:40]
	}
	r := strings.NewReplacer(" ", "_", ":", "", "/", "_")
	return r.Replace(title)
}

// ChapterRange is an inclusive 1-based chapter selection.
type ChapterRange struct {
	First int
	Last  int
}

// ParseChapterRange accepts "5" or "3-7".
func ParseChapterRange(s string) (*ChapterRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if first, last, ok := strings.Cut(s, "-"); ok {
		lo, err := strconv.Atoi(strings.TrimSpace(first))
		if err != nil {
			return nil, fmt.Errorf("bad chapter range %q: %w", s, err)
		}
		hi, err := strconv.Atoi(strings.TrimSpace(last))
		if err != nil {
			return nil, fmt.Errorf("bad chapter range %q: %w", s, err)
		}
		if lo < 1 || hi < lo {
			return nil, fmt.Errorf("bad chapter range %q", s)
		}
		return &ChapterRange{First: lo, Last: hi}, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("bad chapter range %q: %w", s, err)
	}
	if n < 1 {
		return nil, fmt.Errorf("bad chapter range %q", s)
	}
	return &ChapterRange{First: n, Last: n}, nil
}

func (r *ChapterRange) Contains(idx int) bool { return idx >= r.First && idx <= r.Last }

func (r *ChapterRange) String() string {
	if r.First == r.Last {
		return strconv.Itoa(r.First)
	}
	return fmt.Sprintf("%d-%d", r.First, r.Last)
}

// CostEstimate approximates the provider bill for a plan, assuming the
// Creator plan with 200k characters included and $0.15 per extra thousand.
type CostEstimate struct {
	TotalChars     int
	EstimatedCalls int
	EstimatedUSD   float64
}

func EstimateCost(plan Plan, requestLimit int) CostEstimate {
	if requestLimit <= 0 {
		requestLimit = 4800
	}
	const includedChars = 200_000
	const baseUSD = 22.0
	const perThousandUSD = 0.15

	overage := plan.TotalChars - includedChars
	if overage < 0 {
		overage = 0
	}
	return CostEstimate{
		TotalChars:     plan.TotalChars,
		EstimatedCalls: plan.TotalChunks,
		EstimatedUSD:   baseUSD + float64(overage)/1000*perThousandUSD,
	}
}
