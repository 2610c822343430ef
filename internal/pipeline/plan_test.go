package pipeline

import (
	"reflect"
	"strings"
	"testing"

	"github.com/speakbooklabs/speakbook/internal/book"
)

func sampleBook() book.ParseResult {
	return book.ParseResult{
		Meta: book.Metadata{Title: "Test Book", Author: "A. Writer"},
		Chapters: []book.Chapter{
			{Index: 1, Title: "One", TTSTitle: "Chapter One", Text: "First sentence here. Second sentence here."},
			{Index: 2, Title: "Two", TTSTitle: "Chapter Two", Text: "Third sentence here. Fourth sentence here."},
			{Index: 3, Title: "Three", TTSTitle: "Chapter Three", Text: "Fifth sentence here."},
		},
	}
}

func TestBuildPlanDeterministic(t *testing.T) {
	opts := PlanOptions{RequestLimitChars: 60, WorkDir: "/work", AudioExt: "mp3"}
	a, err := BuildPlan(sampleBook(), opts)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	b, err := BuildPlan(sampleBook(), opts)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("planning the same input twice must be identical")
	}
	if a.TotalChunks == 0 || len(a.Chapters) != 3 {
		t.Fatalf("plan = %+v", a)
	}
}

func TestBuildPlanPrependsSpokenTitle(t *testing.T) {
	plan, err := BuildPlan(sampleBook(), PlanOptions{RequestLimitChars: 4800, WorkDir: "/work"})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	first := plan.Chapters[0].Chunks[0].Text
	if !strings.HasPrefix(first, "Chapter One.") {
		t.Errorf("first chunk should open with the spoken title: %q", first)
	}
}

func TestBuildPlanChunkPaths(t *testing.T) {
	plan, err := BuildPlan(sampleBook(), PlanOptions{RequestLimitChars: 4800, WorkDir: "/work", AudioExt: "mp3"})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	got := plan.Chapters[0].ChunkPaths[0]
	want := "/work/audio_chunks/ch01_chunk000.mp3"
	if got != want {
		t.Errorf("chunk path = %q, want %q", got, want)
	}
	if !strings.HasPrefix(plan.Chapters[1].AudioPath, "/work/chapters/ch02_") {
		t.Errorf("chapter path = %q", plan.Chapters[1].AudioPath)
	}
}

func TestBuildPlanChapterRange(t *testing.T) {
	rng, err := ParseChapterRange("2-3")
	if err != nil {
		t.Fatalf("ParseChapterRange: %v", err)
	}
	plan, err := BuildPlan(sampleBook(), PlanOptions{RequestLimitChars: 4800, WorkDir: "/w", ChapterRange: rng})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if len(plan.Chapters) != 2 {
		t.Fatalf("got %d chapters", len(plan.Chapters))
	}
	if plan.Chapters[0].Chapter.Index != 2 || plan.Chapters[1].Chapter.Index != 3 {
		t.Errorf("wrong chapters selected: %+v", plan.Chapters)
	}
}

func TestBuildPlanRangeWithNoMatches(t *testing.T) {
	rng := &ChapterRange{First: 9, Last: 12}
	if _, err := BuildPlan(sampleBook(), PlanOptions{RequestLimitChars: 4800, WorkDir: "/w", ChapterRange: rng}); err == nil {
		t.Error("want error when no chapters match")
	}
}

func TestBuildPlanGlobalBudget(t *testing.T) {
	// Budget covers chapter one plus part of chapter two.
	plan, err := BuildPlan(sampleBook(), PlanOptions{
		RequestLimitChars: 4800,
		MaxTotalChars:     67,
		WorkDir:           "/w",
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if len(plan.Chapters) != 2 {
		t.Fatalf("got %d chapters, want budget to stop after chapter two", len(plan.Chapters))
	}
	second := plan.Chapters[1].Chunks[0].Text
	if strings.Contains(second, "Fourth") {
		t.Errorf("chapter two should be truncated at a sentence boundary: %q", second)
	}
	if !strings.Contains(second, "Third sentence here.") {
		t.Errorf("chapter two lost its first sentence: %q", second)
	}
}

func TestParseChapterRange(t *testing.T) {
	cases := []struct {
		in      string
		want    *ChapterRange
		wantErr bool
	}{
		{"", nil, false},
		{"5", &ChapterRange{5, 5}, false},
		{"3-7", &ChapterRange{3, 7}, false},
		{" 2 - 4 ", &ChapterRange{2, 4}, false},
		{"0", nil, true},
		{"7-3", nil, true},
		{"abc", nil, true},
	}
	for _, c := range cases {
		got, err := ParseChapterRange(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseChapterRange(%q): want error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseChapterRange(%q): %v", c.in, err)
			continue
		}
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("ParseChapterRange(%q) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestEstimateCost(t *testing.T) {
	plan := Plan{TotalChars: 250_000, TotalChunks: 53}
	est := EstimateCost(plan, 4800)
	if est.EstimatedCalls != 53 {
		t.Errorf("calls = %d", est.EstimatedCalls)
	}
	// $22 base plus 50k chars overage at $0.15/1k.
	if want := 22 + 50.0*0.15; est.EstimatedUSD != want {
		t.Errorf("cost = %.2f, want %.2f", est.EstimatedUSD, want)
	}

	small := EstimateCost(Plan{TotalChars: 10_000}, 4800)
	if small.EstimatedUSD != 22 {
		t.Errorf("cost under the included quota = %.2f, want flat 22", small.EstimatedUSD)
	}
}
