package audio

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewToolParsesCommands(t *testing.T) {
	tool, err := NewTool("ffmpeg -hide_banner -loglevel error", "ffprobe", testLogger())
	if err != nil {
		t.Fatalf("NewTool: %v", err)
	}
	if len(tool.ffmpeg) != 4 {
		t.Errorf("ffmpeg args = %v", tool.ffmpeg)
	}
	if len(tool.ffprobe) != 1 {
		t.Errorf("ffprobe args = %v", tool.ffprobe)
	}
}

func TestNewToolRejectsEmptyCommand(t *testing.T) {
	if _, err := NewTool("", "ffprobe", testLogger()); err == nil {
		t.Error("want error for empty ffmpeg command")
	}
	if _, err := NewTool("ffmpeg", "", testLogger()); err == nil {
		t.Error("want error for empty ffprobe command")
	}
}

func TestNewToolRejectsUnparsableCommand(t *testing.T) {
	if _, err := NewTool("ffmpeg 'unterminated", "ffprobe", testLogger()); err == nil {
		t.Error("want parse error")
	}
}

func TestConcatRequiresInputs(t *testing.T) {
	tool, err := NewTool("ffmpeg", "ffprobe", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "out.mp3")
	if err := tool.Concat(context.Background(), nil, out); err == nil {
		t.Error("want error for empty input list")
	}
}

func TestBuildRequiresChapterFiles(t *testing.T) {
	tool, err := NewTool("ffmpeg", "ffprobe", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	spec := BuildSpec{Output: filepath.Join(t.TempDir(), "book.m4b"), Format: "m4b"}
	if err := tool.Build(context.Background(), spec); err == nil {
		t.Error("want error for missing chapter files")
	}
}
