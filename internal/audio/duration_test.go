package audio

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/speakbooklabs/speakbook/internal/tts"
)

func writeTestWAV(t *testing.T, path string, seconds int, sampleRate int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, seconds*sampleRate),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestWAVDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	writeTestWAV(t, path, 3, 8000)

	got, err := Duration(context.Background(), nil, path)
	if err != nil {
		t.Fatalf("Duration: %v", err)
	}
	if got != 3*time.Second {
		t.Errorf("duration = %v, want 3s", got)
	}
}

func TestWAVDurationOfMockSynthOutput(t *testing.T) {
	synth := tts.NewMockSynth(22050, 10)
	data, err := synth.Synthesize(context.Background(), tts.Request{Text: bytesOfLen(30)})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	path := filepath.Join(t.TempDir(), "synth.wav")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Duration(context.Background(), nil, path)
	if err != nil {
		t.Fatalf("Duration: %v", err)
	}
	// 30 chars at 10 chars/second.
	if got != 3*time.Second {
		t.Errorf("duration = %v, want 3s", got)
	}
}

func bytesOfLen(n int) string {
	return string(bytes.Repeat([]byte("a"), n))
}

func TestDurationNeedsExtensionMatchingContainer(t *testing.T) {
	synth := tts.NewMockSynth(22050, 10)
	data, err := synth.Synthesize(context.Background(), tts.Request{Text: bytesOfLen(20)})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	dir := t.TempDir()

	// Written under the container's extension, measurement works.
	good := filepath.Join(dir, "chunk."+synth.Format())
	if err := os.WriteFile(good, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if d, err := Duration(context.Background(), nil, good); err != nil || d != 2*time.Second {
		t.Errorf("Duration(%s) = %v, %v; want 2s", good, d, err)
	}

	// The same bytes under the wrong extension must fail loudly rather
	// than report a bogus duration.
	bad := filepath.Join(dir, "chunk.mp3")
	if err := os.WriteFile(bad, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Duration(context.Background(), nil, bad); err == nil {
		t.Error("WAV bytes under an .mp3 path should not measure")
	}
}

func TestFileNonEmpty(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing")
	if FileNonEmpty(missing) {
		t.Error("missing file reported non-empty")
	}
	empty := filepath.Join(dir, "empty")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if FileNonEmpty(empty) {
		t.Error("zero-byte file reported non-empty")
	}
	full := filepath.Join(dir, "full")
	if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !FileNonEmpty(full) {
		t.Error("non-empty file reported empty")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	if err := WriteFileAtomic(path, []byte("payload")); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "payload" {
		t.Errorf("content = %q", data)
	}
	// Overwrite must replace, not append.
	if err := WriteFileAtomic(path, []byte("v2")); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "v2" {
		t.Errorf("content after overwrite = %q", data)
	}
}
