package tts

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// MockSynth is a deterministic offline synthesizer: the same text always
// produces the same WAV bytes, with duration proportional to text length.
// It backs dry tests and the exercise of the pipeline without an API key.
type MockSynth struct {
	sampleRate     int
	charsPerSecond int
}

// NewMockSynth creates a mock synthesizer. charsPerSecond controls how much
// audio a chunk of text produces.
func NewMockSynth(sampleRate, charsPerSecond int) *MockSynth {
	if sampleRate <= 0 {
		sampleRate = 22050
	}
	if charsPerSecond <= 0 {
		charsPerSecond = 15
	}
	return &MockSynth{sampleRate: sampleRate, charsPerSecond: charsPerSecond}
}

func (m *MockSynth) Format() string { return "wav" }

func (m *MockSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chars := utf8.RuneCountInString(req.Text)
	frames := m.sampleRate * chars / m.charsPerSecond
	if frames < 1 {
		frames = 1
	}

	seed := sha256.Sum256([]byte(req.Text))
	samples := make([]int, frames)
	for i := range samples {
		samples[i] = int(int8(seed[i%len(seed)])) << 4
	}

	var buf seekableBuffer
	enc := wav.NewEncoder(&buf, m.sampleRate, 16, 1, 1)
	if err := enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: m.sampleRate},
		SourceBitDepth: 16,
		Data:           samples,
	}); err != nil {
		return nil, fmt.Errorf("encode mock wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize mock wav: %w", err)
	}
	return buf.data, nil
}

// seekableBuffer is an in-memory io.WriteSeeker for the wav encoder, which
// seeks back to patch RIFF sizes on Close.
type seekableBuffer struct {
	data []byte
	pos  int
}

func (b *seekableBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		grown := make([]byte, need)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(b.pos) + offset
	case io.SeekEnd:
		next = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position")
	}
	b.pos = int(next)
	return next, nil
}
