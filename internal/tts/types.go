package tts

import (
	"context"
	"fmt"
)

// Request contains parameters to synthesize one chunk of speech.
type Request struct {
	Text    string
	VoiceID string
	ModelID string
}

// Synthesizer is the provider boundary: one call turns one chunk's text
// into audio bytes or a classified error.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
	// Format is the file extension of the produced audio, e.g. "mp3".
	Format() string
}

// TransientError marks a failure worth retrying: rate limits, transient
// server errors, network timeouts.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transient provider error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a failure where retrying would only spend more money:
// bad credentials, invalid voice or model, exhausted quota.
type FatalError struct {
	Status int
	Err    error
}

func (e *FatalError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fatal provider error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("fatal provider error: %v", e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }
