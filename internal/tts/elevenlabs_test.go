package tts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(baseURL string) *ElevenLabsClient {
	return NewElevenLabsClient(ElevenLabsConfig{
		APIKey:          "test-key",
		Stability:       0.5,
		Similarity:      0.75,
		OutputFormat:    "mp3_44100_128",
		MaxRequestChars: 4800,
		BaseURL:         baseURL,
	})
}

func TestSynthesizeSuccess(t *testing.T) {
	var gotPath, gotKey string
	var gotBody ttsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	audio, err := client.Synthesize(context.Background(), Request{
		Text:    "Hello world.",
		VoiceID: "voice123",
		ModelID: "eleven_turbo_v2_5",
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "mp3-bytes" {
		t.Fatalf("audio = %q, want %q", audio, "mp3-bytes")
	}
	if gotPath != "/v1/text-to-speech/voice123" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("xi-api-key = %q", gotKey)
	}
	if gotBody.ModelID != "eleven_turbo_v2_5" {
		t.Errorf("model_id = %q", gotBody.ModelID)
	}
	if !gotBody.VoiceSettings.UseSpeakerBoost {
		t.Error("use_speaker_boost should be set")
	}
}

func TestSynthesizeClassifiesRateLimitTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Synthesize(context.Background(), Request{Text: "hi", VoiceID: "v"})
	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("err = %v, want TransientError", err)
	}
	if transient.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d", transient.Status)
	}
}

func TestSynthesizeClassifiesAuthFatal(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := SynthesizeWithRetry(context.Background(), client, Request{Text: "hi", VoiceID: "v"}, fastPolicy(), testLogger())
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("err = %v, want FatalError", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, fatal errors must not be retried", calls)
	}
}

func TestSynthesizeServerErrorThenSuccess(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("audio"))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	res, err := SynthesizeWithRetry(context.Background(), client, Request{Text: "hi", VoiceID: "v"}, fastPolicy(), testLogger())
	if err != nil {
		t.Fatalf("SynthesizeWithRetry: %v", err)
	}
	if string(res.Audio) != "audio" {
		t.Errorf("audio = %q", res.Audio)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Attempts)
	}
}

func TestSynthesizeRejectsOversizedChunk(t *testing.T) {
	client := newTestClient("http://unused.invalid")
	_, err := client.Synthesize(context.Background(), Request{
		Text:    strings.Repeat("x", 4801),
		VoiceID: "v",
	})
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("err = %v, want FatalError", err)
	}
}

func TestSynthesizeEmptyBodyIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Synthesize(context.Background(), Request{Text: "hi", VoiceID: "v"})
	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("err = %v, want TransientError for empty audio", err)
	}
}

func TestFormatFollowsOutputFormat(t *testing.T) {
	mp3 := newTestClient("http://unused.invalid")
	if got := mp3.Format(); got != "mp3" {
		t.Errorf("Format() = %q, want mp3", got)
	}
	pcm := NewElevenLabsClient(ElevenLabsConfig{APIKey: "k", OutputFormat: "pcm_22050"})
	if got := pcm.Format(); got != "wav" {
		t.Errorf("Format() = %q, want wav", got)
	}
}
