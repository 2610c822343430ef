package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"
)

const defaultAPIURL = "https://api.elevenlabs.io"

// ElevenLabsClient implements Synthesizer using the ElevenLabs API.
type ElevenLabsClient struct {
	apiKey          string
	stability       float64
	similarity      float64
	outputFormat    string
	maxRequestChars int
	baseURL         string
	httpClient      *http.Client
}

// ElevenLabsConfig holds configuration for the ElevenLabs client.
type ElevenLabsConfig struct {
	APIKey          string
	Stability       float64
	Similarity      float64
	OutputFormat    string // e.g. "mp3_44100_128"
	MaxRequestChars int    // provider per-request character ceiling
	RequestTimeout  time.Duration
	BaseURL         string // overridden in tests
}

// NewElevenLabsClient creates a new ElevenLabs client.
func NewElevenLabsClient(cfg ElevenLabsConfig) *ElevenLabsClient {
	outputFormat := cfg.OutputFormat
	if outputFormat == "" {
		outputFormat = "mp3_44100_128"
	}
	maxChars := cfg.MaxRequestChars
	if maxChars <= 0 {
		maxChars = 4800
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAPIURL
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &ElevenLabsClient{
		apiKey:          cfg.APIKey,
		stability:       cfg.Stability,
		similarity:      cfg.Similarity,
		outputFormat:    outputFormat,
		maxRequestChars: maxChars,
		baseURL:         baseURL,
		httpClient:      &http.Client{Timeout: timeout},
	}
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// Format returns the container the client writes, derived from the
// requested output format.
func (c *ElevenLabsClient) Format() string {
	if len(c.outputFormat) >= 3 && c.outputFormat[:3] == "pcm" {
		return "wav"
	}
	return "mp3"
}

// Synthesize converts one chunk of text to speech. The chunker guarantees
// the request ceiling, but the client re-validates before spending money.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if n := utf8.RuneCountInString(req.Text); n > c.maxRequestChars {
		return nil, &FatalError{Err: fmt.Errorf("chunk of %d chars exceeds provider ceiling %d", n, c.maxRequestChars)}
	}
	if req.VoiceID == "" {
		return nil, &FatalError{Err: fmt.Errorf("voice id must not be empty")}
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", c.baseURL, req.VoiceID, c.outputFormat)
	payload := ttsRequest{
		Text:    req.Text,
		ModelID: req.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       c.stability,
			SimilarityBoost: c.similarity,
			Style:           0.0,
			UseSpeakerBoost: true,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyStatus(resp.StatusCode, string(respBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("read audio body: %w", err)}
	}
	if len(audio) == 0 {
		return nil, &TransientError{Err: fmt.Errorf("provider returned empty audio")}
	}
	return audio, nil
}

func classifyStatus(status int, body string) error {
	err := fmt.Errorf("elevenlabs API: %s", body)
	switch {
	case status == http.StatusTooManyRequests:
		return &TransientError{Status: status, Err: err}
	case status >= 500:
		return &TransientError{Status: status, Err: err}
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		// Covers bad keys and exhausted quota.
		return &FatalError{Status: status, Err: err}
	case status == http.StatusNotFound, status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		// Invalid voice, model, or parameters.
		return &FatalError{Status: status, Err: err}
	default:
		return &FatalError{Status: status, Err: err}
	}
}
