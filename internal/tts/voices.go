package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// DefaultVoiceID is the provider's stock narrator fallback (Aria).
const DefaultVoiceID = "9BWtsMINqrJLrRacOk9x"

// VoiceSetup resolves a voice ID for the run, in priority order: an already
// configured ID, a Voice Library search, an instant clone from a sample,
// then the stock default. A freshly resolved ID is persisted so later runs
// reuse it.
type VoiceSetup struct {
	Client       *ElevenLabsClient
	ConfiguredID string
	SamplePath   string
	UseLibrary   bool
	SearchQuery  string
	EnvFile      string // where the resolved VOICE_ID is persisted, "" to skip
	Log          *slog.Logger
}

// Resolve returns the voice ID to narrate with.
func (v VoiceSetup) Resolve(ctx context.Context) (string, error) {
	if v.ConfiguredID != "" {
		v.Log.Info("using configured voice", slog.String("voice_id", v.ConfiguredID))
		return v.ConfiguredID, nil
	}

	query := v.SearchQuery
	if query == "" {
		query = "narrator"
	}

	if v.UseLibrary {
		id, err := v.Client.SearchVoiceLibrary(ctx, query)
		if err != nil {
			v.Log.Warn("voice library search failed", slog.String("error", err.Error()))
		} else if id != "" {
			v.persist(id)
			return id, nil
		}
	}

	if v.SamplePath != "" {
		id, err := v.Client.CloneVoice(ctx, v.SamplePath, "Cloned Voice")
		if err != nil {
			return "", fmt.Errorf("clone voice from sample: %w", err)
		}
		v.persist(id)
		return id, nil
	}

	v.Log.Info("using default voice", slog.String("voice_id", DefaultVoiceID))
	return DefaultVoiceID, nil
}

func (v VoiceSetup) persist(id string) {
	if v.EnvFile == "" {
		return
	}
	if err := SaveVoiceID(v.EnvFile, id); err != nil {
		v.Log.Warn("could not persist voice id", slog.String("error", err.Error()))
		return
	}
	v.Log.Info("voice id saved", slog.String("voice_id", id), slog.String("file", v.EnvFile))
}

// SaveVoiceID writes VOICE_ID into the env file, keeping other entries.
func SaveVoiceID(envFile, voiceID string) error {
	env := map[string]string{}
	if _, err := os.Stat(envFile); err == nil {
		loaded, err := godotenv.Read(envFile)
		if err != nil {
			return fmt.Errorf("read env file: %w", err)
		}
		env = loaded
	}
	env["VOICE_ID"] = voiceID
	return godotenv.Write(env, envFile)
}

type sharedVoice struct {
	VoiceID       string `json:"voice_id"`
	Name          string `json:"name"`
	PublicOwnerID string `json:"public_owner_id"`
}

type sharedVoicesResponse struct {
	Voices []sharedVoice `json:"voices"`
}

// SearchVoiceLibrary looks for a matching voice in the public Voice Library
// and adds the first hit to the account so it can be used for synthesis.
// Returns "" when nothing matched.
func (c *ElevenLabsClient) SearchVoiceLibrary(ctx context.Context, query string) (string, error) {
	u := fmt.Sprintf("%s/v1/shared-voices?search=%s&page_size=5", c.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", classifyStatus(resp.StatusCode, string(body))
	}

	var parsed sharedVoicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode shared voices: %w", err)
	}
	if len(parsed.Voices) == 0 {
		return "", nil
	}

	voice := parsed.Voices[0]
	if voice.VoiceID == "" {
		return "", nil
	}
	if voice.PublicOwnerID != "" {
		if err := c.addSharedVoice(ctx, voice.PublicOwnerID, voice.VoiceID, voice.Name); err != nil {
			// Already-added voices come back as an error from the API.
			if !strings.Contains(strings.ToLower(err.Error()), "already") {
				return "", err
			}
		}
	}
	return voice.VoiceID, nil
}

func (c *ElevenLabsClient) addSharedVoice(ctx context.Context, publicOwnerID, voiceID, name string) error {
	u := fmt.Sprintf("%s/v1/voices/add/%s/%s", c.baseURL, publicOwnerID, voiceID)
	payload, err := json.Marshal(map[string]string{"new_name": name})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("add shared voice: %s", string(body))
	}
	return nil
}

type cloneResponse struct {
	VoiceID string `json:"voice_id"`
}

// CloneVoice uploads an audio sample for instant voice cloning and returns
// the new voice ID.
func (c *ElevenLabsClient) CloneVoice(ctx context.Context, samplePath, name string) (string, error) {
	sample, err := os.Open(samplePath)
	if err != nil {
		return "", fmt.Errorf("open voice sample: %w", err)
	}
	defer sample.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("name", name); err != nil {
		return "", err
	}
	part, err := mw.CreateFormFile("files", filepath.Base(samplePath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, sample); err != nil {
		return "", fmt.Errorf("read voice sample: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/voices/add", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", classifyStatus(resp.StatusCode, string(respBody))
	}

	var parsed cloneResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode clone response: %w", err)
	}
	if parsed.VoiceID == "" {
		return "", fmt.Errorf("clone response missing voice_id")
	}
	return parsed.VoiceID, nil
}
