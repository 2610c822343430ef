package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	MetricsBind  string `yaml:"metrics_bind"`
}

type OutputConfig struct {
	Format  string `yaml:"format"` // m4b or mp3
	Path    string `yaml:"path"`
	Bitrate string `yaml:"bitrate"`
}

type ChunkingConfig struct {
	RequestLimitChars int `yaml:"request_limit_chars"`
	MaxTotalChars     int `yaml:"max_total_chars"`
}

type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts"`
	InitialBackoffMS int `yaml:"initial_backoff_ms"`
	MaxBackoffMS     int `yaml:"max_backoff_ms"`
}

type TTSConfig struct {
	APIKey           string      `yaml:"api_key"`
	VoiceID          string      `yaml:"voice_id"`
	ModelID          string      `yaml:"model_id"`
	Stability        float64     `yaml:"stability"`
	SimilarityBoost  float64     `yaml:"similarity_boost"`
	OutputFormat     string      `yaml:"output_format"`
	RequestTimeoutMS int         `yaml:"request_timeout_ms"`
	UseVoiceLibrary  bool        `yaml:"use_voice_library"`
	Retry            RetryConfig `yaml:"retry"`
}

type PipelineConfig struct {
	RequestPauseMS  int  `yaml:"request_pause_ms"`
	ContinueOnError bool `yaml:"continue_on_error"`
	StrictResume    bool `yaml:"strict_resume"`
}

type FFmpegConfig struct {
	FFmpegCommand  string `yaml:"ffmpeg_command"`
	FFprobeCommand string `yaml:"ffprobe_command"`
}

type BookConfig struct {
	Title  string `yaml:"title"`
	Author string `yaml:"author"`
	Cover  string `yaml:"cover"`
}

type Config struct {
	WorkDir   string          `yaml:"work_dir"`
	Output    OutputConfig    `yaml:"output"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	TTS       TTSConfig       `yaml:"tts"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	FFmpeg    FFmpegConfig    `yaml:"ffmpeg"`
	Book      BookConfig      `yaml:"book"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

func Default() Config {
	return Config{
		WorkDir: "./output",
		Output: OutputConfig{
			Format:  "m4b",
			Bitrate: "64k",
		},
		Chunking: ChunkingConfig{
			RequestLimitChars: 4800,
			MaxTotalChars:     0,
		},
		TTS: TTSConfig{
			ModelID:          "eleven_turbo_v2_5",
			Stability:        0.5,
			SimilarityBoost:  0.75,
			OutputFormat:     "mp3_44100_128",
			RequestTimeoutMS: 180000,
			UseVoiceLibrary:  true,
			Retry: RetryConfig{
				MaxAttempts:      3,
				InitialBackoffMS: 5000,
				MaxBackoffMS:     60000,
			},
		},
		Pipeline: PipelineConfig{
			RequestPauseMS:  300,
			ContinueOnError: false,
			StrictResume:    false,
		},
		FFmpeg: FFmpegConfig{
			FFmpegCommand:  "ffmpeg",
			FFprobeCommand: "ffprobe",
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
			MetricsBind:  "",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.WorkDir, "SPEAKBOOK_WORK_DIR")
	overrideString(&cfg.Output.Format, "SPEAKBOOK_OUTPUT_FORMAT")
	overrideString(&cfg.Output.Path, "SPEAKBOOK_OUTPUT_PATH")
	overrideString(&cfg.Output.Bitrate, "SPEAKBOOK_OUTPUT_BITRATE")
	overrideInt(&cfg.Chunking.RequestLimitChars, "SPEAKBOOK_REQUEST_LIMIT_CHARS")
	overrideInt(&cfg.Chunking.MaxTotalChars, "SPEAKBOOK_MAX_TOTAL_CHARS")
	overrideString(&cfg.TTS.APIKey, "ELEVENLABS_API_KEY")
	overrideString(&cfg.TTS.VoiceID, "VOICE_ID")
	overrideString(&cfg.TTS.ModelID, "SPEAKBOOK_TTS_MODEL_ID")
	overrideFloat(&cfg.TTS.Stability, "SPEAKBOOK_TTS_STABILITY")
	overrideFloat(&cfg.TTS.SimilarityBoost, "SPEAKBOOK_TTS_SIMILARITY_BOOST")
	overrideString(&cfg.TTS.OutputFormat, "SPEAKBOOK_TTS_OUTPUT_FORMAT")
	overrideInt(&cfg.TTS.RequestTimeoutMS, "SPEAKBOOK_TTS_REQUEST_TIMEOUT_MS")
	overrideBool(&cfg.TTS.UseVoiceLibrary, "SPEAKBOOK_TTS_USE_VOICE_LIBRARY")
	overrideInt(&cfg.TTS.Retry.MaxAttempts, "SPEAKBOOK_TTS_RETRY_MAX_ATTEMPTS")
	overrideInt(&cfg.TTS.Retry.InitialBackoffMS, "SPEAKBOOK_TTS_RETRY_INITIAL_BACKOFF_MS")
	overrideInt(&cfg.TTS.Retry.MaxBackoffMS, "SPEAKBOOK_TTS_RETRY_MAX_BACKOFF_MS")
	overrideInt(&cfg.Pipeline.RequestPauseMS, "SPEAKBOOK_REQUEST_PAUSE_MS")
	overrideBool(&cfg.Pipeline.ContinueOnError, "SPEAKBOOK_CONTINUE_ON_ERROR")
	overrideBool(&cfg.Pipeline.StrictResume, "SPEAKBOOK_STRICT_RESUME")
	overrideString(&cfg.FFmpeg.FFmpegCommand, "SPEAKBOOK_FFMPEG_COMMAND")
	overrideString(&cfg.FFmpeg.FFprobeCommand, "SPEAKBOOK_FFPROBE_COMMAND")
	overrideString(&cfg.Book.Title, "SPEAKBOOK_BOOK_TITLE")
	overrideString(&cfg.Book.Author, "SPEAKBOOK_BOOK_AUTHOR")
	overrideString(&cfg.Book.Cover, "SPEAKBOOK_BOOK_COVER")
	overrideString(&cfg.Telemetry.LogLevel, "SPEAKBOOK_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SPEAKBOOK_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SPEAKBOOK_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.MetricsBind, "SPEAKBOOK_TELEMETRY_METRICS_BIND")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.WorkDir == "" {
		return errors.New("work_dir must not be empty")
	}
	switch cfg.Output.Format {
	case "m4b", "mp3":
		// ok
	default:
		return errors.New("output.format must be one of m4b|mp3")
	}
	if cfg.Output.Bitrate == "" {
		return errors.New("output.bitrate must not be empty")
	}
	if cfg.Chunking.RequestLimitChars <= 0 {
		return errors.New("chunking.request_limit_chars must be positive")
	}
	if cfg.Chunking.MaxTotalChars < 0 {
		return errors.New("chunking.max_total_chars must be >= 0")
	}
	if cfg.TTS.ModelID == "" {
		return errors.New("tts.model_id must not be empty")
	}
	if cfg.TTS.Stability < 0 || cfg.TTS.Stability > 1 {
		return errors.New("tts.stability must be between 0 and 1")
	}
	if cfg.TTS.SimilarityBoost < 0 || cfg.TTS.SimilarityBoost > 1 {
		return errors.New("tts.similarity_boost must be between 0 and 1")
	}
	if cfg.TTS.RequestTimeoutMS <= 0 {
		return errors.New("tts.request_timeout_ms must be positive")
	}
	if cfg.TTS.Retry.MaxAttempts < 1 {
		return errors.New("tts.retry.max_attempts must be >= 1")
	}
	if cfg.TTS.Retry.InitialBackoffMS <= 0 {
		return errors.New("tts.retry.initial_backoff_ms must be positive")
	}
	if cfg.TTS.Retry.MaxBackoffMS < cfg.TTS.Retry.InitialBackoffMS {
		return errors.New("tts.retry.max_backoff_ms must be >= initial backoff")
	}
	if cfg.Pipeline.RequestPauseMS < 0 {
		return errors.New("pipeline.request_pause_ms must be >= 0")
	}
	if cfg.FFmpeg.FFmpegCommand == "" {
		return errors.New("ffmpeg.ffmpeg_command must not be empty")
	}
	if cfg.FFmpeg.FFprobeCommand == "" {
		return errors.New("ffmpeg.ffprobe_command must not be empty")
	}
	return nil
}
