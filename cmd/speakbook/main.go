package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/speakbooklabs/speakbook/internal/audio"
	"github.com/speakbooklabs/speakbook/internal/book"
	"github.com/speakbooklabs/speakbook/internal/config"
	"github.com/speakbooklabs/speakbook/internal/pipeline"
	"github.com/speakbooklabs/speakbook/internal/progress"
	"github.com/speakbooklabs/speakbook/internal/telemetry"
	"github.com/speakbooklabs/speakbook/internal/tts"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		voiceID     string
		voiceSample string
		chapters    string
		maxChars    int
		format      string
		output      string
		dryRun      bool
		noResume    bool
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "speakbook.yaml", "Path to configuration file")
	flag.StringVar(&voiceID, "voice-id", "", "ElevenLabs voice ID (overrides saved voice)")
	flag.StringVar(&voiceSample, "voice-sample", "", "Audio sample for instant voice cloning")
	flag.StringVar(&chapters, "chapters", "", "Chapter selection, e.g. 5 or 3-7")
	flag.IntVar(&maxChars, "max-chars", 0, "Global character budget (0 = unlimited)")
	flag.StringVar(&format, "format", "", "Output format: m4b or mp3")
	flag.StringVar(&output, "output", "", "Output file path")
	flag.BoolVar(&dryRun, "dry-run", false, "List chapters and estimated cost without synthesizing")
	flag.BoolVar(&noResume, "no-resume", false, "Discard saved progress and start over")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: speakbook [flags] <book.md|book.txt>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	inputPath := flag.Arg(0)

	// .env is optional; environment overrides still apply without it.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if voiceID != "" {
		cfg.TTS.VoiceID = voiceID
	}
	if maxChars > 0 {
		cfg.Chunking.MaxTotalChars = maxChars
	}
	if format != "" {
		cfg.Output.Format = format
	}
	if output != "" {
		cfg.Output.Path = output
	}

	logger := telemetry.NewLogger(cfg.Telemetry.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, inputPath, chapters, voiceSample, dryRun, noResume); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("interrupted, progress saved; rerun to resume")
			os.Exit(130)
		}
		logger.Error("run failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, inputPath, chapters, voiceSample string, dryRun, noResume bool) error {
	parsed, err := book.ParseFile(inputPath)
	if err != nil {
		return fmt.Errorf("parse %s: %w", inputPath, err)
	}
	if cfg.Book.Title != "" {
		parsed.Meta.Title = cfg.Book.Title
	}
	if cfg.Book.Author != "" {
		parsed.Meta.Author = cfg.Book.Author
	}

	chapterRange, err := pipeline.ParseChapterRange(chapters)
	if err != nil {
		return err
	}

	client := tts.NewElevenLabsClient(tts.ElevenLabsConfig{
		APIKey:          cfg.TTS.APIKey,
		Stability:       cfg.TTS.Stability,
		Similarity:      cfg.TTS.SimilarityBoost,
		OutputFormat:    cfg.TTS.OutputFormat,
		MaxRequestChars: cfg.Chunking.RequestLimitChars,
		RequestTimeout:  time.Duration(cfg.TTS.RequestTimeoutMS) * time.Millisecond,
	})

	// Chunk and chapter files carry the container the client produces, so
	// pcm_* output formats land in .wav paths and decode as WAV.
	plan, err := pipeline.BuildPlan(parsed, pipeline.PlanOptions{
		RequestLimitChars: cfg.Chunking.RequestLimitChars,
		MaxTotalChars:     cfg.Chunking.MaxTotalChars,
		ChapterRange:      chapterRange,
		WorkDir:           cfg.WorkDir,
		AudioExt:          client.Format(),
	})
	if err != nil {
		return err
	}

	printChapterList(plan)
	if dryRun {
		fmt.Println("Dry run complete. No API calls made.")
		return nil
	}

	if cfg.TTS.APIKey == "" {
		return fmt.Errorf("ELEVENLABS_API_KEY not set; add it to .env or the config file")
	}

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
	}()

	if noResume {
		if err := progress.Reset(cfg.WorkDir); err != nil {
			return fmt.Errorf("discard saved progress: %w", err)
		}
		logger.Info("saved progress discarded")
	}

	runID := uuid.NewString()
	release, err := progress.AcquireRunLock(cfg.WorkDir, runID)
	if err != nil {
		return err
	}
	defer release()

	store, err := progress.Open(ctx, cfg.WorkDir, cfg.Pipeline.StrictResume, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	voice, err := tts.VoiceSetup{
		Client:       client,
		ConfiguredID: cfg.TTS.VoiceID,
		SamplePath:   voiceSample,
		UseLibrary:   cfg.TTS.UseVoiceLibrary,
		EnvFile:      ".env",
		Log:          logger,
	}.Resolve(ctx)
	if err != nil {
		return err
	}
	logger.Info("run starting",
		slog.String("run_id", runID),
		slog.String("voice_id", voice),
		slog.String("model", cfg.TTS.ModelID),
		slog.Int("chunks", plan.TotalChunks))

	tool, err := audio.NewTool(cfg.FFmpeg.FFmpegCommand, cfg.FFmpeg.FFprobeCommand, logger)
	if err != nil {
		return err
	}

	metrics := telemetry.NewRunMetrics(logger)
	runner := pipeline.NewRunner(cfg, client, store, pipeline.FFmpegMedia{Tool: tool}, metrics, logger)
	summary, err := runner.Run(ctx, plan, voice)
	if err != nil {
		return err
	}

	printSummary(summary)
	return nil
}

func printChapterList(plan pipeline.Plan) {
	if plan.Meta.Title != "" {
		fmt.Printf("Title:  %s\n", plan.Meta.Title)
	}
	if plan.Meta.Author != "" {
		fmt.Printf("Author: %s\n", plan.Meta.Author)
	}
	fmt.Printf("\nFound %d chapters:\n", len(plan.Chapters))
	for _, pc := range plan.Chapters {
		chars := 0
		for _, c := range pc.Chunks {
			chars += c.CharCount
		}
		fmt.Printf("  %2d. %-50s %3d chunks %8d chars\n", pc.Chapter.Index, pc.Chapter.Title, len(pc.Chunks), chars)
	}
	est := pipeline.EstimateCost(plan, 0)
	fmt.Printf("\nTotal: %d chars | %d API chunks | ~$%.2f on Creator plan\n\n",
		est.TotalChars, est.EstimatedCalls, est.EstimatedUSD)
}

func printSummary(s pipeline.Summary) {
	fmt.Printf("\nDone! Audiobook saved to: %s\n", s.Output)
	fmt.Printf("Total duration: %s\n", audio.FormatDuration(s.TotalDuration))
	fmt.Printf("Chunks: %d synthesized, %d reused\n", s.ChunksSynthesized, s.ChunksReused)
	if len(s.ChapterMarks) > 0 {
		fmt.Println("Chapters:")
		for _, m := range s.ChapterMarks {
			fmt.Printf("  [%s] %s\n", audio.FormatDuration(m.Start), m.Title)
		}
	}
}
