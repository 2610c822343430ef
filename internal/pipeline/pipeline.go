package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/speakbooklabs/speakbook/internal/audio"
	"github.com/speakbooklabs/speakbook/internal/book"
	"github.com/speakbooklabs/speakbook/internal/config"
	"github.com/speakbooklabs/speakbook/internal/progress"
	"github.com/speakbooklabs/speakbook/internal/telemetry"
	"github.com/speakbooklabs/speakbook/internal/tts"
)

// Media performs the audio file operations a run needs. The ffmpeg-backed
// implementation is the production one; tests substitute an in-process fake.
type Media interface {
	Concat(ctx context.Context, inputs []string, output string) error
	Measure(ctx context.Context, path string) (time.Duration, error)
	Package(ctx context.Context, spec audio.BuildSpec) error
}

// FFmpegMedia adapts the ffmpeg tool to the Media interface.
type FFmpegMedia struct {
	Tool *audio.Tool
}

func (m FFmpegMedia) Concat(ctx context.Context, inputs []string, output string) error {
	return m.Tool.Concat(ctx, inputs, output)
}

func (m FFmpegMedia) Measure(ctx context.Context, path string) (time.Duration, error) {
	return audio.Duration(ctx, m.Tool, path)
}

func (m FFmpegMedia) Package(ctx context.Context, spec audio.BuildSpec) error {
	return m.Tool.Build(ctx, spec)
}

// Summary reports what a run did.
type Summary struct {
	Chapters          int
	ChunksPlanned     int
	ChunksSynthesized int
	ChunksReused      int
	ChunksFailed      int
	CharsSent         int
	TotalDuration     time.Duration
	ChapterMarks      []audio.ChapterMark
	Output            string
}

// Runner executes a plan against one progress store.
type Runner struct {
	cfg     config.Config
	synth   tts.Synthesizer
	store   *progress.Store
	media   Media
	metrics *telemetry.RunMetrics
	log     *slog.Logger
	tracer  trace.Tracer
}

func NewRunner(cfg config.Config, synth tts.Synthesizer, store *progress.Store, media Media, metrics *telemetry.RunMetrics, log *slog.Logger) *Runner {
	return &Runner{
		cfg:     cfg,
		synth:   synth,
		store:   store,
		media:   media,
		metrics: metrics,
		log:     log.With(slog.String("component", "pipeline")),
		tracer:  otel.Tracer("github.com/speakbooklabs/speakbook/pipeline"),
	}
}

// Run synthesizes every missing chunk in order, assembles chapters, and
// packages the audiobook. Chunks already recorded as done with matching
// content and readable audio are reused without any provider call. The
// returned summary is valid even when err is non-nil.
func (r *Runner) Run(ctx context.Context, plan Plan, voiceID string) (Summary, error) {
	summary := Summary{Chapters: len(plan.Chapters), ChunksPlanned: plan.TotalChunks}

	for _, dir := range []string{ChunksDir(r.cfg.WorkDir), ChaptersDir(r.cfg.WorkDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return summary, fmt.Errorf("create work directory: %w", err)
		}
	}

	resynthesized := make(map[int]bool)
	for _, pc := range plan.Chapters {
		chapterCtx, chapterSpan := r.tracer.Start(ctx, "chapter",
			trace.WithAttributes(
				attribute.Int("chapter.index", pc.Chapter.Index),
				attribute.String("chapter.title", pc.Chapter.Title)))

		planned, err := r.store.Reconcile(chapterCtx, pc.Chunks)
		if err != nil {
			chapterSpan.End()
			return summary, fmt.Errorf("reconcile chapter %d: %w", pc.Chapter.Index, err)
		}

		r.log.Info("chapter start",
			slog.Int("chapter", pc.Chapter.Index),
			slog.String("title", pc.Chapter.Title),
			slog.Int("chunks", len(planned)))

		for i, p := range planned {
			if err := ctx.Err(); err != nil {
				chapterSpan.End()
				return summary, err
			}
			if !p.NeedsWork {
				summary.ChunksReused++
				continue
			}

			if err := r.synthesizeChunk(chapterCtx, p, pc.ChunkPaths[i], voiceID, &summary); err != nil {
				var fatal *tts.FatalError
				if errors.As(err, &fatal) {
					chapterSpan.End()
					return summary, fmt.Errorf("chunk %s: %w", ChunkKey(p.Chunk.ChapterIndex, p.Chunk.Sequence), err)
				}
				summary.ChunksFailed++
				if r.cfg.Pipeline.ContinueOnError {
					r.log.Warn("chunk failed, continuing",
						slog.Int("chapter", p.Chunk.ChapterIndex),
						slog.Int("seq", p.Chunk.Sequence),
						slog.String("error", err.Error()))
					continue
				}
				chapterSpan.End()
				return summary, fmt.Errorf("chunk %s: %w", ChunkKey(p.Chunk.ChapterIndex, p.Chunk.Sequence), err)
			}
			resynthesized[pc.Chapter.Index] = true
			summary.ChunksSynthesized++
		}
		chapterSpan.End()
	}

	if summary.ChunksFailed > 0 {
		if counts, err := r.store.Summary(context.WithoutCancel(ctx)); err == nil {
			r.log.Warn("run incomplete",
				slog.Int("done", counts[progress.StatusDone]),
				slog.Int("failed", counts[progress.StatusFailed]),
				slog.Int("pending", counts[progress.StatusPending]))
		}
		return summary, fmt.Errorf("%d chunks failed synthesis, rerun to retry them", summary.ChunksFailed)
	}

	marks, err := r.assembleChapters(ctx, plan, resynthesized)
	if err != nil {
		return summary, err
	}
	summary.ChapterMarks = marks
	if len(marks) > 0 {
		summary.TotalDuration = marks[len(marks)-1].End
	}

	output, err := r.packageBook(ctx, plan, marks)
	if err != nil {
		return summary, err
	}
	summary.Output = output
	return summary, nil
}

func (r *Runner) synthesizeChunk(ctx context.Context, p progress.Planned, outPath, voiceID string, summary *Summary) error {
	ctx, span := r.tracer.Start(ctx, "chunk",
		trace.WithAttributes(
			attribute.Int("chunk.chapter", p.Chunk.ChapterIndex),
			attribute.Int("chunk.seq", p.Chunk.Sequence),
			attribute.Int("chunk.chars", p.Chunk.CharCount)))
	defer span.End()

	policy := tts.RetryPolicy{
		MaxAttempts:    r.cfg.TTS.Retry.MaxAttempts,
		InitialBackoff: time.Duration(r.cfg.TTS.Retry.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(r.cfg.TTS.Retry.MaxBackoffMS) * time.Millisecond,
	}
	req := tts.Request{
		Text:    p.Chunk.Text,
		VoiceID: voiceID,
		ModelID: r.cfg.TTS.ModelID,
	}

	// Progress writes survive cancellation so finished work is never lost.
	persistCtx := context.WithoutCancel(ctx)

	started := time.Now()
	res, err := tts.SynthesizeWithRetry(ctx, r.synth, req, policy, r.log)
	if err != nil {
		if markErr := r.store.MarkFailed(persistCtx, p.Chunk, res.Attempts, err); markErr != nil {
			r.log.Error("failed to record chunk failure", slog.String("error", markErr.Error()))
		}
		if r.metrics != nil {
			r.metrics.ChunkFailed(ctx, p.Chunk.ChapterIndex)
		}
		return err
	}

	if err := audio.WriteFileAtomic(outPath, res.Audio); err != nil {
		return fmt.Errorf("write chunk audio: %w", err)
	}
	if err := r.store.MarkDone(persistCtx, p.Chunk, outPath, res.Attempts); err != nil {
		return fmt.Errorf("record chunk done: %w", err)
	}
	summary.CharsSent += p.Chunk.CharCount
	if r.metrics != nil {
		r.metrics.ChunkDone(ctx, p.Chunk.ChapterIndex, p.Chunk.CharCount, res.Attempts, time.Since(started).Seconds())
	}

	// Brief pause between provider calls, matching their rate guidance.
	if pause := time.Duration(r.cfg.Pipeline.RequestPauseMS) * time.Millisecond; pause > 0 {
		if err := sleepCtx(ctx, pause); err != nil {
			return err
		}
	}
	return nil
}

// assembleChapters concatenates chunk audio per chapter and records the
// measured duration. A chapter whose assembled audio already exists is
// reused unless any of its chunks was resynthesized this run.
func (r *Runner) assembleChapters(ctx context.Context, plan Plan, resynthesized map[int]bool) ([]audio.ChapterMark, error) {
	titles := make([]string, 0, len(plan.Chapters))
	durations := make([]time.Duration, 0, len(plan.Chapters))

	for _, pc := range plan.Chapters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		saved, ok, err := r.store.Chapter(ctx, pc.Chapter.Index)
		if err != nil {
			return nil, err
		}
		if ok && !resynthesized[pc.Chapter.Index] && saved.AudioPath == pc.AudioPath && audio.FileNonEmpty(saved.AudioPath) {
			r.log.Info("chapter audio reused", slog.Int("chapter", pc.Chapter.Index))
			titles = append(titles, pc.Chapter.Title)
			durations = append(durations, saved.Duration)
			continue
		}

		for _, p := range pc.ChunkPaths {
			if !audio.FileNonEmpty(p) {
				return nil, &audio.AssemblyError{Chapter: pc.Chapter.Index, Err: fmt.Errorf("chunk audio %s missing or empty", p)}
			}
		}
		if err := r.media.Concat(ctx, pc.ChunkPaths, pc.AudioPath); err != nil {
			return nil, &audio.AssemblyError{Chapter: pc.Chapter.Index, Err: err}
		}
		d, err := r.media.Measure(ctx, pc.AudioPath)
		if err != nil {
			return nil, &audio.AssemblyError{Chapter: pc.Chapter.Index, Err: err}
		}
		if err := r.store.SaveChapter(ctx, progress.ChapterAudio{
			ChapterIndex: pc.Chapter.Index,
			Title:        pc.Chapter.Title,
			AudioPath:    pc.AudioPath,
			Duration:     d,
		}); err != nil {
			return nil, err
		}
		r.log.Info("chapter assembled",
			slog.Int("chapter", pc.Chapter.Index),
			slog.String("duration", audio.FormatDuration(d)))
		titles = append(titles, pc.Chapter.Title)
		durations = append(durations, d)
	}

	return audio.BuildChapterMarks(titles, durations)
}

func (r *Runner) packageBook(ctx context.Context, plan Plan, marks []audio.ChapterMark) (string, error) {
	output := r.OutputPath(plan.Meta)
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return "", err
	}

	spec := audio.BuildSpec{
		Output:  output,
		Format:  r.cfg.Output.Format,
		Bitrate: r.cfg.Output.Bitrate,
	}
	for _, pc := range plan.Chapters {
		spec.ChapterFiles = append(spec.ChapterFiles, pc.AudioPath)
	}

	if r.cfg.Output.Format == "m4b" {
		metaPath := filepath.Join(r.cfg.WorkDir, "ffmetadata.txt")
		body := audio.RenderFFMetadata(plan.Meta.Title, plan.Meta.Author, marks)
		if err := audio.WriteFileAtomic(metaPath, []byte(body)); err != nil {
			return "", fmt.Errorf("write chapter metadata: %w", err)
		}
		spec.MetadataFile = metaPath
		spec.CoverPath = r.coverPath(plan.Meta)
	}

	if err := r.media.Package(ctx, spec); err != nil {
		return "", fmt.Errorf("package audiobook: %w", err)
	}
	r.log.Info("audiobook written", slog.String("output", output))
	return output, nil
}

// OutputPath resolves the final audiobook path: the configured path when
// set, otherwise derived from the book title under the work directory.
func (r *Runner) OutputPath(meta book.Metadata) string {
	if r.cfg.Output.Path != "" {
		return r.cfg.Output.Path
	}
	title := meta.Title
	if title == "" {
		title = "audiobook"
	}
	return filepath.Join(r.cfg.WorkDir, safeTitle(title)+"."+r.cfg.Output.Format)
}

func (r *Runner) coverPath(meta book.Metadata) string {
	if r.cfg.Book.Cover != "" {
		return r.cfg.Book.Cover
	}
	return meta.CoverPath
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
