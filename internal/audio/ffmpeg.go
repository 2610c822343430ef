// Package audio stitches synthesized chunks into chapter files and packages
// chapters into a single audiobook with embedded chapter markers.
package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

// Tool runs ffmpeg and ffprobe as subprocesses. Both commands may carry
// extra arguments, e.g. "ffmpeg -hide_banner".
type Tool struct {
	ffmpeg  []string
	ffprobe []string
	log     *slog.Logger
}

func NewTool(ffmpegCmd, ffprobeCmd string, log *slog.Logger) (*Tool, error) {
	parser := shellwords.NewParser()
	ffmpeg, err := parser.Parse(ffmpegCmd)
	if err != nil {
		return nil, fmt.Errorf("parse ffmpeg command: %w", err)
	}
	if len(ffmpeg) == 0 {
		return nil, fmt.Errorf("ffmpeg command empty")
	}
	ffprobe, err := parser.Parse(ffprobeCmd)
	if err != nil {
		return nil, fmt.Errorf("parse ffprobe command: %w", err)
	}
	if len(ffprobe) == 0 {
		return nil, fmt.Errorf("ffprobe command empty")
	}
	return &Tool{ffmpeg: ffmpeg, ffprobe: ffprobe, log: log}, nil
}

func (t *Tool) run(ctx context.Context, base []string, args ...string) ([]byte, error) {
	full := append(append([]string{}, base[1:]...), args...)
	cmd := exec.CommandContext(ctx, base[0], full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	t.log.Debug("running external command",
		slog.String("command", base[0]),
		slog.String("args", strings.Join(full, " ")))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 2048 {
			msg = msg[len(msg)-2048:]
		}
		return nil, fmt.Errorf("%s: %w: %s", base[0], err, msg)
	}
	return stdout.Bytes(), nil
}

// Concat joins chunk files into a single output using the concat demuxer
// with stream copy, so chunk audio passes through unmodified.
func (t *Tool) Concat(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("concat: no inputs")
	}

	list, err := os.CreateTemp(filepath.Dir(output), "concat-*.txt")
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	defer os.Remove(list.Name())
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return err
		}
		// The concat demuxer treats single quotes as delimiters.
		escaped := strings.ReplaceAll(abs, "'", `'\''`)
		if _, err := fmt.Fprintf(list, "file '%s'\n", escaped); err != nil {
			return fmt.Errorf("write concat list: %w", err)
		}
	}
	if err := list.Close(); err != nil {
		return err
	}

	_, err = t.run(ctx, t.ffmpeg,
		"-y", "-f", "concat", "-safe", "0",
		"-i", list.Name(),
		"-c", "copy",
		output)
	return err
}

type probeFormat struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeDuration asks ffprobe for the decoded duration of an audio file.
func (t *Tool) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	out, err := t.run(ctx, t.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path)
	if err != nil {
		return 0, err
	}
	var parsed probeFormat
	if err := json.Unmarshal(out, &parsed); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	secs, err := strconv.ParseFloat(parsed.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", parsed.Format.Duration, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// BuildSpec describes the final audiobook to package.
type BuildSpec struct {
	ChapterFiles []string
	MetadataFile string // ffmetadata file with chapter markers, "" to omit
	CoverPath    string // "" to omit
	Output       string
	Format       string // "m4b" or "mp3"
	Bitrate      string // e.g. "64k"
}

// Build concatenates the chapter files and encodes the audiobook. M4B output
// gets AAC audio, chapter markers, optional cover art, and a relocated moov
// atom so playback can start before the full download. MP3 output is a
// re-encode with the metadata attached.
func (t *Tool) Build(ctx context.Context, spec BuildSpec) error {
	if len(spec.ChapterFiles) == 0 {
		return fmt.Errorf("build: no chapter files")
	}
	if spec.Bitrate == "" {
		spec.Bitrate = "64k"
	}

	list, err := os.CreateTemp(filepath.Dir(spec.Output), "book-*.txt")
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	defer os.Remove(list.Name())
	for _, in := range spec.ChapterFiles {
		abs, err := filepath.Abs(in)
		if err != nil {
			return err
		}
		escaped := strings.ReplaceAll(abs, "'", `'\''`)
		if _, err := fmt.Fprintf(list, "file '%s'\n", escaped); err != nil {
			return fmt.Errorf("write concat list: %w", err)
		}
	}
	if err := list.Close(); err != nil {
		return err
	}

	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", list.Name()}
	if spec.MetadataFile != "" {
		args = append(args, "-i", spec.MetadataFile)
	}
	withCover := spec.Format == "m4b" && spec.CoverPath != ""
	if withCover {
		args = append(args, "-i", spec.CoverPath)
	}

	next := 1
	if spec.MetadataFile != "" {
		args = append(args, "-map_metadata", strconv.Itoa(next))
		next++
	}
	switch spec.Format {
	case "m4b":
		args = append(args, "-map", "0:a")
		if withCover {
			args = append(args,
				"-map", strconv.Itoa(next)+":v",
				"-c:v", "copy",
				"-disposition:v", "attached_pic")
		}
		args = append(args,
			"-c:a", "aac",
			"-b:a", spec.Bitrate,
			"-movflags", "+faststart",
			"-f", "mp4")
	case "mp3":
		args = append(args,
			"-map", "0:a",
			"-c:a", "libmp3lame",
			"-b:a", spec.Bitrate)
	default:
		return fmt.Errorf("unsupported output format %q", spec.Format)
	}
	args = append(args, spec.Output)

	_, err = t.run(ctx, t.ffmpeg, args...)
	return err
}
