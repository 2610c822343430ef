package audio

import (
	"fmt"
	"strings"
	"time"
)

// AssemblyError reports a chapter that could not be stitched together,
// usually because a chunk file is missing or unreadable.
type AssemblyError struct {
	Chapter int
	Err     error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assemble chapter %d: %v", e.Chapter, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }

// ChapterMark is one chapter entry in the final audiobook timeline.
type ChapterMark struct {
	Title string
	Start time.Duration
	End   time.Duration
}

// BuildChapterMarks lays chapters end to end: each chapter starts where the
// previous one ended, offsets are cumulative sums of measured durations.
func BuildChapterMarks(titles []string, durations []time.Duration) ([]ChapterMark, error) {
	if len(titles) != len(durations) {
		return nil, fmt.Errorf("chapter marks: %d titles but %d durations", len(titles), len(durations))
	}
	marks := make([]ChapterMark, 0, len(titles))
	var offset time.Duration
	for i, title := range titles {
		end := offset + durations[i]
		marks = append(marks, ChapterMark{Title: title, Start: offset, End: end})
		offset = end
	}
	return marks, nil
}

// RenderFFMetadata produces an ffmetadata file body with global tags and
// one [CHAPTER] block per mark, timestamped in milliseconds.
func RenderFFMetadata(title, artist string, marks []ChapterMark) string {
	var b strings.Builder
	b.WriteString(";FFMETADATA1\n")
	if title != "" {
		fmt.Fprintf(&b, "title=%s\n", escapeFFMetadata(title))
	}
	if artist != "" {
		fmt.Fprintf(&b, "artist=%s\n", escapeFFMetadata(artist))
	}
	b.WriteString("genre=Audiobook\n")
	for _, m := range marks {
		b.WriteString("\n[CHAPTER]\n")
		b.WriteString("TIMEBASE=1/1000\n")
		fmt.Fprintf(&b, "START=%d\n", m.Start.Milliseconds())
		fmt.Fprintf(&b, "END=%d\n", m.End.Milliseconds())
		fmt.Fprintf(&b, "title=%s\n", escapeFFMetadata(m.Title))
	}
	return b.String()
}

// escapeFFMetadata backslash-escapes the characters the ffmetadata format
// treats specially.
func escapeFFMetadata(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		"=", `\=`,
		";", `\;`,
		"#", `\#`,
		"\n", `\`+"\n",
	)
	return r.Replace(s)
}

// FormatDuration renders a duration as H:MM:SS for logs and run summaries.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d.Round(time.Second) / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
