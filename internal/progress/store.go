// Package progress keeps the durable record of which synthesis units are
// complete. It is the sole source of truth on resume: the pipeline
// re-reconciles the full plan against it instead of trusting any in-memory
// cursor.
package progress

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/speakbooklabs/speakbook/internal/chunk"
	_ "modernc.org/sqlite"
)

// Status is the lifecycle state of a chunk.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Record is the persisted state of one chunk.
type Record struct {
	ChapterIndex int
	Sequence     int
	ContentHash  string
	Status       Status
	AudioPath    string
	Attempts     int
	LastError    string
	UpdatedAt    time.Time
}

// ChapterAudio is the persisted result of assembling one chapter.
type ChapterAudio struct {
	ChapterIndex int
	Title        string
	AudioPath    string
	Duration     time.Duration
}

// Planned pairs a planned chunk with the reconcile decision for it.
type Planned struct {
	Chunk     chunk.Chunk
	NeedsWork bool
	Record    *Record
}

// Store wraps the SQLite-backed progress database. Every mutation is a
// single transaction, so a crash can never leave it half-written.
type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the progress store under dir. A missing database starts
// empty. A corrupt database starts fresh with a warning unless strict is
// set, in which case the error is returned to the operator.
func Open(ctx context.Context, dir string, strict bool, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	path := filepath.Join(dir, "progress.db")

	s, err := open(ctx, path, log)
	if err == nil {
		return s, nil
	}
	if strict {
		return nil, fmt.Errorf("progress store unusable (strict resume): %w", err)
	}

	log.Warn("progress store unreadable, starting fresh",
		slog.String("path", path),
		slog.String("error", err.Error()))
	for _, suffix := range []string{"", "-wal", "-shm"} {
		os.Remove(path + suffix)
	}
	s, err = open(ctx, path, log)
	if err != nil {
		return nil, fmt.Errorf("recreate progress store: %w", err)
	}
	return s, nil
}

// Reset deletes the saved progress database so the next run starts from
// scratch. Synthesized audio files are left in place; with no records
// pointing at them they are simply rewritten.
func Reset(dir string) error {
	path := filepath.Join(dir, "progress.db")
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func open(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS chunks (
    chapter_idx INTEGER NOT NULL,
    seq INTEGER NOT NULL,
    content_hash TEXT NOT NULL,
    status TEXT NOT NULL,
    audio_path TEXT NOT NULL DEFAULT '',
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (chapter_idx, seq)
);
CREATE TABLE IF NOT EXISTS chapters (
    chapter_idx INTEGER PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    audio_path TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL
);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Reconcile compares the planned chunks against stored records. A chunk
// needs work unless a done record exists whose content hash matches and
// whose audio file is readable and non-empty. Records beyond the planned
// range of a chapter are stale (the chapter shrank since the last run) and
// are deleted.
func (s *Store) Reconcile(ctx context.Context, chunks []chunk.Chunk) ([]Planned, error) {
	lastSeq := make(map[int]int)
	for _, c := range chunks {
		if cur, ok := lastSeq[c.ChapterIndex]; !ok || c.Sequence > cur {
			lastSeq[c.ChapterIndex] = c.Sequence
		}
	}
	for chapterIdx, seq := range lastSeq {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM chunks WHERE chapter_idx = ? AND seq > ?`, chapterIdx, seq); err != nil {
			return nil, fmt.Errorf("prune stale chunk records: %w", err)
		}
	}

	out := make([]Planned, 0, len(chunks))
	for _, c := range chunks {
		rec, ok, err := s.Get(ctx, c.ChapterIndex, c.Sequence)
		if err != nil {
			return nil, err
		}
		p := Planned{Chunk: c, NeedsWork: true}
		if ok {
			p.Record = &rec
			if rec.Status == StatusDone && rec.ContentHash == c.ContentHash && fileNonEmpty(rec.AudioPath) {
				p.NeedsWork = false
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func fileNonEmpty(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

// Get returns the stored record for one chunk position.
func (s *Store) Get(ctx context.Context, chapterIdx, seq int) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chapter_idx, seq, content_hash, status, audio_path, attempts, last_error, updated_at
		 FROM chunks WHERE chapter_idx = ? AND seq = ?`, chapterIdx, seq)
	var rec Record
	var status, updated string
	err := row.Scan(&rec.ChapterIndex, &rec.Sequence, &rec.ContentHash, &status, &rec.AudioPath, &rec.Attempts, &rec.LastError, &updated)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("load chunk record: %w", err)
	}
	rec.Status = Status(status)
	if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		rec.UpdatedAt = ts
	}
	return rec, true, nil
}

// MarkDone records a successful synthesis for the chunk.
func (s *Store) MarkDone(ctx context.Context, c chunk.Chunk, audioPath string, attempts int) error {
	return s.upsert(ctx, c, StatusDone, audioPath, attempts, "")
}

// MarkFailed records a failed synthesis for the chunk.
func (s *Store) MarkFailed(ctx context.Context, c chunk.Chunk, attempts int, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.upsert(ctx, c, StatusFailed, "", attempts, msg)
}

func (s *Store) upsert(ctx context.Context, c chunk.Chunk, status Status, audioPath string, attempts int, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chunks(chapter_idx, seq, content_hash, status, audio_path, attempts, last_error, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(chapter_idx, seq) DO UPDATE SET
		   content_hash=excluded.content_hash,
		   status=excluded.status,
		   audio_path=excluded.audio_path,
		   attempts=excluded.attempts,
		   last_error=excluded.last_error,
		   updated_at=excluded.updated_at`,
		c.ChapterIndex, c.Sequence, c.ContentHash, string(status), audioPath, attempts, lastError, s.clock().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("persist chunk record: %w", err)
	}
	return nil
}

// SaveChapter records an assembled chapter's audio path and measured duration.
func (s *Store) SaveChapter(ctx context.Context, ch ChapterAudio) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chapters(chapter_idx, title, audio_path, duration_ms, updated_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(chapter_idx) DO UPDATE SET
		   title=excluded.title,
		   audio_path=excluded.audio_path,
		   duration_ms=excluded.duration_ms,
		   updated_at=excluded.updated_at`,
		ch.ChapterIndex, ch.Title, ch.AudioPath, ch.Duration.Milliseconds(), s.clock().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("persist chapter record: %w", err)
	}
	return nil
}

// Chapter returns the stored assembly result for one chapter.
func (s *Store) Chapter(ctx context.Context, chapterIdx int) (ChapterAudio, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chapter_idx, title, audio_path, duration_ms FROM chapters WHERE chapter_idx = ?`, chapterIdx)
	var ch ChapterAudio
	var durationMS int64
	err := row.Scan(&ch.ChapterIndex, &ch.Title, &ch.AudioPath, &durationMS)
	if err == sql.ErrNoRows {
		return ChapterAudio{}, false, nil
	}
	if err != nil {
		return ChapterAudio{}, false, fmt.Errorf("load chapter record: %w", err)
	}
	ch.Duration = time.Duration(durationMS) * time.Millisecond
	return ch, true, nil
}

// Summary reports chunk counts by status, so every non-done chunk stays
// visible for inspection.
func (s *Store) Summary(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM chunks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("summarize progress: %w", err)
	}
	defer rows.Close()

	counts := map[Status]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}
