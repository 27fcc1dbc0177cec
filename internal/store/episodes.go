// Package store keeps a SQLite log of finished episodes.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"fitcats-env/internal/env"

	"gonum.org/v1/gonum/stat"
	_ "modernc.org/sqlite"
)

// EpisodeLog persists episode summaries.
type EpisodeLog struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// NewEpisodeLog creates a log backed by the SQLite file at path. Use
// ":memory:" for a throwaway log.
func NewEpisodeLog(path string) *EpisodeLog {
	return &EpisodeLog{path: path}
}

// Init opens the database and creates the schema.
func (l *EpisodeLog) Init(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.path == "" {
		return errors.New("sqlite path is required")
	}
	if l.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", l.path)
	if err != nil {
		return err
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS episodes (
			id TEXT PRIMARY KEY,
			episode INTEGER NOT NULL,
			display TEXT NOT NULL,
			steps INTEGER NOT NULL,
			total_return REAL NOT NULL,
			final_score INTEGER NOT NULL,
			high_score INTEGER NOT NULL,
			terminated INTEGER NOT NULL,
			truncated INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL
		)
	`); err != nil {
		_ = db.Close()
		return fmt.Errorf("create episodes table: %w", err)
	}

	l.db = db
	return nil
}

// RecordEpisode inserts or replaces a summary.
func (l *EpisodeLog) RecordEpisode(ctx context.Context, s env.EpisodeSummary) error {
	db, err := l.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO episodes (id, episode, display, steps, total_return, final_score, high_score, terminated, truncated, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			steps = excluded.steps,
			total_return = excluded.total_return,
			final_score = excluded.final_score,
			high_score = excluded.high_score,
			terminated = excluded.terminated,
			truncated = excluded.truncated,
			ended_at = excluded.ended_at
	`, s.ID, s.Episode, s.Display, s.Steps, s.Return, s.FinalScore, s.HighScore,
		boolInt(s.Terminated), boolInt(s.Truncated),
		s.Started.UTC().Format(time.RFC3339Nano), s.Ended.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record episode %s: %w", s.ID, err)
	}
	return nil
}

// Recent returns up to limit summaries, newest first. An empty display
// matches every instance.
func (l *EpisodeLog) Recent(ctx context.Context, display string, limit int) ([]env.EpisodeSummary, error) {
	db, err := l.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, episode, display, steps, total_return, final_score, high_score, terminated, truncated, started_at, ended_at
		FROM episodes
		WHERE ? = '' OR display = ?
		ORDER BY ended_at DESC
		LIMIT ?
	`, display, display, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []env.EpisodeSummary
	for rows.Next() {
		var (
			s                  env.EpisodeSummary
			terminated, trunc  int
			startedAt, endedAt string
		)
		if err := rows.Scan(&s.ID, &s.Episode, &s.Display, &s.Steps, &s.Return, &s.FinalScore, &s.HighScore,
			&terminated, &trunc, &startedAt, &endedAt); err != nil {
			return nil, err
		}
		s.Terminated = terminated != 0
		s.Truncated = trunc != 0
		if s.Started, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("decode started_at for %s: %w", s.ID, err)
		}
		if s.Ended, err = time.Parse(time.RFC3339Nano, endedAt); err != nil {
			return nil, fmt.Errorf("decode ended_at for %s: %w", s.ID, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Stats summarizes a set of episodes.
type Stats struct {
	Episodes     int
	MeanReturn   float64
	StdDevReturn float64
	MeanScore    float64
	MedianSteps  float64
	BestScore    int
}

// Summarize computes statistics over up to limit recent episodes.
func (l *EpisodeLog) Summarize(ctx context.Context, display string, limit int) (Stats, error) {
	episodes, err := l.Recent(ctx, display, limit)
	if err != nil {
		return Stats{}, err
	}
	return Summarize(episodes), nil
}

// Summarize computes statistics over the given episodes.
func Summarize(episodes []env.EpisodeSummary) Stats {
	st := Stats{Episodes: len(episodes)}
	if len(episodes) == 0 {
		return st
	}

	returns := make([]float64, len(episodes))
	scores := make([]float64, len(episodes))
	steps := make([]float64, len(episodes))
	for i, e := range episodes {
		returns[i] = e.Return
		scores[i] = float64(e.FinalScore)
		steps[i] = float64(e.Steps)
		if e.FinalScore > st.BestScore {
			st.BestScore = e.FinalScore
		}
	}

	st.MeanReturn, st.StdDevReturn = stat.MeanStdDev(returns, nil)
	if len(episodes) < 2 {
		st.StdDevReturn = 0
	}
	st.MeanScore = stat.Mean(scores, nil)
	sort.Float64s(steps)
	st.MedianSteps = stat.Quantile(0.5, stat.Empirical, steps, nil)
	return st
}

// Close closes the database.
func (l *EpisodeLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

func (l *EpisodeLog) getDB() (*sql.DB, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.db == nil {
		return nil, errors.New("episode log is not initialized")
	}
	return l.db, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
