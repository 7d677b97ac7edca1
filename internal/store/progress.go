package store

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"
)

// FinishedThreshold is the fraction at which an episode counts as watched.
const FinishedThreshold = 0.95

// EpisodeProgress is the playback state of one episode.
type EpisodeProgress struct {
	EpisodeID   string
	AnimeLink   string
	EpisodeName string
	Server      string
	Position    float64 // seconds
	Duration    float64 // seconds
	Fraction    float64
	Updated     time.Time
}

// NormalizeFraction clamps f to [0, 1] and rounds anything at or past
// FinishedThreshold up to 1.
func NormalizeFraction(f float64) float64 {
	switch {
	case math.IsNaN(f) || f <= 0:
		return 0
	case f >= FinishedThreshold:
		return 1
	}
	return f
}

// SetProgress records the progress of an episode. When Fraction is zero
// and a duration is known it is derived from Position/Duration. A write
// that carries only a fraction keeps the stored duration and moves the
// position to Fraction*Duration.
func (s *Store) SetProgress(p EpisodeProgress) error {
	if p.EpisodeID == "" {
		return fmt.Errorf("progress: empty episode id")
	}
	if p.Fraction == 0 && p.Duration > 0 {
		p.Fraction = p.Position / p.Duration
	}
	p.Fraction = NormalizeFraction(p.Fraction)
	if p.Position < 0 {
		p.Position = 0
	}
	if p.Duration < 0 {
		p.Duration = 0
	}
	if p.Updated.IsZero() {
		p.Updated = time.Now()
	}

	_, err := s.upsertProgressPS.Exec(p.EpisodeID, p.AnimeLink, p.EpisodeName, p.Server,
		p.Position, p.Duration, p.Fraction, p.Updated.UnixNano())
	if err != nil {
		return fmt.Errorf("saving progress for %s: %w", p.EpisodeID, err)
	}
	return nil
}

// Progress returns the watched fraction of an episode, 0 when unknown.
func (s *Store) Progress(episodeID string) (float64, error) {
	p, ok, err := s.ProgressEntry(episodeID)
	if err != nil || !ok {
		return 0, err
	}
	return p.Fraction, nil
}

// ProgressEntry returns the full progress row of an episode.
func (s *Store) ProgressEntry(episodeID string) (EpisodeProgress, bool, error) {
	var (
		p       EpisodeProgress
		updated int64
	)
	err := s.getProgressPS.QueryRow(episodeID).Scan(&p.EpisodeID, &p.AnimeLink, &p.EpisodeName, &p.Server,
		&p.Position, &p.Duration, &p.Fraction, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return EpisodeProgress{}, false, nil
	}
	if err != nil {
		return EpisodeProgress{}, false, fmt.Errorf("reading progress for %s: %w", episodeID, err)
	}
	p.Updated = time.Unix(0, updated)
	return p, true, nil
}

// LatestProgress returns the most recently updated progress row, if any.
func (s *Store) LatestProgress() (EpisodeProgress, bool, error) {
	var id string
	err := s.db.QueryRow(`SELECT episode_id FROM progress ORDER BY updated DESC, rowid DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return EpisodeProgress{}, false, nil
	}
	if err != nil {
		return EpisodeProgress{}, false, fmt.Errorf("reading latest progress: %w", err)
	}
	return s.ProgressEntry(id)
}

// ProgressHistory returns up to limit progress rows, most recent first.
// A limit of 0 or less returns every row.
func (s *Store) ProgressHistory(limit int) ([]EpisodeProgress, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT episode_id, anime_link, episode_name, server, position, duration, fraction, updated
		FROM progress ORDER BY updated DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing progress history: %w", err)
	}
	defer rows.Close()

	var out []EpisodeProgress
	for rows.Next() {
		var (
			p       EpisodeProgress
			updated int64
		)
		if err := rows.Scan(&p.EpisodeID, &p.AnimeLink, &p.EpisodeName, &p.Server,
			&p.Position, &p.Duration, &p.Fraction, &updated); err != nil {
			return nil, fmt.Errorf("scanning progress: %w", err)
		}
		p.Updated = time.Unix(0, updated)
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteProgress forgets an episode's progress.
func (s *Store) DeleteProgress(episodeID string) error {
	if _, err := s.db.Exec(`DELETE FROM progress WHERE episode_id = ?`, episodeID); err != nil {
		return fmt.Errorf("deleting progress for %s: %w", episodeID, err)
	}
	return nil
}

// AllProgress returns every episode's fraction keyed by episode id.
func (s *Store) AllProgress() (map[string]float64, error) {
	rows, err := s.db.Query(`SELECT episode_id, fraction FROM progress`)
	if err != nil {
		return nil, fmt.Errorf("listing progress: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var (
			id string
			f  float64
		)
		if err := rows.Scan(&id, &f); err != nil {
			return nil, fmt.Errorf("scanning progress: %w", err)
		}
		out[id] = f
	}
	return out, rows.Err()
}

// ReplaceProgress swaps the whole progress table for fractions. Rows that
// keep their episode id also keep their duration and metadata, and their
// position follows the new fraction.
func (s *Store) ReplaceProgress(fractions map[string]float64) error {
	return s.withTx(func(tx *sql.Tx) error { return s.replaceProgress(tx, fractions) })
}

func (s *Store) replaceProgress(tx *sql.Tx, fractions map[string]float64) error {
	now := time.Now().UnixNano()
	if _, err := tx.Exec(`CREATE TEMP TABLE IF NOT EXISTS keep_progress (episode_id TEXT PRIMARY KEY)`); err != nil {
		return fmt.Errorf("replacing progress: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM keep_progress`); err != nil {
		return fmt.Errorf("replacing progress: %w", err)
	}

	upsert := tx.Stmt(s.upsertProgressPS)
	keep, err := tx.Prepare(`INSERT INTO keep_progress (episode_id) VALUES (?)`)
	if err != nil {
		return fmt.Errorf("replacing progress: %w", err)
	}
	defer keep.Close()

	for id, f := range fractions {
		if id == "" {
			continue
		}
		f = NormalizeFraction(f)
		if _, err := keep.Exec(id); err != nil {
			return fmt.Errorf("replacing progress: %w", err)
		}

		// rows whose fraction is unchanged keep their position and timestamp
		var old float64
		err := tx.QueryRow(`SELECT fraction FROM progress WHERE episode_id = ?`, id).Scan(&old)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("replacing progress: %w", err)
		}
		if err == nil && old == f {
			continue
		}
		if _, err := upsert.Exec(id, "", "", "", 0.0, 0.0, f, now); err != nil {
			return fmt.Errorf("replacing progress for %s: %w", id, err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM progress WHERE episode_id NOT IN (SELECT episode_id FROM keep_progress)`); err != nil {
		return fmt.Errorf("replacing progress: %w", err)
	}
	_, err = tx.Exec(`DELETE FROM keep_progress`)
	return err
}
