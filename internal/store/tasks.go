package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const taskColumns = `episode_id, anime_link, anime_title, episode_name, server, url, path, state, received, total, error, updated`

// Task is the persisted state of an offline download.
type Task struct {
	EpisodeID   string
	AnimeLink   string
	AnimeTitle  string
	EpisodeName string
	Server      string
	URL         string
	Path        string
	State       string
	Received    int64
	Total       int64
	Error       string
	Updated     time.Time
}

// SaveTask inserts or updates a task.
func (s *Store) SaveTask(t Task) error {
	if t.EpisodeID == "" {
		return fmt.Errorf("task: empty episode id")
	}
	if t.Updated.IsZero() {
		t.Updated = time.Now()
	}
	_, err := s.upsertTaskPS.Exec(t.EpisodeID, t.AnimeLink, t.AnimeTitle, t.EpisodeName, t.Server,
		t.URL, t.Path, t.State, t.Received, t.Total, t.Error, t.Updated.UnixNano())
	if err != nil {
		return fmt.Errorf("saving task %s: %w", t.EpisodeID, err)
	}
	return nil
}

// Task returns the task for an episode.
func (s *Store) Task(episodeID string) (Task, bool, error) {
	t, err := scanTask(s.getTaskPS.QueryRow(episodeID))
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, fmt.Errorf("reading task %s: %w", episodeID, err)
	}
	return t, true, nil
}

// Tasks lists every task, oldest first.
func (s *Store) Tasks() ([]Task, error) {
	rows, err := s.db.Query(`SELECT ` + taskColumns + ` FROM offline_tasks ORDER BY updated, rowid`)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// DeleteTask removes a task. Deleting an unknown task is not an error.
func (s *Store) DeleteTask(episodeID string) error {
	if _, err := s.db.Exec(`DELETE FROM offline_tasks WHERE episode_id = ?`, episodeID); err != nil {
		return fmt.Errorf("deleting task %s: %w", episodeID, err)
	}
	return nil
}

// MarkTasks moves every task in state from to state to and returns how
// many changed.
func (s *Store) MarkTasks(from, to string) (int64, error) {
	res, err := s.db.Exec(`UPDATE offline_tasks SET state = ?, updated = ? WHERE state = ?`, to, time.Now().UnixNano(), from)
	if err != nil {
		return 0, fmt.Errorf("updating tasks: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (Task, error) {
	var (
		t       Task
		updated int64
	)
	err := r.Scan(&t.EpisodeID, &t.AnimeLink, &t.AnimeTitle, &t.EpisodeName, &t.Server,
		&t.URL, &t.Path, &t.State, &t.Received, &t.Total, &t.Error, &updated)
	if err != nil {
		return Task{}, err
	}
	t.Updated = time.Unix(0, updated)
	return t, nil
}
