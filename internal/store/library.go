package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"nineanimator/internal/media"
)

// PushRecent moves link to the front of the recently viewed list.
func (s *Store) PushRecent(link media.AnimeLink) error {
	if link.Link == "" {
		return fmt.Errorf("recent: empty anime link")
	}
	current, err := s.Recent()
	if err != nil {
		return err
	}
	return s.ReplaceRecent(append([]media.AnimeLink{link}, current...))
}

// Recent returns recently viewed anime, most recent first.
func (s *Store) Recent() ([]media.AnimeLink, error) {
	rows, err := s.db.Query(`SELECT link, title, image, source FROM recent_anime ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("listing recent anime: %w", err)
	}
	return scanLinks(rows)
}

// ReplaceRecent stores links as the recent list. Later duplicates are
// dropped and the list is capped at MaxRecent.
func (s *Store) ReplaceRecent(links []media.AnimeLink) error {
	return s.withTx(func(tx *sql.Tx) error { return replaceRecent(tx, links) })
}

func replaceRecent(tx *sql.Tx, links []media.AnimeLink) error {
	links = dedupeLinks(links)
	if len(links) > MaxRecent {
		links = links[:MaxRecent]
	}
	if _, err := tx.Exec(`DELETE FROM recent_anime`); err != nil {
		return fmt.Errorf("clearing recent anime: %w", err)
	}
	ins, err := tx.Prepare(`INSERT INTO recent_anime (link, title, image, source, position) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing recent insert: %w", err)
	}
	defer ins.Close()
	for i, l := range links {
		if _, err := ins.Exec(l.Link, l.Title, l.Image, l.Source, i); err != nil {
			return fmt.Errorf("saving recent anime %q: %w", l.Title, err)
		}
	}
	return nil
}

// Subscribe adds link to the subscriptions. Subscribing twice keeps the
// original date but refreshes the title and image.
func (s *Store) Subscribe(link media.AnimeLink) error {
	if link.Link == "" {
		return fmt.Errorf("subscribe: empty anime link")
	}
	_, err := s.db.Exec(`INSERT INTO subscriptions (link, title, image, source, added) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(link) DO UPDATE SET title = excluded.title, image = excluded.image, source = excluded.source`,
		link.Link, link.Title, link.Image, link.Source, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("subscribing to %q: %w", link.Title, err)
	}
	return nil
}

// Unsubscribe removes the subscription with the given link.
func (s *Store) Unsubscribe(link string) error {
	if _, err := s.db.Exec(`DELETE FROM subscriptions WHERE link = ?`, link); err != nil {
		return fmt.Errorf("unsubscribing from %s: %w", link, err)
	}
	return nil
}

// IsSubscribed reports whether link is subscribed.
func (s *Store) IsSubscribed(link string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM subscriptions WHERE link = ?`, link).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking subscription: %w", err)
	}
	return n > 0, nil
}

// Subscriptions lists subscriptions in the order they were added.
func (s *Store) Subscriptions() ([]media.AnimeLink, error) {
	rows, err := s.db.Query(`SELECT link, title, image, source FROM subscriptions ORDER BY added, rowid`)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	return scanLinks(rows)
}

// ReplaceSubscriptions stores links as the complete subscription list.
func (s *Store) ReplaceSubscriptions(links []media.AnimeLink) error {
	return s.withTx(func(tx *sql.Tx) error { return replaceSubscriptions(tx, links) })
}

func replaceSubscriptions(tx *sql.Tx, links []media.AnimeLink) error {
	links = dedupeLinks(links)
	base := time.Now().UnixNano()
	if _, err := tx.Exec(`DELETE FROM subscriptions`); err != nil {
		return fmt.Errorf("clearing subscriptions: %w", err)
	}
	ins, err := tx.Prepare(`INSERT INTO subscriptions (link, title, image, source, added) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing subscription insert: %w", err)
	}
	defer ins.Close()
	for i, l := range links {
		if _, err := ins.Exec(l.Link, l.Title, l.Image, l.Source, base+int64(i)); err != nil {
			return fmt.Errorf("saving subscription %q: %w", l.Title, err)
		}
	}
	return nil
}

// Library is the user state a .naconfig file carries.
type Library struct {
	Recent        []media.AnimeLink
	Progress      map[string]float64 // fraction by episode id
	Subscriptions []media.AnimeLink
}

// ReplaceLibrary replaces the recent list, progress and subscriptions in
// one transaction. On error none of them change.
func (s *Store) ReplaceLibrary(lib Library) error {
	return s.withTx(func(tx *sql.Tx) error {
		if err := replaceRecent(tx, lib.Recent); err != nil {
			return fmt.Errorf("importing history: %w", err)
		}
		if err := s.replaceProgress(tx, lib.Progress); err != nil {
			return fmt.Errorf("importing progress: %w", err)
		}
		if err := replaceSubscriptions(tx, lib.Subscriptions); err != nil {
			return fmt.Errorf("importing subscriptions: %w", err)
		}
		return nil
	})
}

// SetRecentServer remembers the server last used on a source.
func (s *Store) SetRecentServer(source string, server media.ServerID) error {
	_, err := s.db.Exec(`INSERT INTO recent_servers (source, server) VALUES (?, ?)
		ON CONFLICT(source) DO UPDATE SET server = excluded.server`, source, string(server))
	if err != nil {
		return fmt.Errorf("saving recent server for %s: %w", source, err)
	}
	return nil
}

// RecentServer returns the server last used on a source, or "".
func (s *Store) RecentServer(source string) (media.ServerID, error) {
	var server string
	err := s.db.QueryRow(`SELECT server FROM recent_servers WHERE source = ?`, source).Scan(&server)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading recent server for %s: %w", source, err)
	}
	return media.ServerID(server), nil
}

func scanLinks(rows *sql.Rows) ([]media.AnimeLink, error) {
	defer rows.Close()
	var links []media.AnimeLink
	for rows.Next() {
		var l media.AnimeLink
		if err := rows.Scan(&l.Link, &l.Title, &l.Image, &l.Source); err != nil {
			return nil, fmt.Errorf("scanning anime link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func dedupeLinks(links []media.AnimeLink) []media.AnimeLink {
	seen := make(map[string]bool, len(links))
	out := make([]media.AnimeLink, 0, len(links))
	for _, l := range links {
		if l.Link == "" || seen[l.Link] {
			continue
		}
		seen[l.Link] = true
		out = append(out, l)
	}
	return out
}
