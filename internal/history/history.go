// Package history records where playback stopped and decides where the
// next playback of an episode starts. Rows live in the state store and are
// keyed by episode identifier, so every server of an episode shares them.
package history

import (
	"fmt"

	"nineanimator/internal/media"
	"nineanimator/internal/store"
)

// Store is the part of the state store history needs.
type Store interface {
	SetProgress(p store.EpisodeProgress) error
	ProgressEntry(episodeID string) (store.EpisodeProgress, bool, error)
	ProgressHistory(limit int) ([]store.EpisodeProgress, error)
	DeleteProgress(episodeID string) error
}

// Recorder saves playback positions. A disabled Recorder reads as empty and
// drops writes.
type Recorder struct {
	st      Store
	enabled bool
}

func New(st Store, enabled bool) *Recorder {
	return &Recorder{st: st, enabled: enabled}
}

// Enabled reports whether history is being recorded.
func (r *Recorder) Enabled() bool { return r.enabled }

// Record saves where playback of ep stopped. Positions without a known
// duration cannot produce a fraction and are ignored.
func (r *Recorder) Record(ep media.EpisodeLink, position, duration float64) error {
	if !r.enabled || duration <= 0 {
		return nil
	}
	if ep.Identifier == "" {
		return media.NewError(media.ErrArgument, "recording history without an episode identifier")
	}
	return r.st.SetProgress(store.EpisodeProgress{
		EpisodeID:   ep.Identifier,
		AnimeLink:   ep.Parent.Link,
		EpisodeName: ep.Name,
		Server:      string(ep.Server),
		Position:    position,
		Duration:    duration,
	})
}

// MarkWatched records ep as finished, for players that do not report a
// position.
func (r *Recorder) MarkWatched(ep media.EpisodeLink) error {
	if !r.enabled {
		return nil
	}
	return r.st.SetProgress(store.EpisodeProgress{
		EpisodeID:   ep.Identifier,
		AnimeLink:   ep.Parent.Link,
		EpisodeName: ep.Name,
		Server:      string(ep.Server),
		Fraction:    1,
	})
}

// Resume is where the next playback of an episode starts. Position is zero
// when only the watched fraction is known, as for progress handed over from
// another device before its duration was seen here.
type Resume struct {
	Position float64 // seconds
	Fraction float64
}

// ResumePoint returns where an episode that was started but not finished
// should continue.
func (r *Recorder) ResumePoint(episodeID string) (Resume, bool, error) {
	if !r.enabled {
		return Resume{}, false, nil
	}
	p, ok, err := r.st.ProgressEntry(episodeID)
	if err != nil || !ok {
		return Resume{}, false, err
	}
	if p.Fraction >= 1 {
		return Resume{}, false, nil
	}
	pos := p.Position
	if pos <= 0 && p.Duration > 0 {
		pos = p.Fraction * p.Duration
	}
	if pos <= 0 && p.Fraction <= 0 {
		return Resume{}, false, nil
	}
	return Resume{Position: pos, Fraction: p.Fraction}, true, nil
}

// ResumePosition returns the saved position in seconds of an episode that
// was started but not finished.
func (r *Recorder) ResumePosition(episodeID string) (float64, bool, error) {
	pt, ok, err := r.ResumePoint(episodeID)
	if err != nil || !ok || pt.Position <= 0 {
		return 0, false, err
	}
	return pt.Position, true, nil
}

// Fraction returns the watched fraction of an episode, 0 when unknown.
func (r *Recorder) Fraction(episodeID string) (float64, error) {
	p, ok, err := r.st.ProgressEntry(episodeID)
	if err != nil || !ok {
		return 0, err
	}
	return p.Fraction, nil
}

// Entries returns up to limit entries, most recently watched first.
func (r *Recorder) Entries(limit int) ([]store.EpisodeProgress, error) {
	return r.st.ProgressHistory(limit)
}

// Remove forgets an episode.
func (r *Recorder) Remove(episodeID string) error {
	return r.st.DeleteProgress(episodeID)
}

// FormatForDisplay creates selection lines for entries. titles maps anime
// links to titles; entries of unknown anime show their link instead.
func FormatForDisplay(entries []store.EpisodeProgress, titles map[string]string) []string {
	items := make([]string, 0, len(entries))
	for _, e := range entries {
		title := titles[e.AnimeLink]
		if title == "" {
			title = e.AnimeLink
		}
		if title == "" {
			title = e.EpisodeID
		}

		display := title
		if e.EpisodeName != "" {
			display += " - Episode " + e.EpisodeName
		}
		switch {
		case e.Fraction >= 1:
			display += " [watched]"
		case e.Duration > 0:
			display += fmt.Sprintf(" [%.0f%% %s/%s]", e.Fraction*100,
				formatDuration(e.Position), formatDuration(e.Duration))
		case e.Fraction > 0:
			display += fmt.Sprintf(" [%.0f%%]", e.Fraction*100)
		}
		items = append(items, display)
	}
	return items
}

// formatDuration formats seconds as H:MM:SS or M:SS.
func formatDuration(seconds float64) string {
	s := int(seconds)
	h := s / 3600
	m := (s % 3600) / 60
	sec := s % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}
