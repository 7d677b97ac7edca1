// Package media defines the shared anime, episode and playback types.
package media

import (
	"strconv"
	"strings"
	"unicode"
)

// AnimeLink identifies an anime on a source. Two links are the same anime
// when their Link fields are equal.
type AnimeLink struct {
	Title  string `json:"title"`
	Link   string `json:"link"`
	Image  string `json:"image,omitempty"`
	Source string `json:"source"`
}

// ServerID is a source-specific identifier for a streaming server.
type ServerID string

// EpisodeLink points at a single episode on a single server.
type EpisodeLink struct {
	Identifier string    `json:"identifier"`
	Name       string    `json:"name"`
	Server     ServerID  `json:"server"`
	Parent     AnimeLink `json:"parent"`
}

// Number returns the leading episode number in Name, or 0.
func (l EpisodeLink) Number() int {
	name := strings.TrimSpace(l.Name)
	end := 0
	for end < len(name) && unicode.IsDigit(rune(name[end])) {
		end++
	}
	if end == 0 {
		return 0
	}
	n, _ := strconv.Atoi(name[:end])
	return n
}

// Anime is the detail page of an AnimeLink with its servers and episodes.
type Anime struct {
	Link            AnimeLink
	Description     string
	AlternativeName string
	Attributes      map[string]string

	// Servers maps server IDs to display names. ServerOrder keeps the
	// order the source listed them in.
	Servers     map[ServerID]string
	ServerOrder []ServerID
	Episodes    map[ServerID][]EpisodeLink
}

// NewAnime returns an empty Anime for link.
func NewAnime(link AnimeLink) *Anime {
	return &Anime{
		Link:       link,
		Attributes: make(map[string]string),
		Servers:    make(map[ServerID]string),
		Episodes:   make(map[ServerID][]EpisodeLink),
	}
}

// AddServer records a server once, keeping insertion order.
func (a *Anime) AddServer(id ServerID, name string) {
	if _, ok := a.Servers[id]; !ok {
		a.ServerOrder = append(a.ServerOrder, id)
	}
	a.Servers[id] = name
}

// AddEpisode appends an episode to its server, registering the server if needed.
func (a *Anime) AddEpisode(ep EpisodeLink) {
	if _, ok := a.Servers[ep.Server]; !ok {
		a.AddServer(ep.Server, string(ep.Server))
	}
	a.Episodes[ep.Server] = append(a.Episodes[ep.Server], ep)
}

// ServerName returns the display name of a server, falling back to the ID.
func (a *Anime) ServerName(id ServerID) string {
	if name, ok := a.Servers[id]; ok && name != "" {
		return name
	}
	return string(id)
}

// EpisodesOn returns the episodes available on a server.
func (a *Anime) EpisodesOn(id ServerID) []EpisodeLink {
	return a.Episodes[id]
}

// EpisodeCount returns the largest episode list across servers.
func (a *Anime) EpisodeCount() int {
	n := 0
	for _, eps := range a.Episodes {
		if len(eps) > n {
			n = len(eps)
		}
	}
	return n
}

// Recommender reports whether a server's media suits a purpose.
type Recommender interface {
	Recommends(server string, purpose Purpose) bool
}

// RecommendServers orders the anime's servers so that the ones recommended
// for purpose come first. Relative order within each group is preserved.
func (a *Anime) RecommendServers(r Recommender, purpose Purpose) []ServerID {
	var preferred, rest []ServerID
	for _, id := range a.ServerOrder {
		if r != nil && (r.Recommends(a.ServerName(id), purpose) || r.Recommends(string(id), purpose)) {
			preferred = append(preferred, id)
		} else {
			rest = append(rest, id)
		}
	}
	return append(preferred, rest...)
}

// Episode is a resolved episode page: the embedded player a parser should open.
type Episode struct {
	Link     EpisodeLink       `json:"link"`
	Target   string            `json:"target"`
	Referer  string            `json:"referer,omitempty"`
	UserInfo map[string]string `json:"userInfo,omitempty"`
}

// ID returns the key used to store progress for this episode.
func (e *Episode) ID() string {
	return e.Link.Identifier
}

// PlaybackMedia is what a parser produces: a direct URL plus the request
// headers a player needs to open it.
type PlaybackMedia struct {
	URL         string            `json:"url"`
	Link        EpisodeLink       `json:"episode"`
	ContentType string            `json:"contentType,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Aggregated  bool              `json:"aggregated"`
	Subtitles   []Subtitle        `json:"subtitles,omitempty"`
	Quality     string            `json:"quality,omitempty"`
}

// Name returns the episode's display name.
func (m *PlaybackMedia) Name() string {
	return m.Link.Name
}

// IsHLS reports whether the media is an HLS playlist.
func (m *PlaybackMedia) IsHLS() bool {
	if m.Aggregated {
		return true
	}
	path := m.URL
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	return strings.HasSuffix(strings.ToLower(path), ".m3u8")
}

// Referer returns the Referer header the media must be requested with.
func (m *PlaybackMedia) Referer() string {
	return m.Headers["Referer"]
}

// UserAgent returns the User-Agent header, if the parser set one.
func (m *PlaybackMedia) UserAgent() string {
	return m.Headers["User-Agent"]
}

// Subtitle represents a subtitle track.
type Subtitle struct {
	Language string `json:"language"`
	Label    string `json:"label"`
	URL      string `json:"url"`
}
