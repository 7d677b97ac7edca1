// Package source defines the anime sites episodes are found on and a registry
// to look them up by name or by URL.
package source

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"nineanimator/internal/httputil"
	"nineanimator/internal/media"
	"nineanimator/internal/provider"
)

// Source is an anime site: it can search its catalogue, list an anime's
// servers and episodes, and turn an episode into the embed page a provider
// parser opens.
type Source interface {
	Name() string
	Aliases() []string
	Description() string

	Search(ctx context.Context, query string) ([]media.AnimeLink, error)
	Latest(ctx context.Context) ([]media.AnimeLink, error)
	Anime(ctx context.Context, link media.AnimeLink) (*media.Anime, error)
	Episode(ctx context.Context, link media.EpisodeLink, anime *media.Anime) (*media.Episode, error)

	// SuggestProvider picks the parser for an episode on a server.
	SuggestProvider(episode *media.Episode, server media.ServerID, serverName string) (provider.Parser, bool)

	// CanHandle reports whether rawURL belongs to this site.
	CanHandle(rawURL string) bool
	// Link resolves a copied site URL into a media.AnimeLink or media.EpisodeLink.
	Link(ctx context.Context, rawURL string) (any, error)
}

// Registry is an ordered set of sources. Lookups follow the same rules as
// provider.Registry: case-insensitive name or alias, first match wins.
type Registry struct {
	mu      sync.RWMutex
	sources []Source
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds s, replacing a source of the same name in place.
func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.sources {
		if strings.EqualFold(existing.Name(), s.Name()) {
			r.sources[i] = s
			return
		}
	}
	r.sources = append(r.sources, s)
}

// Lookup finds a source by name or alias.
func (r *Registry) Lookup(name string) (Source, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sources {
		if strings.EqualFold(s.Name(), name) {
			return s, true
		}
		for _, a := range s.Aliases() {
			if strings.EqualFold(a, name) {
				return s, true
			}
		}
	}
	return nil, false
}

// SourceFor returns the first source that can handle rawURL.
func (r *Registry) SourceFor(rawURL string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sources {
		if s.CanHandle(rawURL) {
			return s, true
		}
	}
	return nil, false
}

// Sources returns the registered sources in order.
func (r *Registry) Sources() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.sources))
	for i, s := range r.sources {
		names[i] = s.Name()
	}
	return names
}

// NewDefault returns the built-in sources sharing a session and provider registry.
func NewDefault(s *httputil.Session, providers *provider.Registry) *Registry {
	r := NewRegistry()
	r.Register(NewAnimePahe(s, providers))
	r.Register(NewGogoanime(s, providers))
	return r
}

// hostMatches reports whether rawURL's host is one of hosts or a subdomain of one.
func hostMatches(rawURL string, hosts ...string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range hosts {
		h = strings.ToLower(h)
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// hostOf returns the hostname of rawURL, or "".
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
