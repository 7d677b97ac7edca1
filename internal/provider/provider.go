// Package provider resolves embedded video players into direct media URLs.
//
// Each streaming host gets a Parser. A Registry maps server names, as sources
// report them, to parsers: lookups are case-insensitive, consider every
// parser's aliases, and return the first match in registration order.
package provider

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"nineanimator/internal/logging"
	"nineanimator/internal/media"
)

// Parser extracts playable media from a streaming host's page.
type Parser interface {
	// Aliases are the alternate server names this parser answers to.
	Aliases() []string

	// Parse fetches the host page for episode.Target and returns the direct media.
	Parse(ctx context.Context, episode *media.Episode, purpose media.Purpose) (*media.PlaybackMedia, error)

	// IsRecommended reports whether the parser's output is known to work for purpose.
	IsRecommended(purpose media.Purpose) bool
}

// Entry is a registered parser under its primary name.
type Entry struct {
	Name   string
	Parser Parser
}

// Registry is an ordered, concurrency-safe list of parsers.
type Registry struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a parser under name. Registering a name that already
// exists replaces that parser in place.
func (r *Registry) Register(name string, p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if strings.EqualFold(e.Name, name) {
			r.entries[i].Parser = p
			return
		}
	}
	r.entries = append(r.entries, Entry{Name: name, Parser: p})
}

// Lookup returns the first parser whose name or one of whose aliases
// matches server, ignoring case and surrounding whitespace.
func (r *Registry) Lookup(server string) (Parser, bool) {
	server = strings.TrimSpace(server)
	if server == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if matches(e, server) {
			return e.Parser, true
		}
	}
	return nil, false
}

func matches(e Entry, server string) bool {
	if strings.EqualFold(e.Name, server) {
		return true
	}
	for _, alias := range e.Parser.Aliases() {
		if strings.EqualFold(strings.TrimSpace(alias), server) {
			return true
		}
	}
	return false
}

// NameOf returns the registered name of the parser answering to server.
func (r *Registry) NameOf(server string) (string, bool) {
	server = strings.TrimSpace(server)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if server != "" && matches(e, server) {
			return e.Name, true
		}
	}
	return "", false
}

// Resolve looks up the parser for server and runs it.
func (r *Registry) Resolve(ctx context.Context, server string, episode *media.Episode, purpose media.Purpose) (*media.PlaybackMedia, error) {
	if episode == nil {
		return nil, media.NewError(media.ErrArgument, "no episode to resolve")
	}
	p, ok := r.Lookup(server)
	if !ok {
		return nil, media.NewError(media.ErrProvider, fmt.Sprintf("no parser registered for server %q", server))
	}

	logging.Debug("resolving episode", "server", server, "target", episode.Target, "purpose", purpose)
	m, err := p.Parse(ctx, episode, purpose)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", server, err)
	}
	if m.Link.Identifier == "" {
		m.Link = episode.Link
	}
	return m, nil
}

// ParserOf returns the first registered parser whose concrete type is T.
func ParserOf[T Parser](r *Registry) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if p, ok := e.Parser.(T); ok {
			return p, true
		}
	}
	var zero T
	return zero, false
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Name
	}
	return names
}

// Entries returns a snapshot of the registry.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Entry(nil), r.entries...)
}

// Recommended returns the names of parsers that recommend purpose.
func (r *Registry) Recommended(purpose media.Purpose) []string {
	var names []string
	for _, e := range r.Entries() {
		if e.Parser.IsRecommended(purpose) {
			names = append(names, e.Name)
		}
	}
	return names
}

// Recommends implements media.Recommender.
func (r *Registry) Recommends(server string, purpose media.Purpose) bool {
	p, ok := r.Lookup(server)
	return ok && p.IsRecommended(purpose)
}

// TypeName returns the Go type name of a parser, used in listings.
func TypeName(p Parser) string {
	t := reflect.TypeOf(p)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// recommendation lists the purposes a parser recommends. Embedded by parsers.
type recommendation []media.Purpose

func (rs recommendation) IsRecommended(purpose media.Purpose) bool {
	for _, p := range rs {
		if p == purpose {
			return true
		}
	}
	return false
}

// aliases is embedded by parsers to satisfy Aliases.
type aliases []string

func (a aliases) Aliases() []string { return a }
