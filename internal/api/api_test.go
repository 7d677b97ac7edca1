package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nineanimator/internal/history"
	"nineanimator/internal/media"
	"nineanimator/internal/provider"
	"nineanimator/internal/source"
	"nineanimator/internal/store"
)

type stubSource struct{ name string }

func (s stubSource) Name() string        { return s.name }
func (s stubSource) Aliases() []string   { return []string{s.name + "-alias"} }
func (s stubSource) Description() string { return "stub " + s.name }

func (s stubSource) Search(_ context.Context, query string) ([]media.AnimeLink, error) {
	if query == "" {
		return nil, media.NewError(media.ErrArgument, "empty query")
	}
	if query == "nothing" {
		return nil, media.NewError(media.ErrSearch, "no results")
	}
	return []media.AnimeLink{{Title: "Frieren", Link: "https://" + s.name + "/anime/frieren", Source: s.name}}, nil
}

func (s stubSource) Latest(context.Context) ([]media.AnimeLink, error) { return nil, nil }

func (s stubSource) Anime(context.Context, media.AnimeLink) (*media.Anime, error) {
	return nil, errors.New("not implemented")
}

func (s stubSource) Episode(context.Context, media.EpisodeLink, *media.Anime) (*media.Episode, error) {
	return nil, errors.New("not implemented")
}

func (s stubSource) SuggestProvider(*media.Episode, media.ServerID, string) (provider.Parser, bool) {
	return nil, false
}

func (s stubSource) CanHandle(string) bool { return false }

func (s stubSource) Link(context.Context, string) (any, error) { return nil, errors.New("not implemented") }

func newTestApp(t *testing.T) (*fiber.App, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	providers := provider.NewRegistry()
	providers.Register("Passthrough", provider.NewPassthrough())
	providers.Register("Dummy", provider.NewDummy())

	sources := source.NewRegistry()
	sources.Register(stubSource{name: "alpha"})
	sources.Register(stubSource{name: "beta"})

	return NewServer(providers, sources, st).App(), st
}

func do(t *testing.T, app *fiber.App, method, target, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestListProviders(t *testing.T) {
	app, _ := newTestApp(t)
	code, body := do(t, app, http.MethodGet, "/api/providers", "")
	require.Equal(t, http.StatusOK, code)

	var got []providerJSON
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "Passthrough", got[0].Name)
	assert.Equal(t, "Passthrough", got[0].Type)
	assert.Equal(t, []string{"passthrough", "direct"}, got[0].Aliases)
	assert.Equal(t, []string{"playback", "download", "cast"}, got[0].Recommended)
	assert.Empty(t, got[1].Recommended)
}

func TestListSources(t *testing.T) {
	app, _ := newTestApp(t)
	code, body := do(t, app, http.MethodGet, "/api/sources", "")
	require.Equal(t, http.StatusOK, code)

	var got []sourceJSON
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got, 2)
	assert.Equal(t, sourceJSON{Name: "alpha", Aliases: []string{"alpha-alias"}, Description: "stub alpha"}, got[0])
}

func TestSearch(t *testing.T) {
	app, _ := newTestApp(t)

	tests := []struct {
		target   string
		wantCode int
		wantLink string
	}{
		{"/api/search?q=frieren", http.StatusOK, "https://alpha/anime/frieren"},
		{"/api/search?source=BETA-ALIAS&q=frieren", http.StatusOK, "https://beta/anime/frieren"},
		{"/api/search?source=gamma&q=frieren", http.StatusBadRequest, ""},
		{"/api/search?source=alpha", http.StatusBadRequest, ""},
		{"/api/search?q=nothing", http.StatusBadGateway, ""},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			code, body := do(t, app, http.MethodGet, tt.target, "")
			assert.Equal(t, tt.wantCode, code, string(body))
			if tt.wantLink == "" {
				assert.Contains(t, string(body), `"error"`)
				return
			}
			var links []media.AnimeLink
			require.NoError(t, json.Unmarshal(body, &links))
			require.Len(t, links, 1)
			assert.Equal(t, tt.wantLink, links[0].Link)
		})
	}
}

func TestResolve(t *testing.T) {
	app, _ := newTestApp(t)

	code, body := do(t, app, http.MethodGet,
		"/api/resolve?server=direct&purpose=download&referer=https://site.example/&url=https://cdn.example/master.m3u8", "")
	require.Equal(t, http.StatusOK, code, string(body))

	var pm media.PlaybackMedia
	require.NoError(t, json.Unmarshal(body, &pm))
	assert.Equal(t, "https://cdn.example/master.m3u8", pm.URL)
	assert.True(t, pm.Aggregated)
	assert.Equal(t, "https://site.example/", pm.Referer())

	tests := []struct {
		target   string
		wantCode int
	}{
		{"/api/resolve?server=direct", http.StatusBadRequest},
		{"/api/resolve?server=direct&url=http://insecure.example/a.mp4", http.StatusBadRequest},
		{"/api/resolve?server=direct&url=https://cdn.example/a.mp4&purpose=stream", http.StatusBadRequest},
		{"/api/resolve?server=nope&url=https://cdn.example/a.mp4", http.StatusNotFound},
		{"/api/resolve?server=dummy&url=https://cdn.example/a.mp4", http.StatusNotFound},
	}
	for _, tt := range tests {
		code, body := do(t, app, http.MethodGet, tt.target, "")
		assert.Equal(t, tt.wantCode, code, "%s: %s", tt.target, body)
	}
}

func TestProgressHandoff(t *testing.T) {
	app, st := newTestApp(t)

	code, _ := do(t, app, http.MethodGet, "/api/progress/frieren/ep-3", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body := do(t, app, http.MethodPut, "/api/progress/frieren/ep-3", `{"position":720,"duration":1440,"server":"kwik"}`)
	require.Equal(t, http.StatusOK, code, string(body))
	var got progressJSON
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "frieren/ep-3", got.EpisodeID)
	assert.Equal(t, 0.5, got.Fraction)
	assert.Equal(t, "kwik", got.Server)

	code, body = do(t, app, http.MethodPut, "/api/progress/frieren/ep-3", `{"fraction":0.97}`)
	require.Equal(t, http.StatusOK, code, string(body))

	f, err := st.Progress("frieren/ep-3")
	require.NoError(t, err)
	assert.Equal(t, 1.0, f, "fractions past the finished threshold round up")

	code, body = do(t, app, http.MethodGet, "/api/progress/frieren/ep-3", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "kwik", got.Server, "server survives an update without one")

	for _, bad := range []string{`{"fraction":1.5}`, `{}`, `not json`} {
		code, body := do(t, app, http.MethodPut, "/api/progress/frieren/ep-3", bad)
		assert.Equal(t, http.StatusBadRequest, code, fmt.Sprintf("%s: %s", bad, body))
	}
}

func TestFractionHandoffKeepsResumePoint(t *testing.T) {
	app, st := newTestApp(t)
	rec := history.New(st, true)
	ep := media.EpisodeLink{Identifier: "a/ep1", Name: "1", Server: "kwik"}
	require.NoError(t, rec.Record(ep, 600, 1440))

	code, body := do(t, app, http.MethodPut, "/api/progress/a/ep1", `{"fraction":0.75}`)
	require.Equal(t, http.StatusOK, code, string(body))
	var got progressJSON
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 1440.0, got.Duration)
	assert.Equal(t, 1080.0, got.Position)

	pos, ok, err := rec.ResumePosition("a/ep1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1080.0, pos)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{media.NewError(media.ErrArgument, "x"), http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", media.NewError(media.ErrProvider, "x")), http.StatusNotFound},
		{media.NewError(media.ErrContentUnavailable, "x"), http.StatusNotFound},
		{media.NewError(media.ErrResponse, "x"), http.StatusBadGateway},
		{errors.New("plain"), http.StatusBadGateway},
		{fiber.NewError(http.StatusTeapot, "x"), http.StatusTeapot},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
