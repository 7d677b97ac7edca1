// Package api serves the registries and playback progress as JSON so other
// devices can resolve episodes and hand off where playback stopped.
package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"nineanimator/internal/httputil"
	"nineanimator/internal/logging"
	"nineanimator/internal/media"
	"nineanimator/internal/provider"
	"nineanimator/internal/source"
	"nineanimator/internal/store"
)

// ProgressStore is the part of the state store the API exposes.
type ProgressStore interface {
	ProgressEntry(episodeID string) (store.EpisodeProgress, bool, error)
	SetProgress(p store.EpisodeProgress) error
}

// Server holds what the handlers need.
type Server struct {
	providers *provider.Registry
	sources   *source.Registry
	progress  ProgressStore
}

func NewServer(providers *provider.Registry, sources *source.Registry, progress ProgressStore) *Server {
	return &Server{providers: providers, sources: sources, progress: progress}
}

// App builds the fiber application with every route mounted.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "nineanimator",
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler:          errorHandler,
		ReadTimeout:           30 * time.Second,
	})
	app.Use(recover.New())
	app.Use(requestLogger)
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET,PUT",
	}))

	api := app.Group("/api")
	api.Get("/providers", s.listProviders)
	api.Get("/sources", s.listSources)
	api.Get("/search", s.search)
	api.Get("/resolve", s.resolve)
	api.Get("/progress/*", s.getProgress)
	api.Put("/progress/*", s.putProgress)
	return app
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	app := s.App()
	errc := make(chan error, 1)
	go func() { errc <- app.Listen(addr) }()
	logging.Info("api listening", "addr", "http://"+addr+"/api/")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		logging.Info("shutting down api")
		return app.ShutdownWithTimeout(5 * time.Second)
	}
}

func requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	logging.Debug("api request", "method", c.Method(), "path", c.Path(),
		"status", c.Response().StatusCode(), "took", time.Since(start))
	return err
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	switch media.KindOf(err) {
	case media.ErrArgument:
		return fiber.StatusBadRequest
	case media.ErrProvider, media.ErrContentUnavailable:
		return fiber.StatusNotFound
	default:
		return fiber.StatusBadGateway
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	if code >= fiber.StatusInternalServerError {
		logging.Warn("api error", "path", c.Path(), "err", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

type providerJSON struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Aliases     []string `json:"aliases"`
	Recommended []string `json:"recommended"`
}

func (s *Server) listProviders(c *fiber.Ctx) error {
	entries := s.providers.Entries()
	out := make([]providerJSON, 0, len(entries))
	for _, e := range entries {
		p := providerJSON{
			Name:        e.Name,
			Type:        provider.TypeName(e.Parser),
			Aliases:     e.Parser.Aliases(),
			Recommended: []string{},
		}
		for _, purpose := range media.AllPurposes {
			if e.Parser.IsRecommended(purpose) {
				p.Recommended = append(p.Recommended, purpose.String())
			}
		}
		out = append(out, p)
	}
	return c.JSON(out)
}

type sourceJSON struct {
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases"`
	Description string   `json:"description"`
}

func (s *Server) listSources(c *fiber.Ctx) error {
	sources := s.sources.Sources()
	out := make([]sourceJSON, 0, len(sources))
	for _, src := range sources {
		out = append(out, sourceJSON{Name: src.Name(), Aliases: src.Aliases(), Description: src.Description()})
	}
	return c.JSON(out)
}

func (s *Server) search(c *fiber.Ctx) error {
	name := c.Query("source")
	var (
		src source.Source
		ok  bool
	)
	if name == "" {
		if all := s.sources.Sources(); len(all) > 0 {
			src, ok = all[0], true
		}
	} else {
		src, ok = s.sources.Lookup(name)
	}
	if !ok {
		return media.NewError(media.ErrArgument, "unknown source "+name)
	}

	results, err := src.Search(c.UserContext(), c.Query("q"))
	if err != nil {
		return err
	}
	return c.JSON(results)
}

// resolve runs a raw embed URL through the registry as if a source had
// offered it on server.
func (s *Server) resolve(c *fiber.Ctx) error {
	server := strings.TrimSpace(c.Query("server"))
	rawURL := strings.TrimSpace(c.Query("url"))
	if server == "" || rawURL == "" {
		return media.NewError(media.ErrArgument, "server and url are required")
	}
	if err := httputil.ValidateURL(rawURL); err != nil {
		return media.WrapError(media.ErrArgument, err, "invalid url")
	}

	purpose := media.Playback
	if p := c.Query("purpose"); p != "" {
		var err error
		if purpose, err = media.ParsePurpose(p); err != nil {
			return media.WrapError(media.ErrArgument, err, "invalid purpose")
		}
	}

	episode := &media.Episode{
		Link:    media.EpisodeLink{Identifier: rawURL, Server: media.ServerID(server)},
		Target:  rawURL,
		Referer: c.Query("referer"),
	}
	if q := c.Query("quality"); q != "" {
		episode.UserInfo = map[string]string{"quality": q}
	}

	pm, err := s.providers.Resolve(c.UserContext(), server, episode, purpose)
	if err != nil {
		return err
	}
	return c.JSON(pm)
}

type progressJSON struct {
	EpisodeID string    `json:"episodeID"`
	AnimeLink string    `json:"animeLink,omitempty"`
	Server    string    `json:"server,omitempty"`
	Position  float64   `json:"position"`
	Duration  float64   `json:"duration"`
	Fraction  float64   `json:"fraction"`
	Updated   time.Time `json:"updated"`
}

func toProgressJSON(p store.EpisodeProgress) progressJSON {
	return progressJSON{
		EpisodeID: p.EpisodeID,
		AnimeLink: p.AnimeLink,
		Server:    p.Server,
		Position:  p.Position,
		Duration:  p.Duration,
		Fraction:  p.Fraction,
		Updated:   p.Updated,
	}
}

// episodeParam returns the episode id from the wildcard; ids contain slashes.
func episodeParam(c *fiber.Ctx) (string, error) {
	id := strings.Trim(c.Params("*"), "/")
	if id == "" {
		return "", media.NewError(media.ErrArgument, "episode id is required")
	}
	return id, nil
}

func (s *Server) getProgress(c *fiber.Ctx) error {
	id, err := episodeParam(c)
	if err != nil {
		return err
	}
	p, ok, err := s.progress.ProgressEntry(id)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "no progress for "+id)
	}
	return c.JSON(toProgressJSON(p))
}

type progressUpdate struct {
	Fraction *float64 `json:"fraction"`
	Position float64  `json:"position"`
	Duration float64  `json:"duration"`
	Server   string   `json:"server"`
}

func (s *Server) putProgress(c *fiber.Ctx) error {
	id, err := episodeParam(c)
	if err != nil {
		return err
	}
	var body progressUpdate
	if err := c.BodyParser(&body); err != nil {
		return media.WrapError(media.ErrArgument, err, "invalid progress body")
	}
	if body.Fraction == nil && body.Duration <= 0 {
		return media.NewError(media.ErrArgument, "fraction or duration is required")
	}

	p := store.EpisodeProgress{
		EpisodeID: id,
		Server:    body.Server,
		Position:  body.Position,
		Duration:  body.Duration,
	}
	if body.Fraction != nil {
		if *body.Fraction < 0 || *body.Fraction > 1 {
			return media.NewError(media.ErrArgument, "fraction must be between 0 and 1")
		}
		p.Fraction = *body.Fraction
	}
	if err := s.progress.SetProgress(p); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	saved, _, err := s.progress.ProgressEntry(id)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(toProgressJSON(saved))
}
