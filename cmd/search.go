package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"nineanimator/internal/download"
	"nineanimator/internal/history"
	"nineanimator/internal/logging"
	"nineanimator/internal/media"
	"nineanimator/internal/player"
	"nineanimator/internal/source"
	"nineanimator/internal/subtitle"
	"nineanimator/internal/ui"
)

// searchRun is the default command: nineanimator <query>
func searchRun(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	if query == "" {
		var err error
		query, err = ui.Input("Search")
		if err != nil {
			return fmt.Errorf("no search query provided")
		}
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	src, err := e.source()
	if err != nil {
		return err
	}
	logging.Debug("searching", "source", src.Name(), "query", query)
	return playFlow(cmd.Context(), e, src, query)
}

// playFlow handles the full search -> select -> play flow.
func playFlow(ctx context.Context, e *env, src source.Source, query string) error {
	results, err := src.Search(ctx, query)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 {
		return media.NewError(media.ErrSearch, fmt.Sprintf("no results for %q on %s", query, src.Name()))
	}

	idx, err := ui.Select("Select", animeTitles(results))
	if err != nil {
		return err
	}
	return watchAnime(ctx, e, src, results[idx], "")
}

func animeTitles(links []media.AnimeLink) []string {
	items := make([]string, len(links))
	for i, l := range links {
		items[i] = l.Title
		if items[i] == "" {
			items[i] = l.Link
		}
	}
	return items
}

// watchAnime loads an anime, settles on a server and an episode, then plays
// or downloads it. A non-empty episodeID skips the episode prompt when the
// chosen server lists that episode; with --continue a finished episode
// moves on to the next one.
func watchAnime(ctx context.Context, e *env, src source.Source, link media.AnimeLink, episodeID string) error {
	anime, err := src.Anime(ctx, link)
	if err != nil {
		return fmt.Errorf("loading %s: %w", link.Link, err)
	}
	if anime.Link.Title == "" {
		anime.Link.Title = link.Title
	}
	if err := e.store.PushRecent(anime.Link); err != nil {
		logging.Warn("saving recent anime", "err", err)
	}

	server, err := chooseServer(e, src, anime)
	if err != nil {
		return err
	}
	episodes := anime.EpisodesOn(server)
	if len(episodes) == 0 {
		return media.NewError(media.ErrContentUnavailable,
			fmt.Sprintf("no episodes of %s on %s", anime.Link.Title, anime.ServerName(server)))
	}

	idx := -1
	if episodeID != "" {
		idx = nextEpisode(e, episodes, episodeID)
	}
	if idx < 0 {
		items := make([]string, len(episodes))
		for i, ep := range episodes {
			items[i] = episodeLabel(e, ep)
		}
		if idx, err = ui.Select("Episode", items); err != nil {
			return err
		}
	}
	return playEpisode(ctx, e, src, anime, episodes[idx])
}

// nextEpisode finds episodeID in episodes. A watched episode resolves to the
// one after it when resuming.
func nextEpisode(e *env, episodes []media.EpisodeLink, episodeID string) int {
	for i, ep := range episodes {
		if ep.Identifier != episodeID {
			continue
		}
		if flagContinue && i+1 < len(episodes) {
			if f, err := e.history.Fraction(ep.Identifier); err == nil && f >= 1 {
				return i + 1
			}
		}
		return i
	}
	return -1
}

func episodeLabel(e *env, ep media.EpisodeLink) string {
	label := "Episode " + ep.Name
	f, err := e.history.Fraction(ep.Identifier)
	switch {
	case err != nil || f <= 0:
	case f >= 1:
		label += " [watched]"
	default:
		label += fmt.Sprintf(" [%.0f%%]", f*100)
	}
	return label
}

// chooseServer picks the server to watch on: the --server flag, then the
// server last used on this source, then the user's choice with servers
// recommended for the purpose listed first.
func chooseServer(e *env, src source.Source, anime *media.Anime) (media.ServerID, error) {
	order := anime.RecommendServers(e.providers, purpose())
	if len(order) == 0 {
		return "", media.NewError(media.ErrContentUnavailable, "no servers listed for "+anime.Link.Title)
	}

	if cfg.Server != "" {
		for _, id := range order {
			if strings.EqualFold(string(id), cfg.Server) || strings.EqualFold(anime.ServerName(id), cfg.Server) {
				return id, nil
			}
		}
		logging.Warn("server not offered, choosing another", "server", cfg.Server)
	}

	if last, err := e.store.RecentServer(src.Name()); err == nil && last != "" {
		for _, id := range order {
			if id == last {
				logging.Debug("using last server", "server", anime.ServerName(id))
				return id, nil
			}
		}
	}

	if len(order) == 1 {
		return order[0], nil
	}
	items := make([]string, len(order))
	for i, id := range order {
		name := anime.ServerName(id)
		items[i] = name
		if e.providers.Recommends(name, purpose()) || e.providers.Recommends(string(id), purpose()) {
			items[i] += " (recommended)"
		}
	}
	idx, err := ui.Select("Server", items)
	if err != nil {
		return "", err
	}
	if err := e.store.SetRecentServer(src.Name(), order[idx]); err != nil {
		logging.Warn("remembering server", "err", err)
	}
	return order[idx], nil
}

// parserName returns the registry name of the parser that should handle an
// episode: the source's suggestion when it has one, else the server name.
func parserName(e *env, src source.Source, episode *media.Episode, serverName string) string {
	if p, ok := src.SuggestProvider(episode, episode.Link.Server, serverName); ok {
		for _, entry := range e.providers.Entries() {
			if entry.Parser == p {
				return entry.Name
			}
		}
	}
	return serverName
}

type mediaOutput struct {
	Title  string               `json:"title"`
	Server string               `json:"server"`
	Media  *media.PlaybackMedia `json:"media"`
}

func playEpisode(ctx context.Context, e *env, src source.Source, anime *media.Anime, link media.EpisodeLink) error {
	episode, err := src.Episode(ctx, link, anime)
	if err != nil {
		return fmt.Errorf("loading episode %s: %w", link.Name, err)
	}
	if episode.Link.Parent.Link == "" {
		episode.Link.Parent = anime.Link
	}
	if cfg.Quality != "" {
		if episode.UserInfo == nil {
			episode.UserInfo = map[string]string{}
		}
		episode.UserInfo["quality"] = cfg.Quality
	}
	server := parserName(e, src, episode, anime.ServerName(link.Server))
	title := fmt.Sprintf("%s - Episode %s", anime.Link.Title, link.Name)
	logging.Debug("episode", "title", title, "server", server, "target", episode.Target)

	if downloading() {
		return downloadEpisodes(ctx, e, []download.Job{{Episode: episode, Server: server, AnimeTitle: anime.Link.Title}})
	}

	pm, err := e.providers.Resolve(ctx, server, episode, purpose())
	if err != nil {
		return fmt.Errorf("resolving episode: %w", err)
	}
	logging.Debug("stream", "url", pm.URL, "hls", pm.IsHLS())

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(mediaOutput{Title: title, Server: server, Media: pm})
	}

	var subFile string
	if !flagNoSubs && len(pm.Subtitles) > 0 {
		if best := subtitle.BestMatch(pm.Subtitles, cfg.SubsLanguage); best != nil {
			tmpDir, err := subtitle.NewTempDir()
			if err == nil {
				defer tmpDir.Cleanup()
				subFile, err = tmpDir.Download(ctx, e.session, *best, pm.Referer())
				if err != nil {
					logging.Debug("subtitle download failed", "err", err)
					subFile = ""
				}
			}
		}
	}

	start, err := resumeFrom(e, link)
	if err != nil {
		return err
	}

	p, err := player.New(cfg.Player)
	if err != nil {
		return err
	}
	if !p.Available() {
		return fmt.Errorf("player %q not found in PATH", p.Name())
	}

	res, err := p.Play(ctx, pm, player.Options{
		Title:         title,
		Start:         start.Position,
		StartFraction: start.Fraction,
		SubFile:       subFile,
	})
	if err != nil {
		return fmt.Errorf("playback failed: %w", err)
	}

	if res.Tracked() {
		err = e.history.Record(link, res.Position, res.Duration)
	} else {
		err = e.history.MarkWatched(link)
	}
	if err != nil {
		logging.Warn("saving history failed", "err", err)
	}
	return nil
}

// resumeFrom returns where to start link. A partly watched episode resumes
// with --continue, otherwise the user is asked.
func resumeFrom(e *env, link media.EpisodeLink) (history.Resume, error) {
	pt, ok, err := e.history.ResumePoint(link.Identifier)
	if err != nil || !ok {
		return history.Resume{}, err
	}
	if flagContinue {
		logging.Debug("resuming", "position", pt.Position, "fraction", pt.Fraction)
		return pt, nil
	}
	resume, err := ui.Confirm(fmt.Sprintf("Resume episode %s at %s?", link.Name, resumeLabel(pt)))
	if err != nil {
		return history.Resume{}, err
	}
	if !resume {
		return history.Resume{}, nil
	}
	return pt, nil
}

func resumeLabel(pt history.Resume) string {
	if pt.Position > 0 {
		return formatClock(pt.Position)
	}
	return fmt.Sprintf("%.0f%%", pt.Fraction*100)
}

func formatClock(seconds float64) string {
	s := int(seconds)
	if s >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", s/3600, s/60%60, s%60)
	}
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

// downloadEpisodes runs jobs through a download manager writing to the
// configured directory.
func downloadEpisodes(ctx context.Context, e *env, jobs []download.Job) error {
	dir, err := cfg.ExpandDownloadDir()
	if err != nil {
		return fmt.Errorf("resolving download dir: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	reporter := download.NewReporter(cancel)

	opts := []download.Option{
		download.WithDir(dir),
		download.WithConcurrency(cfg.Concurrency),
		download.WithReporter(reporter),
	}
	if !flagNoSubs {
		opts = append(opts, download.WithSubtitles(e.session, cfg.SubsLanguage))
	}
	mgr, err := download.NewManager(e.store, e.providers, opts...)
	if err != nil {
		reporter.Close()
		return err
	}
	err = mgr.Enqueue(ctx, jobs)
	reporter.Close()

	for _, job := range jobs {
		if t, ok, terr := mgr.Task(job.Episode.ID()); terr == nil && ok && t.State == download.Ready {
			fmt.Fprintf(os.Stderr, "Downloaded: %s\n", t.Path)
		}
	}
	return err
}
