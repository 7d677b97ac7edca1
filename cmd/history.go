package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"nineanimator/internal/history"
	"nineanimator/internal/media"
	"nineanimator/internal/store"
	"nineanimator/internal/ui"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Resume from watch history",
	Args:  cobra.NoArgs,
	RunE:  historyRun,
}

var historyRemoveCmd = &cobra.Command{
	Use:   "remove <episode-id>",
	Short: "Forget the progress of an episode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()
		return e.history.Remove(args[0])
	},
}

var continueCmd = &cobra.Command{
	Use:   "continue",
	Short: "Resume the most recently watched episode",
	Args:  cobra.NoArgs,
	RunE:  continueRun,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "Number of entries to show")
	historyCmd.AddCommand(historyRemoveCmd)
}

func historyRun(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	entries, err := e.history.Entries(historyLimit)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No history entries found.")
		return nil
	}

	titles, err := knownTitles(e)
	if err != nil {
		return err
	}
	idx, err := ui.Select("History", history.FormatForDisplay(entries, titles))
	if err != nil {
		return err
	}
	return resumeEntry(cmd.Context(), e, entries[idx], titles)
}

func continueRun(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	latest, ok, err := e.store.LatestProgress()
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}
	if !ok {
		fmt.Println("Nothing to continue.")
		return nil
	}
	titles, err := knownTitles(e)
	if err != nil {
		return err
	}
	flagContinue = true
	return resumeEntry(cmd.Context(), e, latest, titles)
}

// knownTitles maps anime links to titles from the recent and subscribed lists.
func knownTitles(e *env) (map[string]string, error) {
	titles := make(map[string]string)
	recent, err := e.store.Recent()
	if err != nil {
		return nil, fmt.Errorf("loading recent anime: %w", err)
	}
	subs, err := e.store.Subscriptions()
	if err != nil {
		return nil, fmt.Errorf("loading subscriptions: %w", err)
	}
	for _, l := range append(recent, subs...) {
		if _, ok := titles[l.Link]; !ok && l.Title != "" {
			titles[l.Link] = l.Title
		}
	}
	return titles, nil
}

// resumeEntry reopens the anime of a history entry on the server it was
// watched on, going straight to its episode.
func resumeEntry(ctx context.Context, e *env, p store.EpisodeProgress, titles map[string]string) error {
	if p.AnimeLink == "" {
		return media.NewError(media.ErrArgument, "no anime recorded for episode "+p.EpisodeID)
	}
	src, ok := e.sources.SourceFor(p.AnimeLink)
	if !ok {
		return media.NewError(media.ErrURL, "no source handles "+p.AnimeLink)
	}
	if cfg.Server == "" && p.Server != "" {
		cfg.Server = p.Server
	}
	link := media.AnimeLink{Title: titles[p.AnimeLink], Link: p.AnimeLink, Source: src.Name()}
	return watchAnime(ctx, e, src, link, p.EpisodeID)
}
