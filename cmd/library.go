package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nineanimator/internal/media"
	"nineanimator/internal/ui"
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe [query]",
	Short: "Search for an anime and add it to subscriptions",
	Args:  cobra.ArbitraryArgs,
	RunE:  subscribeRun,
}

var unsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe",
	Short: "Remove an anime from subscriptions",
	Args:  cobra.NoArgs,
	RunE:  unsubscribeRun,
}

var subscriptionsCmd = &cobra.Command{
	Use:   "subscriptions",
	Short: "Pick a subscribed anime to watch",
	Args:  cobra.NoArgs,
	RunE:  subscriptionsRun,
}

func subscribeRun(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	if query == "" {
		var err error
		if query, err = ui.Input("Search"); err != nil {
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
	results, err := src.Search(cmd.Context(), query)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 {
		return media.NewError(media.ErrSearch, fmt.Sprintf("no results for %q on %s", query, src.Name()))
	}
	idx, err := ui.Select("Subscribe", animeTitles(results))
	if err != nil {
		return err
	}

	link := results[idx]
	subscribed, err := e.store.IsSubscribed(link.Link)
	if err != nil {
		return err
	}
	if subscribed {
		fmt.Printf("Already subscribed to %s.\n", link.Title)
		return nil
	}
	if err := e.store.Subscribe(link); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}
	fmt.Printf("Subscribed to %s.\n", link.Title)
	return nil
}

func selectSubscription(e *env, prompt string) (media.AnimeLink, bool, error) {
	subs, err := e.store.Subscriptions()
	if err != nil {
		return media.AnimeLink{}, false, fmt.Errorf("loading subscriptions: %w", err)
	}
	if len(subs) == 0 {
		fmt.Println("No subscriptions.")
		return media.AnimeLink{}, false, nil
	}
	items := make([]string, len(subs))
	for i, s := range subs {
		items[i] = fmt.Sprintf("%s (%s)", s.Title, s.Source)
	}
	idx, err := ui.Select(prompt, items)
	if err != nil {
		return media.AnimeLink{}, false, err
	}
	return subs[idx], true, nil
}

func unsubscribeRun(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	link, ok, err := selectSubscription(e, "Unsubscribe")
	if err != nil || !ok {
		return err
	}
	if err := e.store.Unsubscribe(link.Link); err != nil {
		return fmt.Errorf("unsubscribing: %w", err)
	}
	fmt.Printf("Unsubscribed from %s.\n", link.Title)
	return nil
}

func subscriptionsRun(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	link, ok, err := selectSubscription(e, "Subscriptions")
	if err != nil || !ok {
		return err
	}
	src, found := e.sources.Lookup(link.Source)
	if !found {
		if src, found = e.sources.SourceFor(link.Link); !found {
			return media.NewError(media.ErrURL, "no source handles "+link.Link)
		}
	}
	return watchAnime(cmd.Context(), e, src, link, "")
}
