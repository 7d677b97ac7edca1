package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nineanimator/internal/media"
)

var openCmd = &cobra.Command{
	Use:   "open <url>",
	Short: "Open an anime or episode page copied from a supported site",
	Args:  cobra.ExactArgs(1),
	RunE:  openRun,
}

func openRun(cmd *cobra.Command, args []string) error {
	rawURL := strings.TrimSpace(args[0])

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	src, ok := e.sources.SourceFor(rawURL)
	if !ok {
		return media.NewError(media.ErrURL, fmt.Sprintf("no source handles %s (available: %v)", rawURL, e.sources.Names()))
	}
	link, err := src.Link(cmd.Context(), rawURL)
	if err != nil {
		return err
	}

	switch l := link.(type) {
	case media.AnimeLink:
		return watchAnime(cmd.Context(), e, src, l, "")
	case media.EpisodeLink:
		if cfg.Server == "" && l.Server != "" {
			cfg.Server = string(l.Server)
		}
		return watchAnime(cmd.Context(), e, src, l.Parent, l.Identifier)
	default:
		return fmt.Errorf("%s returned an unexpected link type %T", src.Name(), link)
	}
}
