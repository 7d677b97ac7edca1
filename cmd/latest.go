package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"nineanimator/internal/ui"
)

var latestCmd = &cobra.Command{
	Use:     "latest",
	Aliases: []string{"recent"},
	Short:   "Browse recently updated anime on the source",
	Args:    cobra.NoArgs,
	RunE:    latestRun,
}

func latestRun(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	src, err := e.source()
	if err != nil {
		return err
	}
	results, err := src.Latest(cmd.Context())
	if err != nil {
		return fmt.Errorf("getting latest: %w", err)
	}

	if len(results) == 0 {
		fmt.Println("No recently updated anime found.")
		return nil
	}

	idx, err := ui.Select("Latest", animeTitles(results))
	if err != nil {
		return err
	}
	return watchAnime(cmd.Context(), e, src, results[idx], "")
}
