package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the anime sites that can be searched",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		var rows [][]string
		for _, src := range e.sources.Sources() {
			name := src.Name()
			if strings.EqualFold(name, cfg.Source) {
				name += " *"
			}
			rows = append(rows, []string{name, strings.Join(src.Aliases(), ", "), src.Description()})
		}
		fmt.Println(renderTable([]string{"Source", "Aliases", "Description"}, rows))
		return nil
	},
}
