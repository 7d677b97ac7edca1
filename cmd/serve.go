package cmd

import (
	"github.com/spf13/cobra"

	"nineanimator/internal/api"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve providers, search and playback progress over HTTP",
	Long: `Serve exposes the provider registry, the sources and playback progress as a
JSON API so another device can resolve episodes and pick up where this one stopped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		addr := cfg.APIAddr
		if serveAddr != "" {
			addr = serveAddr
		}
		return api.NewServer(e.providers, e.sources, e.store).Serve(cmd.Context(), addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: api_addr from the config)")
}
