// Package cmd implements the CLI commands using Cobra.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"nineanimator/internal/config"
	"nineanimator/internal/history"
	"nineanimator/internal/httputil"
	"nineanimator/internal/logging"
	"nineanimator/internal/media"
	"nineanimator/internal/provider"
	"nineanimator/internal/source"
	"nineanimator/internal/store"
)

// Global flags
var (
	flagSource   string
	flagServer   string
	flagQuality  string
	flagPlayer   string
	flagPurpose  string
	flagDownload string
	flagLanguage string
	flagNoSubs   bool
	flagContinue bool
	flagJSON     bool
	flagDebug    bool
)

// downloadToConfigDir is the value of a bare --download.
const downloadToConfigDir = "\x00config"

// cfg holds the loaded configuration (merged: defaults < config file < flags).
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "nineanimator [query]",
	Short: "Watch and download anime from the terminal",
	Long: `NineAnimator searches anime sites, resolves the streaming servers they embed
into direct media, and plays them with mpv/vlc or saves them for offline viewing.
Playback progress is kept between sessions and can be moved to another device.`,
	Args:              cobra.ArbitraryArgs,
	PersistentPreRunE: loadConfig,
	RunE:              searchRun,
	SilenceUsage:      true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&flagSource, "source", "s", "", "Anime site to search: animepahe | gogoanime")
	flags.StringVar(&flagServer, "server", "", "Streaming server to use instead of asking")
	flags.StringVarP(&flagQuality, "quality", "q", "", "Video quality: 360 | 480 | 720 | 1080")
	flags.StringVar(&flagPlayer, "player", "", "Media player: mpv | vlc | iina | celluloid")
	flags.StringVar(&flagPurpose, "purpose", "", "Servers to prefer: playback | download | cast")
	flags.StringVarP(&flagDownload, "download", "d", "", "Download instead of playing, to download_dir or --download=DIR")
	flags.Lookup("download").NoOptDefVal = downloadToConfigDir
	flags.StringVarP(&flagLanguage, "language", "l", "", "Subtitle language (default: english)")
	flags.BoolVarP(&flagNoSubs, "no-subs", "n", false, "Disable subtitles")
	flags.BoolVarP(&flagContinue, "continue", "c", false, "Resume from the saved position without asking")
	flags.BoolVarP(&flagJSON, "json", "j", false, "Print the resolved media as JSON instead of playing")
	flags.BoolVarP(&flagDebug, "debug", "x", false, "Debug logging to stderr")

	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(continueCmd)
	rootCmd.AddCommand(latestCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(subscribeCmd)
	rootCmd.AddCommand(unsubscribeCmd)
	rootCmd.AddCommand(subscriptionsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(downloadsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads and merges configuration: defaults < config file < CLI flags.
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyFlags(cfg)

	// Re-validate after flag overrides
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Init(cfg.Debug)
	return nil
}

// applyFlags copies the flags the user set over c.
func applyFlags(c *config.Config) {
	if flagSource != "" {
		c.Source = flagSource
	}
	if flagServer != "" {
		c.Server = flagServer
	}
	if flagPlayer != "" {
		c.Player = flagPlayer
	}
	if flagQuality != "" {
		c.Quality = flagQuality
	}
	if flagPurpose != "" {
		c.Purpose = flagPurpose
	}
	if flagLanguage != "" {
		c.SubsLanguage = flagLanguage
	}
	if flagDownload != "" && flagDownload != downloadToConfigDir {
		c.DownloadDir = flagDownload
	}
	if flagDebug {
		c.Debug = true
	}
}

// downloading reports whether episodes are saved instead of played.
func downloading() bool { return flagDownload != "" }

// purpose is the purpose servers are recommended and resolved for.
func purpose() media.Purpose {
	if downloading() {
		return media.Download
	}
	return cfg.PlaybackPurpose()
}

// env is everything a command needs to reach sites and local state.
type env struct {
	session   *httputil.Session
	providers *provider.Registry
	sources   *source.Registry
	store     *store.Store
	history   *history.Recorder
}

func openEnv() (*env, error) {
	path, err := config.StatePath()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening state: %w", err)
	}

	session := httputil.NewSession(httputil.WithCacheTTL(cfg.CacheTTL.Duration))
	providers := provider.NewDefault(session)
	return &env{
		session:   session,
		providers: providers,
		sources:   source.NewDefault(session, providers),
		store:     st,
		history:   history.New(st, cfg.History),
	}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		logging.Warn("closing state", "err", err)
	}
}

// source returns the configured source.
func (e *env) source() (source.Source, error) {
	src, ok := e.sources.Lookup(cfg.Source)
	if !ok {
		return nil, media.NewError(media.ErrArgument,
			fmt.Sprintf("unknown source %q (available: %v)", cfg.Source, e.sources.Names()))
	}
	return src, nil
}
