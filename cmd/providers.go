package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"nineanimator/internal/media"
	"nineanimator/internal/provider"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the streaming servers that can be resolved",
	Args:  cobra.NoArgs,
	RunE:  providersRun,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <server> <url>",
	Short: "Resolve an embed URL with a server's parser",
	Long: `Resolve runs the parser registered for server on an embed page URL and prints
the direct media. Use --purpose to resolve for download or cast.`,
	Args: cobra.ExactArgs(2),
	RunE: resolveRun,
}

var resolveReferer string

func init() {
	resolveCmd.Flags().StringVar(&resolveReferer, "referer", "", "Referer of the embed page")
	providersCmd.AddCommand(resolveCmd)
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func renderTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...).
		String()
}

func providersRun(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	rows := make([][]string, 0)
	for _, entry := range e.providers.Entries() {
		var recommended []string
		for _, p := range media.AllPurposes {
			if entry.Parser.IsRecommended(p) {
				recommended = append(recommended, p.String())
			}
		}
		rows = append(rows, []string{
			entry.Name,
			provider.TypeName(entry.Parser),
			strings.Join(entry.Parser.Aliases(), ", "),
			strings.Join(recommended, ", "),
		})
	}
	fmt.Println(renderTable([]string{"Server", "Parser", "Aliases", "Recommended for"}, rows))
	return nil
}

func resolveRun(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	episode := &media.Episode{
		Link:    media.EpisodeLink{Identifier: args[1], Server: media.ServerID(args[0])},
		Target:  args[1],
		Referer: resolveReferer,
	}
	if cfg.Quality != "" {
		episode.UserInfo = map[string]string{"quality": cfg.Quality}
	}
	pm, err := e.providers.Resolve(cmd.Context(), args[0], episode, purpose())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(pm)
}
