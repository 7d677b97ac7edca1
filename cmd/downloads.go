package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"nineanimator/internal/download"
)

var downloadsCmd = &cobra.Command{
	Use:   "downloads",
	Short: "List offline episodes",
	Args:  cobra.NoArgs,
	RunE:  downloadsRun,
}

var downloadsRemoveCmd = &cobra.Command{
	Use:   "remove <episode-id>",
	Short: "Delete an offline episode and its task",
	Args:  cobra.ExactArgs(1),
	RunE:  downloadsRemoveRun,
}

func init() {
	downloadsCmd.AddCommand(downloadsRemoveCmd)
}

func openManager(e *env) (*download.Manager, error) {
	dir, err := cfg.ExpandDownloadDir()
	if err != nil {
		return nil, fmt.Errorf("resolving download dir: %w", err)
	}
	return download.NewManager(e.store, e.providers, download.WithDir(dir))
}

func downloadsRun(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	mgr, err := openManager(e)
	if err != nil {
		return err
	}
	tasks, err := mgr.Tasks()
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No downloads.")
		return nil
	}

	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, []string{t.EpisodeID, t.Title, taskStatus(t), humanize.Time(t.Updated), t.Path})
	}
	fmt.Println(renderTable([]string{"Episode", "Title", "Status", "Updated", "Path"}, rows))
	return nil
}

// taskStatus describes a task's state and size, e.g. "ready 350 MB" or
// "interrupted 12 MB / 350 MB".
func taskStatus(t download.Task) string {
	switch {
	case t.State == download.Ready:
		return fmt.Sprintf("%s %s", t.State, humanize.Bytes(uint64(t.Received)))
	case t.State == download.Failed && t.Error != "":
		return fmt.Sprintf("%s: %s", t.State, t.Error)
	case t.Total > 0:
		return fmt.Sprintf("%s %s / %s", t.State, humanize.Bytes(uint64(t.Received)), humanize.Bytes(uint64(t.Total)))
	case t.Received > 0:
		return fmt.Sprintf("%s %s", t.State, humanize.Bytes(uint64(t.Received)))
	default:
		return string(t.State)
	}
}

func downloadsRemoveRun(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	mgr, err := openManager(e)
	if err != nil {
		return err
	}
	if err := mgr.Remove(args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", args[0])
	return nil
}

