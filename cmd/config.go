package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"nineanimator/internal/backup"
	"nineanimator/internal/config"
	"nineanimator/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Export, import and locate configuration",
}

var configExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write history, progress and subscriptions to a .naconfig file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  configExportRun,
}

var configImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Restore history, progress and subscriptions from a .naconfig file",
	Args:  cobra.ExactArgs(1),
	RunE:  configImportRun,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file and state database locations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, err := config.ConfigPath()
		if err != nil {
			return err
		}
		statePath, err := config.StatePath()
		if err != nil {
			return err
		}
		fmt.Printf("config: %s\nstate:  %s\n", cfgPath, statePath)
		return nil
	},
}

var importPolicy string

func init() {
	configImportCmd.Flags().StringVar(&importPolicy, "policy", "", "How to combine with local state: replace | merge-local | merge-imported")
	configCmd.AddCommand(configExportCmd, configImportCmd, configPathCmd)
}

func configExportRun(cmd *cobra.Command, args []string) error {
	path := "nineanimator-" + time.Now().Format("2006-01-02") + backup.Extension
	if len(args) == 1 {
		path = args[0]
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	written, err := backup.ExportFile(e.store, path)
	if err != nil {
		return err
	}
	fmt.Printf("Exported to %s\n", written)
	return nil
}

func configImportRun(cmd *cobra.Command, args []string) error {
	policy, err := choosePolicy()
	if err != nil {
		return err
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	summary, err := backup.ImportFile(e.store, args[0], policy)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %s (%s): %s\n", args[0], policy, summary)
	return nil
}

// choosePolicy returns the --policy flag, asking when it is unset.
func choosePolicy() (backup.Policy, error) {
	if importPolicy != "" {
		return backup.ParsePolicy(importPolicy)
	}

	policy := backup.MergeLocalFirst
	err := huh.NewSelect[backup.Policy]().
		Title("Combine the imported configuration with local state").
		Options(
			huh.NewOption("Merge, keep local values on conflict", backup.MergeLocalFirst),
			huh.NewOption("Merge, keep imported values on conflict", backup.MergeImportedFirst),
			huh.NewOption("Replace local state", backup.Replace),
		).
		Value(&policy).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return 0, ui.ErrCancelled
	}
	if err != nil {
		return 0, fmt.Errorf("policy prompt: %w", err)
	}
	return policy, nil
}
