// Package ui provides the interactive prompts. Selection goes through fzf
// when it is installed and falls back to an in-process fuzzy finder. Items
// are piped to fzf via stdin as plain text; no preview strings or commands
// built from remote data are ever evaluated.
package ui

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/ktr0731/go-fuzzyfinder"
)

// ErrCancelled is returned when the user dismisses a prompt.
var ErrCancelled = errors.New("selection cancelled")

// Select presents items to the user and returns the selected item's index.
func Select(prompt string, items []string) (int, error) {
	if len(items) == 0 {
		return -1, fmt.Errorf("no items to select from")
	}

	fzfPath, err := exec.LookPath("fzf")
	if err != nil {
		return selectBuiltin(prompt, items)
	}
	return selectFzf(fzfPath, prompt, items)
}

func selectFzf(fzfPath, prompt string, items []string) (int, error) {
	cmd := exec.Command(fzfPath,
		"--prompt", prompt+" > ",
		"--height", "40%",
		"--reverse",
		"--with-nth", "2..", // hide the index column
		"--delimiter", "\t",
		"--no-multi",
		"--cycle",
	)
	cmd.Stdin = strings.NewReader(fzfInput(items))
	cmd.Stderr = os.Stderr

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 130 {
			return -1, ErrCancelled
		}
		return -1, fmt.Errorf("fzf failed: %w", err)
	}
	return parseSelection(stdout.String(), len(items))
}

// fzfInput numbers items so the selection maps back to an index even when
// two items render the same.
func fzfInput(items []string) string {
	var input strings.Builder
	for i, item := range items {
		item = strings.NewReplacer("\n", " ", "\t", " ").Replace(item)
		fmt.Fprintf(&input, "%d\t%s\n", i, item)
	}
	return input.String()
}

func parseSelection(out string, n int) (int, error) {
	selected := strings.TrimSpace(out)
	if selected == "" {
		return -1, fmt.Errorf("no selection made")
	}
	field, _, _ := strings.Cut(selected, "\t")

	var idx int
	if _, err := fmt.Sscanf(field, "%d", &idx); err != nil {
		return -1, fmt.Errorf("parsing selection index: %w", err)
	}
	if idx < 0 || idx >= n {
		return -1, fmt.Errorf("selection index %d out of range", idx)
	}
	return idx, nil
}

func selectBuiltin(prompt string, items []string) (int, error) {
	idx, err := fuzzyfinder.Find(
		items,
		func(i int) string { return items[i] },
		fuzzyfinder.WithPromptString(prompt+" > "),
	)
	if errors.Is(err, fuzzyfinder.ErrAbort) {
		return -1, ErrCancelled
	}
	if err != nil {
		return -1, fmt.Errorf("fuzzy finder failed: %w", err)
	}
	return idx, nil
}

// Confirm asks the user a yes/no question.
func Confirm(prompt string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title(prompt).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, ErrCancelled
	}
	if err != nil {
		return false, fmt.Errorf("confirm prompt: %w", err)
	}
	return ok, nil
}

// Input prompts the user for free-text input.
func Input(prompt string) (string, error) {
	var value string
	err := huh.NewInput().
		Title(prompt).
		Value(&value).
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("enter a value")
			}
			return nil
		}).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return "", ErrCancelled
	}
	if err != nil {
		return "", fmt.Errorf("input prompt: %w", err)
	}
	return strings.TrimSpace(value), nil
}
