package player

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"nineanimator/internal/media"
)

// Generic implements the Player interface for players like iina and celluloid
// that accept mpv-compatible arguments.
type Generic struct {
	name string
}

func (g *Generic) Name() string { return g.name }

func (g *Generic) Available() bool { return available(g.name) }

// Play launches the player with mpv-style flags. Position tracking is not
// supported.
func (g *Generic) Play(ctx context.Context, pm *media.PlaybackMedia, opts Options) (Result, error) {
	cmd := exec.CommandContext(ctx, g.name, mpvArgs(pm, opts, "")...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Run(); !exitedNormally(err) {
		return Result{}, fmt.Errorf("running %s: %w", g.name, err)
	}
	return Result{}, nil
}
