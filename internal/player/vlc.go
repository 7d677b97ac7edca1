package player

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"nineanimator/internal/media"
)

// VLC implements the Player interface for VLC media player.
type VLC struct{}

func (v *VLC) Name() string { return "vlc" }

func (v *VLC) Available() bool { return available("vlc") }

func vlcArgs(pm *media.PlaybackMedia, opts Options) []string {
	args := []string{
		pm.URL,
		"--meta-title", opts.Title,
		"--play-and-exit",
	}
	if opts.Start > 0 {
		args = append(args, fmt.Sprintf("--start-time=%.0f", opts.Start))
	}
	if ref := pm.Referer(); ref != "" {
		args = append(args, "--http-referrer="+ref)
	}
	if ua := pm.UserAgent(); ua != "" {
		args = append(args, "--http-user-agent="+ua)
	}
	if sub := firstSubtitle(pm, opts.SubFile); sub != "" {
		args = append(args, "--sub-file", sub)
	}
	return args
}

// Play launches VLC. VLC has no IPC position tracking like mpv, so the
// Result is always zero.
func (v *VLC) Play(ctx context.Context, pm *media.PlaybackMedia, opts Options) (Result, error) {
	cmd := exec.CommandContext(ctx, "vlc", vlcArgs(pm, opts)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Run(); !exitedNormally(err) {
		return Result{}, fmt.Errorf("running vlc: %w", err)
	}
	return Result{}, nil
}
