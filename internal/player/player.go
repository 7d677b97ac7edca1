// Package player launches external media players on resolved episodes.
// Players run through exec.Command with explicit argument slices, and the
// media's request headers are passed with each player's own flags.
package player

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"nineanimator/internal/media"
)

// Options describes one playback.
type Options struct {
	Title   string
	Start   float64 // seconds; 0 plays from the beginning
	SubFile string  // local subtitle file, overrides the media's tracks

	// StartFraction is used when Start is 0, for progress whose duration
	// was never seen by this player. Players that only seek by seconds
	// ignore it.
	StartFraction float64
}

// Result is where playback stopped. Players without position tracking
// return the zero Result.
type Result struct {
	Position float64
	Duration float64
}

// Fraction returns Position/Duration, or 0 when the duration is unknown.
func (r Result) Fraction() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return r.Position / r.Duration
}

// Tracked reports whether the player reported a position.
func (r Result) Tracked() bool { return r.Duration > 0 }

// Player is the interface for media player implementations.
type Player interface {
	// Play blocks until the player exits.
	Play(ctx context.Context, pm *media.PlaybackMedia, opts Options) (Result, error)

	Name() string

	// Available checks if the player binary exists in PATH.
	Available() bool
}

// Names lists the players New accepts.
var Names = []string{"mpv", "vlc", "iina", "celluloid"}

// New creates a player by name. An empty name selects mpv.
func New(name string) (Player, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "", "mpv":
		return &MPV{}, nil
	case "vlc":
		return &VLC{}, nil
	case "iina", "celluloid":
		return &Generic{name: key}, nil
	default:
		return nil, media.NewError(media.ErrArgument,
			fmt.Sprintf("unknown player %q (want one of %s)", name, strings.Join(Names, ", ")))
	}
}

func available(bin string) bool {
	_, err := exec.LookPath(bin)
	return err == nil
}

// extraHeaders returns headers other than Referer and User-Agent as
// "Key: value" strings in a stable order.
func extraHeaders(headers map[string]string) []string {
	var out []string
	for k, v := range headers {
		switch strings.ToLower(k) {
		case "referer", "user-agent":
			continue
		}
		out = append(out, k+": "+v)
	}
	sort.Strings(out)
	return out
}

// firstSubtitle picks the track to load when no local file was given.
func firstSubtitle(pm *media.PlaybackMedia, subFile string) string {
	if subFile != "" {
		return subFile
	}
	for _, sub := range pm.Subtitles {
		if sub.URL != "" {
			return sub.URL
		}
	}
	return ""
}

// exitedNormally treats a non-zero exit as a user quit; most players exit
// that way when the window is closed.
func exitedNormally(err error) bool {
	if err == nil {
		return true
	}
	_, ok := err.(*exec.ExitError)
	return ok
}
