package player

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"nineanimator/internal/logging"
	"nineanimator/internal/media"
)

// MPV plays through mpv and follows the playback position over its JSON IPC
// socket, created at a randomized temp path.
type MPV struct{}

func (m *MPV) Name() string { return "mpv" }

func (m *MPV) Available() bool { return available("mpv") }

// mpvArgs builds the mpv command line. Flags precede the URL.
func mpvArgs(pm *media.PlaybackMedia, opts Options, socketPath string) []string {
	args := []string{
		"--force-media-title=" + opts.Title,
		"--really-quiet",
	}
	if socketPath != "" {
		args = append(args, "--input-ipc-server="+socketPath)
	}
	switch {
	case opts.Start > 0:
		args = append(args, fmt.Sprintf("--start=+%.0f", opts.Start))
	case opts.StartFraction > 0 && opts.StartFraction < 1:
		args = append(args, fmt.Sprintf("--start=%.1f%%", opts.StartFraction*100))
	}
	if ref := pm.Referer(); ref != "" {
		args = append(args, "--referrer="+ref)
	}
	if ua := pm.UserAgent(); ua != "" {
		args = append(args, "--user-agent="+ua)
	}
	if extra := extraHeaders(pm.Headers); len(extra) > 0 {
		// mpv splits this list on commas
		args = append(args, "--http-header-fields="+strings.Join(extra, ","))
	}
	if sub := firstSubtitle(pm, opts.SubFile); sub != "" {
		args = append(args, "--sub-file="+sub)
	}
	return append(args, pm.URL)
}

// Play launches mpv and returns the last position and duration it reported.
func (m *MPV) Play(ctx context.Context, pm *media.PlaybackMedia, opts Options) (Result, error) {
	socketDir, err := os.MkdirTemp("", "nineanimator-mpv-*")
	if err != nil {
		return Result{}, fmt.Errorf("creating temp dir for mpv socket: %w", err)
	}
	defer os.RemoveAll(socketDir)
	socketPath := filepath.Join(socketDir, "socket")

	cmd := exec.CommandContext(ctx, "mpv", mpvArgs(pm, opts, socketPath)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("starting mpv: %w", err)
	}

	tracked := make(chan Result, 1)
	go func() {
		conn, err := dialSocket(socketPath, 5*time.Second)
		if err != nil {
			logging.Debug("mpv IPC unavailable", "err", err)
			tracked <- Result{}
			return
		}
		defer conn.Close()
		if err := observe(conn); err != nil {
			logging.Debug("mpv IPC observe failed", "err", err)
		}
		tracked <- trackPlayback(conn)
	}()

	waitErr := cmd.Wait()

	var res Result
	select {
	case res = <-tracked:
	case <-time.After(2 * time.Second):
		logging.Debug("mpv IPC did not close after exit")
	}

	if !exitedNormally(waitErr) {
		return res, fmt.Errorf("running mpv: %w", waitErr)
	}
	return res, nil
}

func dialSocket(path string, timeout time.Duration) (net.Conn, error) {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.Dial("unix", path)
		if err == nil {
			return conn, nil
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// observe asks mpv to push time-pos and duration changes.
func observe(w io.Writer) error {
	for i, prop := range []string{"time-pos", "duration"} {
		data, err := json.Marshal(map[string]any{
			"command":    []any{"observe_property", i + 1, prop},
			"request_id": 100 + i,
		})
		if err != nil {
			return err
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return err
		}
	}
	return nil
}

// trackPlayback reads property-change events until the connection closes.
func trackPlayback(r io.Reader) Result {
	var res Result
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var event struct {
			Event string   `json:"event"`
			Name  string   `json:"name"`
			Data  *float64 `json:"data"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		if event.Event != "property-change" || event.Data == nil {
			continue
		}
		switch event.Name {
		case "time-pos":
			if *event.Data > 0 {
				res.Position = *event.Data
			}
		case "duration":
			if *event.Data > 0 {
				res.Duration = *event.Data
			}
		}
	}
	return res
}
