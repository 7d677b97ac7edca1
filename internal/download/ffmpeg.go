package download

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"nineanimator/internal/logging"
	"nineanimator/internal/media"
)

func lookFFmpeg() (string, error) {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return "", fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	return path, nil
}

// fetchHLS remuxes an HLS stream into path with ffmpeg, or hands it to
// yt-dlp when ffmpeg is missing.
func (m *Manager) fetchHLS(ctx context.Context, pm *media.PlaybackMedia, title, subFile, path string, progress func(received, total int64)) error {
	ffmpegPath, err := m.ffmpegPath()
	if err != nil {
		logging.Warn("ffmpeg unavailable, using yt-dlp", "err", err)
		return m.ytdlp(ctx, ytdlpRequest{url: pm.URL, path: path, headers: pm.Headers, progress: progress})
	}

	logging.Debug("running ffmpeg", "output", path, "subtitles", subFile != "")
	if err := m.ffmpeg(ctx, ffmpegPath, ffmpegArgs(pm, title, subFile, path), progress); err != nil {
		os.Remove(path)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func runFFmpeg(ctx context.Context, bin string, args []string, progress func(received, total int64)) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}
	readFFmpegProgress(stdout, progress)

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg download failed: %w: %s", err, lastLine(stderr.String()))
	}
	return nil
}

// ffmpegArgs builds the ffmpeg argument list. The stream is copied without
// re-encoding; a subtitle file, when given, is converted to SRT and mapped
// alongside the first input's video and audio.
func ffmpegArgs(pm *media.PlaybackMedia, title, subFile, outputPath string) []string {
	args := []string{"-y", "-nostats", "-loglevel", "error", "-progress", "pipe:1"}

	if h := ffmpegHeaders(pm.Headers); h != "" {
		args = append(args, "-headers", h)
	}
	args = append(args, "-i", pm.URL)

	if subFile != "" {
		args = append(args, "-i", subFile, "-c:s", "srt")
	}
	args = append(args, "-c:v", "copy", "-c:a", "copy")
	if subFile != "" {
		args = append(args, "-map", "0:v", "-map", "0:a", "-map", "1:s")
	}

	return append(args, "-metadata", "title="+title, outputPath)
}

// ffmpegHeaders renders headers as CRLF-terminated lines in a stable order.
func ffmpegHeaders(headers map[string]string) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\r\n", k, headers[k])
	}
	return b.String()
}

// readFFmpegProgress parses "-progress" key=value output. ffmpeg does not
// know the final size of a live-remuxed stream, so total stays 0.
func readFFmpegProgress(r io.Reader, progress func(received, total int64)) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), "=")
		if !ok || key != "total_size" {
			continue
		}
		if n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil && n > 0 {
			progress(n, 0)
		}
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
