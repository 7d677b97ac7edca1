package download

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

type ytdlpRequest struct {
	url      string
	path     string
	headers  map[string]string
	progress func(received, total int64)
}

var (
	installOnce sync.Once
	installErr  error
)

func runYtDlp(ctx context.Context, req ytdlpRequest) error {
	installOnce.Do(func() {
		_, installErr = ytdlp.Install(ctx, nil)
	})
	if installErr != nil {
		return fmt.Errorf("failed to install yt-dlp: %w", installErr)
	}

	dl := ytdlp.New().
		Output(req.path).
		Format("best[ext=mp4]/best").
		NoPart().
		FragmentRetries("5").
		Retries("5").
		SocketTimeout(30)
	for k, v := range req.headers {
		dl.AddHeaders(k + ":" + v)
	}

	var received, lastBytes int64
	var lastFile string
	dl.ProgressFunc(500*time.Millisecond, func(update ytdlp.ProgressUpdate) {
		if update.Status == ytdlp.ProgressStatusPostProcessing ||
			update.Status == ytdlp.ProgressStatusFinished {
			return
		}
		// fragments of separate files restart their byte counters
		if update.Filename != "" && update.Filename != lastFile {
			lastFile = update.Filename
			lastBytes = 0
		}
		downloaded := int64(update.DownloadedBytes)
		if delta := downloaded - lastBytes; delta > 0 {
			received += delta
			lastBytes = downloaded
		}
		req.progress(received, int64(update.TotalBytes))
	})

	if _, err := dl.Run(ctx, req.url); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("yt-dlp download failed: %w", err)
	}
	return nil
}
