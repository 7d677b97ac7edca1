package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"nineanimator/internal/httputil"
	"nineanimator/internal/media"
)

const partSuffix = ".part"

// fetchDirect downloads a plain file into path. Bytes land in path+".part"
// first; an existing part file is resumed with a Range request.
func (m *Manager) fetchDirect(ctx context.Context, pm *media.PlaybackMedia, path string, progress func(received, total int64)) error {
	partPath := path + partSuffix

	var offset int64
	if fi, err := os.Stat(partPath); err == nil {
		offset = fi.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pm.URL, nil)
	if err != nil {
		return media.WrapError(media.ErrURL, err, "creating download request")
	}
	req.Header.Set("User-Agent", httputil.UserAgent)
	for k, v := range pm.Headers {
		req.Header.Set(k, v)
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return media.WrapError(media.ErrResponse, err, "download request failed")
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	var total int64
	switch resp.StatusCode {
	case http.StatusOK:
		// server ignored the range; start over
		offset = 0
		flags |= os.O_TRUNC
		total = resp.ContentLength
	case http.StatusPartialContent:
		flags |= os.O_APPEND
		if resp.ContentLength >= 0 {
			total = offset + resp.ContentLength
		}
	case http.StatusRequestedRangeNotSatisfiable:
		if offset > 0 {
			return os.Rename(partPath, path)
		}
		fallthrough
	default:
		return media.NewError(media.ErrResponse, fmt.Sprintf("unexpected status %d downloading %s", resp.StatusCode, pm.URL))
	}

	f, err := os.OpenFile(partPath, flags, 0644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", partPath, err)
	}

	received := offset
	progress(received, total)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				f.Close()
				return fmt.Errorf("writing %s: %w", partPath, err)
			}
			received += int64(n)
			progress(received, total)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return media.WrapError(media.ErrResponse, readErr, "reading download body")
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", partPath, err)
	}
	if total > 0 && received < total {
		return media.NewError(media.ErrResponse, fmt.Sprintf("download truncated at %d of %d bytes", received, total))
	}
	return os.Rename(partPath, path)
}
