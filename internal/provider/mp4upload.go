package provider

import (
	"context"
	"regexp"

	"github.com/pkg/errors"

	"nineanimator/internal/httputil"
	"nineanimator/internal/media"
)

var mp4uploadSrcRe = regexp.MustCompile(`src\s*:\s*["'](https?://[^"']+\.mp4[^"']*)["']`)

// Mp4Upload resolves mp4upload.com embeds. The page either calls
// player.src({src: "..."}) directly or hides that call in a packed script.
type Mp4Upload struct {
	aliases
	recommendation
	session *httputil.Session
}

func NewMp4Upload(s *httputil.Session) *Mp4Upload {
	return &Mp4Upload{
		aliases:        aliases{"mp4upload", "mp4", "mp4upload.com"},
		recommendation: recommendation{media.Playback, media.Download, media.Cast},
		session:        s,
	}
}

func (p *Mp4Upload) Parse(ctx context.Context, episode *media.Episode, purpose media.Purpose) (*media.PlaybackMedia, error) {
	page, err := p.session.Page(ctx, episode.Target, episode.Referer)
	if err != nil {
		return nil, errors.Wrap(err, "fetching mp4upload page")
	}

	m := mp4uploadSrcRe.FindStringSubmatch(unpackAll(page))
	if m == nil {
		return nil, media.NewError(media.ErrProvider, "mp4upload: video source not found")
	}

	return &media.PlaybackMedia{
		URL:         m[1],
		Link:        episode.Link,
		ContentType: "video/mp4",
		Headers: map[string]string{
			"Referer":    "https://www.mp4upload.com/",
			"User-Agent": httputil.UserAgent,
		},
	}, nil
}
