package provider

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"nineanimator/internal/httputil"
	"nineanimator/internal/media"
)

// document.getElementById('robotlink').innerHTML = '//host/get_video?id=..&token=' + ('xyzTOKEN').substring(1).substring(2);
var streamtapeLinkRe = regexp.MustCompile(`getElementById\(\s*'robotlink'\s*\)\.innerHTML\s*=\s*'([^']+)'\s*\+\s*\(?\s*'([^']+)'\s*\)?((?:\.substring\(\d+\))*)`)

var substringRe = regexp.MustCompile(`\.substring\((\d+)\)`)

// StreamTape resolves streamtape embeds.
type StreamTape struct {
	aliases
	recommendation
	session *httputil.Session
}

func NewStreamTape(s *httputil.Session) *StreamTape {
	return &StreamTape{
		aliases:        aliases{"streamtape", "stape", "streamtape.com"},
		recommendation: recommendation{media.Playback, media.Download, media.Cast},
		session:        s,
	}
}

func (p *StreamTape) Parse(ctx context.Context, episode *media.Episode, purpose media.Purpose) (*media.PlaybackMedia, error) {
	page, err := p.session.Page(ctx, episode.Target, episode.Referer)
	if err != nil {
		return nil, errors.Wrap(err, "fetching streamtape page")
	}

	m := streamtapeLinkRe.FindStringSubmatch(page)
	if m == nil {
		return nil, media.NewError(media.ErrProvider, "streamtape: robotlink not found")
	}

	tail := m[2]
	for _, sub := range substringRe.FindAllStringSubmatch(m[3], -1) {
		n, _ := strconv.Atoi(sub[1])
		if n > len(tail) {
			n = len(tail)
		}
		tail = tail[n:]
	}

	link := m[1] + tail
	if strings.HasPrefix(link, "//") {
		link = "https:" + link
	}

	return &media.PlaybackMedia{
		URL:         link + "&stream=1",
		Link:        episode.Link,
		ContentType: "video/mp4",
		Headers: map[string]string{
			"Referer":    httputil.Origin(episode.Target) + "/",
			"User-Agent": httputil.UserAgent,
		},
	}, nil
}
