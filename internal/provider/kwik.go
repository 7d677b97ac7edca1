package provider

import (
	"context"
	"regexp"

	"github.com/pkg/errors"

	"nineanimator/internal/httputil"
	"nineanimator/internal/media"
)

var kwikSourceRe = regexp.MustCompile(`source\s*=\s*['"](https?://[^'"]+\.m3u8[^'"]*)['"]`)

// Kwik resolves kwik.cx embeds, the player animepahe links to.
type Kwik struct {
	aliases
	recommendation
	session *httputil.Session
}

// NewKwik creates a Kwik parser.
func NewKwik(s *httputil.Session) *Kwik {
	return &Kwik{
		aliases:        aliases{"kwik", "kwik.cx", "kwik.si", "animepahe"},
		recommendation: recommendation{media.Playback, media.Cast},
		session:        s,
	}
}

func (k *Kwik) Parse(ctx context.Context, episode *media.Episode, purpose media.Purpose) (*media.PlaybackMedia, error) {
	referer := episode.Referer
	if referer == "" {
		referer = "https://animepahe.ru/"
	}

	page, err := k.session.Page(ctx, episode.Target, referer)
	if err != nil {
		return nil, errors.Wrap(err, "fetching kwik page")
	}

	script, err := unpack(page)
	if err != nil {
		return nil, errors.Wrap(err, "unpacking kwik player")
	}

	m := kwikSourceRe.FindStringSubmatch(script)
	if m == nil {
		return nil, media.NewError(media.ErrProvider, "kwik: no stream source in player script")
	}

	return &media.PlaybackMedia{
		URL:         m[1],
		Link:        episode.Link,
		ContentType: "application/vnd.apple.mpegurl",
		Aggregated:  true,
		Headers: map[string]string{
			"Referer":    httputil.Origin(episode.Target) + "/",
			"User-Agent": httputil.UserAgent,
		},
	}, nil
}
