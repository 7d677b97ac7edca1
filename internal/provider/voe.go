package provider

import (
	"context"
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"nineanimator/internal/httputil"
	"nineanimator/internal/media"
)

var (
	voeRedirectRe = regexp.MustCompile(`window\.location\.href\s*=\s*'(https://[^']+)'`)
	voeSourceRe   = regexp.MustCompile(`['"](hls|mp4)['"]\s*:\s*['"]([^'"]+)['"]`)
)

// VOE resolves voe.sx embeds. The landing page usually bounces to a mirror
// through window.location.href; the mirror lists 'hls' and 'mp4' sources,
// sometimes base64 encoded.
type VOE struct {
	aliases
	recommendation
	session *httputil.Session
}

func NewVOE(s *httputil.Session) *VOE {
	return &VOE{
		aliases:        aliases{"voe", "voe.sx"},
		recommendation: recommendation{media.Playback},
		session:        s,
	}
}

func (v *VOE) Parse(ctx context.Context, episode *media.Episode, purpose media.Purpose) (*media.PlaybackMedia, error) {
	pageURL := episode.Target
	page, err := v.session.Page(ctx, pageURL, episode.Referer)
	if err != nil {
		return nil, errors.Wrap(err, "fetching voe page")
	}

	if m := voeRedirectRe.FindStringSubmatch(page); m != nil {
		pageURL = m[1]
		if page, err = v.session.Page(ctx, pageURL, episode.Target); err != nil {
			return nil, errors.Wrap(err, "following voe redirect")
		}
	}

	sources := map[string]string{}
	for _, m := range voeSourceRe.FindAllStringSubmatch(page, -1) {
		if _, seen := sources[m[1]]; !seen {
			sources[m[1]] = decodeMaybeBase64(m[2])
		}
	}

	// HLS plays better but direct mp4 is what downloads want
	order := []string{"hls", "mp4"}
	if purpose == media.Download {
		order = []string{"mp4", "hls"}
	}
	for _, kind := range order {
		src, ok := sources[kind]
		if !ok || !strings.HasPrefix(src, "http") {
			continue
		}
		pm := &media.PlaybackMedia{
			URL:         src,
			Link:        episode.Link,
			ContentType: "video/mp4",
			Aggregated:  kind == "hls",
			Headers: map[string]string{
				"Referer":    httputil.Origin(pageURL) + "/",
				"User-Agent": httputil.UserAgent,
			},
		}
		if pm.Aggregated {
			pm.ContentType = "application/vnd.apple.mpegurl"
		}
		return pm, nil
	}

	return nil, media.NewError(media.ErrProvider, "voe: no playable source found")
}

func decodeMaybeBase64(s string) string {
	if strings.HasPrefix(s, "http") {
		return s
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return string(b)
		}
	}
	return s
}
