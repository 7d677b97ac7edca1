package provider

import (
	"context"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"nineanimator/internal/httputil"
	"nineanimator/internal/media"
)

var (
	doodPassRe    = regexp.MustCompile(`/pass_md5/[^'"]+`)
	doodQualityRe = regexp.MustCompile(`\d{3,4}p`)
)

const doodAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// DoodStream resolves dood.* embeds. The player asks /pass_md5/ for a URL
// prefix and appends ten random characters plus the token from that path.
type DoodStream struct {
	aliases
	recommendation
	session *httputil.Session
	now     func() time.Time
}

func NewDoodStream(s *httputil.Session) *DoodStream {
	return &DoodStream{
		aliases:        aliases{"dood", "doodstream", "dood.watch", "d000d", "ds2play"},
		recommendation: recommendation{media.Playback, media.Download},
		session:        s,
		now:            time.Now,
	}
}

func (d *DoodStream) Parse(ctx context.Context, episode *media.Episode, purpose media.Purpose) (*media.PlaybackMedia, error) {
	resp, err := d.session.Fetch(ctx, episode.Target, httputil.Header{"Referer": episode.Referer})
	if err != nil {
		return nil, errors.Wrap(err, "fetching doodstream page")
	}
	page := resp.Text()

	// dood redirects between mirror domains; the pass endpoint lives on the final one
	host := httputil.Origin(resp.URL)
	pass := doodPassRe.FindString(page)
	if pass == "" {
		return nil, media.NewError(media.ErrProvider, "doodstream: pass_md5 path not found")
	}

	prefix, err := d.session.Page(ctx, host+pass, resp.URL)
	if err != nil {
		return nil, errors.Wrap(err, "fetching doodstream pass")
	}
	prefix = strings.TrimSpace(prefix)
	if !strings.HasPrefix(prefix, "http") {
		return nil, media.NewError(media.ErrContentUnavailable, "doodstream: video is no longer available")
	}

	token := pass[strings.LastIndex(pass, "/")+1:]
	u := prefix + randomString(10) + "?token=" + token + "&expiry=" + strconv.FormatInt(d.now().UnixMilli(), 10)

	return &media.PlaybackMedia{
		URL:         u,
		Link:        episode.Link,
		ContentType: "video/mp4",
		Quality:     doodQualityRe.FindString(page),
		Headers: map[string]string{
			"Referer":    host + "/",
			"User-Agent": httputil.UserAgent,
		},
	}, nil
}

func randomString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = doodAlphabet[rand.IntN(len(doodAlphabet))]
	}
	return string(b)
}
