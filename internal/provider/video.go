package provider

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"

	"nineanimator/internal/httputil"
	"nineanimator/internal/media"
)

// VideoObject handles hosts that embed a plain HTML5 <video> element.
type VideoObject struct {
	aliases
	recommendation
	session *httputil.Session
}

func NewVideoObject(s *httputil.Session) *VideoObject {
	return &VideoObject{
		aliases:        aliases{"html5", "video", "videoobject"},
		recommendation: recommendation{media.Playback, media.Download},
		session:        s,
	}
}

func (v *VideoObject) Parse(ctx context.Context, episode *media.Episode, purpose media.Purpose) (*media.PlaybackMedia, error) {
	doc, err := v.session.Document(ctx, episode.Target, episode.Referer)
	if err != nil {
		return nil, errors.Wrap(err, "fetching video page")
	}

	src, contentType := findVideoSource(doc)
	if src == "" {
		return nil, media.NewError(media.ErrProvider, "no <video> source on page")
	}
	src = httputil.Resolve(episode.Target, src)

	m := &media.PlaybackMedia{
		URL:         src,
		Link:        episode.Link,
		ContentType: contentType,
		Headers: map[string]string{
			"Referer":    episode.Target,
			"User-Agent": httputil.UserAgent,
		},
	}
	m.Aggregated = m.IsHLS()
	return m, nil
}

func findVideoSource(doc *goquery.Document) (src, contentType string) {
	doc.Find("video").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, ok := s.Attr("src"); ok && strings.TrimSpace(v) != "" {
			src = strings.TrimSpace(v)
			contentType, _ = s.Attr("type")
			return false
		}
		s.Find("source").EachWithBreak(func(_ int, source *goquery.Selection) bool {
			if v, ok := source.Attr("src"); ok && strings.TrimSpace(v) != "" {
				src = strings.TrimSpace(v)
				contentType, _ = source.Attr("type")
				return false
			}
			return true
		})
		return src == ""
	})
	return src, contentType
}
