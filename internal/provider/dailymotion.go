package provider

import (
	"context"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"nineanimator/internal/httputil"
	"nineanimator/internal/media"
)

const dailymotionMetadataURL = "https://www.dailymotion.com/player/metadata/video/"

// Dailymotion resolves dailymotion embeds through the player metadata API.
type Dailymotion struct {
	aliases
	recommendation
	session     *httputil.Session
	metadataURL string
}

func NewDailymotion(s *httputil.Session) *Dailymotion {
	return &Dailymotion{
		aliases:        aliases{"dailymotion", "dm", "dailymotion.com"},
		recommendation: recommendation{media.Playback, media.Cast},
		session:        s,
		metadataURL:    dailymotionMetadataURL,
	}
}

type dailymotionMetadata struct {
	Title     string `json:"title"`
	Qualities map[string][]struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"qualities"`
	Error *struct {
		Title string `json:"title"`
	} `json:"error"`
}

func (d *Dailymotion) Parse(ctx context.Context, episode *media.Episode, purpose media.Purpose) (*media.PlaybackMedia, error) {
	id := dailymotionID(episode.Target)
	if id == "" {
		return nil, media.NewError(media.ErrURL, "dailymotion: no video id in "+episode.Target)
	}

	var meta dailymotionMetadata
	if err := d.session.JSON(ctx, d.metadataURL+url.PathEscape(id), episode.Target, &meta); err != nil {
		return nil, errors.Wrap(err, "fetching dailymotion metadata")
	}
	if meta.Error != nil {
		return nil, media.NewError(media.ErrContentUnavailable, "dailymotion: "+meta.Error.Title)
	}

	auto := meta.Qualities["auto"]
	if len(auto) == 0 || auto[0].URL == "" {
		return nil, media.NewError(media.ErrProvider, "dailymotion: no auto quality stream")
	}

	return &media.PlaybackMedia{
		URL:         auto[0].URL,
		Link:        episode.Link,
		ContentType: auto[0].Type,
		Aggregated:  true,
		Headers: map[string]string{
			"Referer":    "https://www.dailymotion.com/",
			"User-Agent": httputil.UserAgent,
		},
	}, nil
}

// dailymotionID extracts the video id from /video/<id> or /embed/video/<id>.
func dailymotionID(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "video" {
			return strings.SplitN(parts[i+1], "_", 2)[0]
		}
	}
	if v := u.Query().Get("video"); v != "" {
		return v
	}
	return ""
}
