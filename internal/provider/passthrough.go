package provider

import (
	"context"
	"fmt"

	"nineanimator/internal/httputil"
	"nineanimator/internal/media"
)

// Passthrough treats the episode target as the media itself.
type Passthrough struct {
	aliases
	recommendation
}

func NewPassthrough() *Passthrough {
	return &Passthrough{
		aliases:        aliases{"passthrough", "direct"},
		recommendation: recommendation{media.Playback, media.Download, media.Cast},
	}
}

func (p *Passthrough) Parse(ctx context.Context, episode *media.Episode, purpose media.Purpose) (*media.PlaybackMedia, error) {
	if err := httputil.ValidateURL(episode.Target); err != nil {
		return nil, media.WrapError(media.ErrURL, err, "passthrough target")
	}
	m := &media.PlaybackMedia{
		URL:  episode.Target,
		Link: episode.Link,
	}
	if episode.Referer != "" {
		m.Headers = map[string]string{"Referer": episode.Referer}
	}
	m.Aggregated = m.IsHLS()
	return m, nil
}

// Dummy stands in for servers that are known but cannot be resolved.
// It recommends nothing and always fails.
type Dummy struct {
	aliases
}

func NewDummy() *Dummy {
	return &Dummy{aliases: aliases{"dummy", "unsupported"}}
}

func (d *Dummy) Parse(ctx context.Context, episode *media.Episode, purpose media.Purpose) (*media.PlaybackMedia, error) {
	return nil, media.NewError(media.ErrProvider, fmt.Sprintf("server %q is not supported", episode.Link.Server))
}

func (d *Dummy) IsRecommended(media.Purpose) bool { return false }
