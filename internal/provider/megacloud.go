package provider

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"nineanimator/internal/httputil"
	"nineanimator/internal/media"
)

const megacloudKeysURL = "https://raw.githubusercontent.com/yogesh-hacker/MegacloudKeys/refs/heads/main/keys.json"

var embedPrefixRe = regexp.MustCompile(`^embed-\d+$`)

// MegaCloud resolves MegaCloud/VidCloud/RapidCloud embeds used by the
// HiAnime family of sources. Set episode.UserInfo["quality"] to prefer a
// resolution when several sources are returned.
type MegaCloud struct {
	aliases
	recommendation
	session *httputil.Session
	keysURL string

	keysMu sync.Mutex
	keys   map[string]string
}

func NewMegaCloud(s *httputil.Session) *MegaCloud {
	return &MegaCloud{
		aliases:        aliases{"megacloud", "vidcloud", "upcloud", "rapidcloud", "hd-1", "hd-2"},
		recommendation: recommendation{media.Playback},
		session:        s,
		keysURL:        megacloudKeysURL,
	}
}

type megacloudSources struct {
	Sources   json.RawMessage  `json:"sources"`
	Tracks    []megacloudTrack `json:"tracks"`
	Encrypted bool             `json:"encrypted"`
}

type megacloudTrack struct {
	File  string `json:"file"`
	Label string `json:"label"`
	Kind  string `json:"kind"`
}

type megacloudSource struct {
	File string `json:"file"`
	Type string `json:"type"`
}

func (m *MegaCloud) Parse(ctx context.Context, episode *media.Episode, purpose media.Purpose) (*media.PlaybackMedia, error) {
	host, prefix, id, err := parseEmbedURL(episode.Target)
	if err != nil {
		return nil, err
	}
	base := fmt.Sprintf("https://%s/%s/v3/e-1/", host, prefix)

	referer := episode.Referer
	if referer == "" {
		referer = httputil.Origin(episode.Target) + "/"
	}
	page, err := m.session.Page(ctx, base+url.PathEscape(id)+"?z=", referer)
	if err != nil {
		return nil, errors.Wrap(err, "fetching megacloud embed page")
	}

	clientKey, err := extractClientKey(page)
	if err != nil {
		return nil, err
	}

	var resp megacloudSources
	sourcesURL := base + "getSources?id=" + url.QueryEscape(id) + "&_k=" + url.QueryEscape(clientKey)
	if err := m.session.JSON(ctx, sourcesURL, episode.Target, &resp); err != nil {
		return nil, errors.Wrap(err, "fetching megacloud sources")
	}

	sources, err := m.decodeSources(ctx, resp, clientKey)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, media.NewError(media.ErrContentUnavailable, "megacloud: no sources")
	}

	quality := episode.UserInfo["quality"]
	chosen := sources[0].File
	for _, s := range sources {
		if quality != "" && strings.Contains(s.File, quality) {
			chosen = s.File
			break
		}
	}

	var subs []media.Subtitle
	for _, t := range resp.Tracks {
		if t.Kind != "captions" || t.File == "" {
			continue
		}
		subs = append(subs, media.Subtitle{Language: t.Label, Label: t.Label, URL: t.File})
	}

	return &media.PlaybackMedia{
		URL:         chosen,
		Link:        episode.Link,
		ContentType: "application/vnd.apple.mpegurl",
		Aggregated:  true,
		Subtitles:   subs,
		Quality:     quality,
		Headers: map[string]string{
			"Referer":    "https://" + host + "/",
			"User-Agent": httputil.UserAgent,
		},
	}, nil
}

func (m *MegaCloud) decodeSources(ctx context.Context, resp megacloudSources, clientKey string) ([]megacloudSource, error) {
	var sources []megacloudSource
	if !resp.Encrypted {
		if err := json.Unmarshal(resp.Sources, &sources); err != nil {
			return nil, media.WrapError(media.ErrDecode, err, "megacloud: plaintext sources")
		}
		return sources, nil
	}

	var encrypted string
	if err := json.Unmarshal(resp.Sources, &encrypted); err != nil {
		return nil, media.WrapError(media.ErrDecode, err, "megacloud: encrypted sources")
	}
	megaKey, err := m.megaKey(ctx)
	if err != nil {
		return nil, err
	}
	plain, err := decryptSources(encrypted, clientKey, megaKey)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(plain), &sources); err != nil {
		return nil, media.WrapError(media.ErrDecode, err, "megacloud: decrypted sources")
	}
	return sources, nil
}

// megaKey fetches the published decryption key once per parser.
func (m *MegaCloud) megaKey(ctx context.Context) (string, error) {
	m.keysMu.Lock()
	defer m.keysMu.Unlock()

	if key, ok := m.keys["mega"]; ok {
		return key, nil
	}

	var keys map[string]string
	if err := m.session.JSON(ctx, m.keysURL, "", &keys); err != nil {
		return "", errors.Wrap(err, "fetching megacloud keys")
	}
	key, ok := keys["mega"]
	if !ok {
		return "", media.NewError(media.ErrDecode, "megacloud: mega key missing from key list")
	}
	m.keys = keys
	return key, nil
}

// parseEmbedURL splits https://host/embed-2/v3/e-1/ID?z= into its parts.
func parseEmbedURL(embedURL string) (host, prefix, id string, err error) {
	if err := httputil.ValidateURL(embedURL); err != nil {
		return "", "", "", media.WrapError(media.ErrURL, err, "megacloud embed")
	}
	u, _ := url.Parse(embedURL)

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	prefix = parts[0]
	if !embedPrefixRe.MatchString(prefix) {
		prefix = "embed-2"
	}
	id = parts[len(parts)-1]
	if id == "" || id == prefix {
		return "", "", "", media.NewError(media.ErrURL, "megacloud: no source id in "+embedURL)
	}
	return u.Host, prefix, id, nil
}
