package provider

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/lrstanley/go-ytdlp"
	"github.com/pkg/errors"

	"nineanimator/internal/httputil"
	"nineanimator/internal/logging"
	"nineanimator/internal/media"
)

// YtDlp asks yt-dlp for the direct URL of any page it has an extractor for.
// It is the fallback for hosts without a dedicated parser.
type YtDlp struct {
	aliases
	recommendation

	installOnce sync.Once
	installErr  error
}

func NewYtDlp() *YtDlp {
	return &YtDlp{
		aliases:        aliases{"yt-dlp", "ytdlp", "generic"},
		recommendation: recommendation{media.Download},
	}
}

func (y *YtDlp) install(ctx context.Context) error {
	y.installOnce.Do(func() {
		_, y.installErr = ytdlp.Install(ctx, nil)
	})
	return y.installErr
}

func (y *YtDlp) Parse(ctx context.Context, episode *media.Episode, purpose media.Purpose) (*media.PlaybackMedia, error) {
	if err := httputil.ValidateURL(episode.Target); err != nil {
		return nil, media.WrapError(media.ErrURL, err, "yt-dlp target")
	}
	if err := y.install(ctx); err != nil {
		return nil, media.WrapError(media.ErrProvider, err, "installing yt-dlp")
	}

	cmd := ytdlp.New().
		DumpSingleJSON().
		Format(ytdlpFormat(purpose)).
		NoWarnings()
	if episode.Referer != "" {
		cmd.AddHeaders("Referer:" + episode.Referer)
	}

	logging.Debug("running yt-dlp", "url", episode.Target)
	res, err := cmd.Run(ctx, episode.Target)
	if err != nil {
		return nil, errors.Wrap(err, "yt-dlp")
	}

	info, err := parseYtDlpInfo(res.Stdout)
	if err != nil {
		return nil, err
	}
	link, headers, err := info.pick()
	if err != nil {
		return nil, err
	}

	m := &media.PlaybackMedia{
		URL:       link,
		Link:      episode.Link,
		Headers:   map[string]string{"User-Agent": httputil.UserAgent},
		Subtitles: info.subtitleTracks(),
	}
	for k, v := range headers {
		m.Headers[k] = v
	}
	if episode.Referer != "" {
		m.Headers["Referer"] = episode.Referer
	}
	m.Aggregated = m.IsHLS()
	return m, nil
}

// ytdlpFormat prefers progressive files for downloads so no muxing is needed.
// Both selectors only match formats that carry video and audio together.
func ytdlpFormat(purpose media.Purpose) string {
	if purpose == media.Download {
		return "best[protocol^=http][ext=mp4]/best"
	}
	return "best"
}

type ytdlpFormatInfo struct {
	URL         string            `json:"url"`
	FormatID    string            `json:"format_id"`
	VCodec      string            `json:"vcodec"`
	ACodec      string            `json:"acodec"`
	HTTPHeaders map[string]string `json:"http_headers"`
}

type ytdlpInfo struct {
	ytdlpFormatInfo
	RequestedFormats []ytdlpFormatInfo `json:"requested_formats"`
	Formats          []ytdlpFormatInfo `json:"formats"`
	Entries          []ytdlpInfo       `json:"entries"`
	Subtitles        map[string][]struct {
		URL  string `json:"url"`
		Ext  string `json:"ext"`
		Name string `json:"name"`
	} `json:"subtitles"`
}

// parseYtDlpInfo decodes --dump-single-json output. Playlists resolve to
// their first entry.
func parseYtDlpInfo(out string) (*ytdlpInfo, error) {
	var info ytdlpInfo
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &info); err != nil {
		return nil, media.WrapError(media.ErrDecode, err, "decoding yt-dlp output")
	}
	if len(info.Entries) > 0 && info.URL == "" && len(info.Formats) == 0 {
		return &info.Entries[0], nil
	}
	return &info, nil
}

// pick returns the URL of the selected format. When yt-dlp selected
// separate video and audio streams, the best format carrying both is used
// instead, since a single URL cannot play the pair.
func (i *ytdlpInfo) pick() (string, map[string]string, error) {
	if strings.HasPrefix(i.URL, "http") && len(i.RequestedFormats) <= 1 {
		return i.URL, i.HTTPHeaders, nil
	}
	if len(i.RequestedFormats) == 1 && strings.HasPrefix(i.RequestedFormats[0].URL, "http") {
		f := i.RequestedFormats[0]
		return f.URL, f.HTTPHeaders, nil
	}
	// formats are listed worst to best
	for j := len(i.Formats) - 1; j >= 0; j-- {
		f := i.Formats[j]
		if strings.HasPrefix(f.URL, "http") && hasCodec(f.VCodec) && hasCodec(f.ACodec) {
			return f.URL, f.HTTPHeaders, nil
		}
	}
	return "", nil, media.NewError(media.ErrProvider, "yt-dlp found no format with both video and audio")
}

func hasCodec(c string) bool { return c != "" && c != "none" }

func (i *ytdlpInfo) subtitleTracks() []media.Subtitle {
	langs := make([]string, 0, len(i.Subtitles))
	for lang := range i.Subtitles {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	var subs []media.Subtitle
	for _, lang := range langs {
		for _, t := range i.Subtitles[lang] {
			if t.URL == "" || (t.Ext != "" && t.Ext != "vtt" && t.Ext != "srt" && t.Ext != "ass") {
				continue
			}
			subs = append(subs, media.Subtitle{Language: lang, Label: t.Name, URL: t.URL})
			break
		}
	}
	return subs
}
