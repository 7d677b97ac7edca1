package source

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"

	"nineanimator/internal/httputil"
	"nineanimator/internal/logging"
	"nineanimator/internal/media"
	"nineanimator/internal/provider"
)

const animepaheBase = "https://animepahe.ru"

// maxReleasePages caps how many pages of the release API are walked for
// one anime. A page holds 30 episodes.
const maxReleasePages = 40

var paheEpisodeTitleRe = regexp.MustCompile(`(?i)\bEp(?:isode)?\.?\s*(\d+(?:\.\d+)?)`)

// AnimePahe talks to animepahe's JSON API. Every episode plays through kwik;
// its servers are the audio/resolution combinations the play page offers.
type AnimePahe struct {
	session   *httputil.Session
	providers *provider.Registry
	base      string
}

func NewAnimePahe(s *httputil.Session, providers *provider.Registry) *AnimePahe {
	return &AnimePahe{session: s, providers: providers, base: animepaheBase}
}

func (p *AnimePahe) Name() string        { return "animepahe" }
func (p *AnimePahe) Aliases() []string   { return []string{"pahe", "animepahe.ru"} }
func (p *AnimePahe) Description() string { return "animepahe.ru, compact encodes hosted on kwik" }

type paheSearchResponse struct {
	Data []struct {
		ID       int    `json:"id"`
		Title    string `json:"title"`
		Type     string `json:"type"`
		Episodes int    `json:"episodes"`
		Status   string `json:"status"`
		Year     int    `json:"year"`
		Poster   string `json:"poster"`
		Session  string `json:"session"`
	} `json:"data"`
}

type paheAiringResponse struct {
	Data []struct {
		AnimeTitle   string  `json:"anime_title"`
		AnimeSession string  `json:"anime_session"`
		Episode      float64 `json:"episode"`
		Snapshot     string  `json:"snapshot"`
	} `json:"data"`
}

type paheReleaseResponse struct {
	Total    int `json:"total"`
	LastPage int `json:"last_page"`
	Data     []struct {
		Episode  float64 `json:"episode"`
		Session  string  `json:"session"`
		Snapshot string  `json:"snapshot"`
	} `json:"data"`
}

// Search queries /api?m=search.
func (p *AnimePahe) Search(ctx context.Context, query string) ([]media.AnimeLink, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, media.NewError(media.ErrArgument, "empty search query")
	}

	var resp paheSearchResponse
	u := p.base + "/api?m=search&q=" + httputil.EncodeQuery(query)
	if err := p.session.JSON(ctx, u, p.base+"/", &resp); err != nil {
		return nil, errors.Wrapf(err, "searching animepahe for %q", query)
	}

	links := make([]media.AnimeLink, 0, len(resp.Data))
	for _, d := range resp.Data {
		if d.Session == "" {
			continue
		}
		links = append(links, media.AnimeLink{
			Title:  d.Title,
			Link:   p.base + "/anime/" + d.Session,
			Image:  d.Poster,
			Source: p.Name(),
		})
	}
	if len(links) == 0 {
		return nil, media.NewError(media.ErrSearch, fmt.Sprintf("no results found for %q", query))
	}
	return links, nil
}

// Latest lists currently airing anime, most recently updated first.
func (p *AnimePahe) Latest(ctx context.Context) ([]media.AnimeLink, error) {
	var resp paheAiringResponse
	if err := p.session.JSON(ctx, p.base+"/api?m=airing&page=1", p.base+"/", &resp); err != nil {
		return nil, errors.Wrap(err, "listing airing anime")
	}

	seen := make(map[string]bool)
	var links []media.AnimeLink
	for _, d := range resp.Data {
		if d.AnimeSession == "" || seen[d.AnimeSession] {
			continue
		}
		seen[d.AnimeSession] = true
		links = append(links, media.AnimeLink{
			Title:  d.AnimeTitle,
			Link:   p.base + "/anime/" + d.AnimeSession,
			Image:  d.Snapshot,
			Source: p.Name(),
		})
	}
	return links, nil
}

// Anime loads the detail page and every release, then reads the first
// episode's play page to learn which servers exist.
func (p *AnimePahe) Anime(ctx context.Context, link media.AnimeLink) (*media.Anime, error) {
	session, err := p.animeSession(link.Link)
	if err != nil {
		return nil, err
	}

	anime := media.NewAnime(link)
	if anime.Link.Source == "" {
		anime.Link.Source = p.Name()
	}

	if doc, err := p.session.Document(ctx, p.base+"/anime/"+session, p.base+"/"); err == nil {
		readPaheDetails(doc, anime)
	} else {
		logging.Debug("animepahe detail page unavailable", "anime", session, "err", err)
	}

	releases, err := p.releases(ctx, session)
	if err != nil {
		return nil, err
	}
	if len(releases) == 0 {
		return anime, nil
	}

	buttons, err := p.playButtons(ctx, session+"/"+releases[0].session)
	if err != nil {
		return nil, err
	}
	for _, b := range buttons {
		anime.AddServer(b.server(), b.label())
	}

	for _, id := range anime.ServerOrder {
		for _, r := range releases {
			anime.AddEpisode(media.EpisodeLink{
				Identifier: session + "/" + r.session,
				Name:       r.name,
				Server:     id,
				Parent:     anime.Link,
			})
		}
	}
	return anime, nil
}

type paheRelease struct {
	name    string
	session string
}

func (p *AnimePahe) releases(ctx context.Context, session string) ([]paheRelease, error) {
	var out []paheRelease
	for page := 1; page <= maxReleasePages; page++ {
		var resp paheReleaseResponse
		u := fmt.Sprintf("%s/api?m=release&id=%s&sort=episode_asc&page=%d", p.base, url.QueryEscape(session), page)
		if err := p.session.JSON(ctx, u, p.base+"/anime/"+session, &resp); err != nil {
			return nil, errors.Wrapf(err, "listing animepahe releases page %d", page)
		}
		for _, d := range resp.Data {
			out = append(out, paheRelease{
				name:    strconv.FormatFloat(d.Episode, 'f', -1, 64),
				session: d.Session,
			})
		}
		if page >= resp.LastPage {
			break
		}
	}
	return out, nil
}

func readPaheDetails(doc *goquery.Document, anime *media.Anime) {
	anime.Description = strings.TrimSpace(doc.Find(".anime-synopsis").First().Text())
	if jp := strings.TrimSpace(doc.Find("h2.japanese").First().Text()); jp != "" {
		anime.AlternativeName = jp
	}
	doc.Find(".anime-info p").Each(func(_ int, s *goquery.Selection) {
		key, value, ok := strings.Cut(strings.TrimSpace(s.Text()), ":")
		if !ok {
			return
		}
		key, value = strings.TrimSpace(key), strings.Join(strings.Fields(value), " ")
		if key != "" && value != "" {
			anime.Attributes[key] = value
		}
	})
}

// paheButton is one kwik embed offered on a play page.
type paheButton struct {
	src        string
	resolution string
	audio      string
	fansub     string
}

func (b paheButton) server() media.ServerID {
	audio := b.audio
	if audio == "" {
		audio = "jpn"
	}
	return media.ServerID("kwik-" + audio + "-" + b.resolution)
}

func (b paheButton) label() string {
	name := fmt.Sprintf("Kwik %sp (%s)", b.resolution, strings.ToUpper(b.audio))
	if b.fansub != "" {
		name += " · " + b.fansub
	}
	return name
}

func (p *AnimePahe) playButtons(ctx context.Context, identifier string) ([]paheButton, error) {
	doc, err := p.session.Document(ctx, p.base+"/play/"+identifier, p.base+"/")
	if err != nil {
		return nil, errors.Wrap(err, "fetching animepahe play page")
	}
	return parsePaheButtons(doc), nil
}

func parsePaheButtons(doc *goquery.Document) []paheButton {
	var buttons []paheButton
	doc.Find("button[data-src]").Each(func(_ int, s *goquery.Selection) {
		src := strings.TrimSpace(s.AttrOr("data-src", ""))
		if src == "" {
			return
		}
		buttons = append(buttons, paheButton{
			src:        src,
			resolution: strings.TrimSpace(s.AttrOr("data-resolution", "")),
			audio:      strings.TrimSpace(s.AttrOr("data-audio", "")),
			fansub:     strings.TrimSpace(s.AttrOr("data-fansub", "")),
		})
	})
	return buttons
}

// Episode opens the play page and picks the kwik embed for link's server.
func (p *AnimePahe) Episode(ctx context.Context, link media.EpisodeLink, _ *media.Anime) (*media.Episode, error) {
	if err := httputil.ValidateID(link.Identifier); err != nil {
		return nil, media.WrapError(media.ErrArgument, err, "animepahe episode identifier")
	}

	buttons, err := p.playButtons(ctx, link.Identifier)
	if err != nil {
		return nil, err
	}
	if len(buttons) == 0 {
		return nil, media.NewError(media.ErrContentUnavailable, "animepahe: no servers on play page")
	}

	chosen := buttons[0]
	_, resolution := splitPaheServer(link.Server)
	for _, b := range buttons {
		if b.server() == link.Server {
			chosen = b
			break
		}
		if resolution != "" && b.resolution == resolution && chosen.resolution != resolution {
			chosen = b
		}
	}

	return &media.Episode{
		Link:    link,
		Target:  chosen.src,
		Referer: p.base + "/",
		UserInfo: map[string]string{
			"quality": chosen.resolution,
			"audio":   chosen.audio,
		},
	}, nil
}

// splitPaheServer splits kwik-<audio>-<resolution>.
func splitPaheServer(id media.ServerID) (audio, resolution string) {
	parts := strings.Split(string(id), "-")
	if len(parts) != 3 || parts[0] != "kwik" {
		return "", ""
	}
	return parts[1], parts[2]
}

// SuggestProvider always resolves to Kwik.
func (p *AnimePahe) SuggestProvider(_ *media.Episode, _ media.ServerID, _ string) (provider.Parser, bool) {
	return p.providers.Lookup("Kwik")
}

func (p *AnimePahe) CanHandle(rawURL string) bool {
	return hostMatches(rawURL, "animepahe.ru", "animepahe.com", "animepahe.org", hostOf(p.base))
}

// Link accepts /anime/<session> and /play/<session>/<episode> URLs.
func (p *AnimePahe) Link(ctx context.Context, rawURL string) (any, error) {
	if !p.CanHandle(rawURL) {
		return nil, media.NewError(media.ErrURL, "not an animepahe URL: "+rawURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, media.WrapError(media.ErrURL, err, "parsing animepahe URL")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")

	switch {
	case len(parts) == 2 && parts[0] == "anime":
		doc, err := p.session.Document(ctx, p.base+"/anime/"+parts[1], p.base+"/")
		if err != nil {
			return nil, errors.Wrap(err, "fetching animepahe anime page")
		}
		return media.AnimeLink{
			Title:  paheTitle(doc),
			Link:   p.base + "/anime/" + parts[1],
			Image:  doc.Find(".anime-poster img").First().AttrOr("data-src", ""),
			Source: p.Name(),
		}, nil

	case len(parts) == 3 && parts[0] == "play":
		identifier := parts[1] + "/" + parts[2]
		doc, err := p.session.Document(ctx, p.base+"/play/"+identifier, p.base+"/")
		if err != nil {
			return nil, errors.Wrap(err, "fetching animepahe play page")
		}
		buttons := parsePaheButtons(doc)
		if len(buttons) == 0 {
			return nil, media.NewError(media.ErrContentUnavailable, "animepahe: no servers on play page")
		}
		name := ""
		if m := paheEpisodeTitleRe.FindStringSubmatch(doc.Find("title").Text()); m != nil {
			name = m[1]
		}
		return media.EpisodeLink{
			Identifier: identifier,
			Name:       name,
			Server:     buttons[0].server(),
			Parent: media.AnimeLink{
				Title:  paheTitle(doc),
				Link:   p.base + "/anime/" + parts[1],
				Source: p.Name(),
			},
		}, nil
	}
	return nil, media.NewError(media.ErrURL, "unrecognised animepahe URL: "+rawURL)
}

func paheTitle(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find(".title-wrapper h1 span").First().Text()); t != "" {
		return t
	}
	if t := strings.TrimSpace(doc.Find(".theatre-info h1 a").First().Text()); t != "" {
		return t
	}
	t := strings.TrimSpace(doc.Find("title").Text())
	if i := strings.Index(t, " :: "); i > 0 {
		t = t[:i]
	}
	if m := paheEpisodeTitleRe.FindStringIndex(t); m != nil {
		t = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(t[:m[0]]), "-"))
	}
	return t
}

// animeSession extracts the session from an /anime/<session> link.
func (p *AnimePahe) animeSession(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", media.WrapError(media.ErrURL, err, "parsing animepahe link")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] != "anime" {
		return "", media.NewError(media.ErrURL, "not an animepahe anime link: "+link)
	}
	if err := httputil.ValidateID(parts[1]); err != nil {
		return "", media.WrapError(media.ErrURL, err, "animepahe anime session")
	}
	return parts[1], nil
}
