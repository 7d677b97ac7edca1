package source

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"

	"nineanimator/internal/httputil"
	"nineanimator/internal/logging"
	"nineanimator/internal/media"
	"nineanimator/internal/provider"
)

const (
	gogoanimeBase = "https://anitaku.to"
	gogoAjaxBase  = "https://ajax.gogocdn.net"
)

var gogoEpisodeSlugRe = regexp.MustCompile(`^(.+)-episode-(\d+(?:-\d+)?)$`)

// Gogoanime scrapes the gogoanime family of mirrors. Servers are the
// entries of the episode page's "anime_muti_link" list.
type Gogoanime struct {
	session   *httputil.Session
	providers *provider.Registry
	base      string
	ajaxBase  string
}

func NewGogoanime(s *httputil.Session, providers *provider.Registry) *Gogoanime {
	return &Gogoanime{session: s, providers: providers, base: gogoanimeBase, ajaxBase: gogoAjaxBase}
}

func (g *Gogoanime) Name() string        { return "gogoanime" }
func (g *Gogoanime) Aliases() []string   { return []string{"gogo", "anitaku"} }
func (g *Gogoanime) Description() string { return "gogoanime mirrors, many third-party servers per episode" }

// Search reads /search.html result cards.
func (g *Gogoanime) Search(ctx context.Context, query string) ([]media.AnimeLink, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, media.NewError(media.ErrArgument, "empty search query")
	}

	doc, err := g.session.Document(ctx, g.base+"/search.html?keyword="+httputil.EncodeQuery(query), g.base+"/")
	if err != nil {
		return nil, errors.Wrapf(err, "searching gogoanime for %q", query)
	}

	links := g.parseItems(doc)
	if len(links) == 0 {
		return nil, media.NewError(media.ErrSearch, fmt.Sprintf("no results found for %q", query))
	}
	return links, nil
}

// Latest reads the home page's recent releases and maps each episode back
// to its anime.
func (g *Gogoanime) Latest(ctx context.Context) ([]media.AnimeLink, error) {
	doc, err := g.session.Document(ctx, g.base+"/home.html", g.base+"/")
	if err != nil {
		return nil, errors.Wrap(err, "listing recent releases")
	}

	seen := make(map[string]bool)
	var links []media.AnimeLink
	for _, l := range g.parseItems(doc) {
		if seen[l.Link] {
			continue
		}
		seen[l.Link] = true
		links = append(links, l)
	}
	return links, nil
}

// parseItems reads ".items li" cards. Episode hrefs are mapped to their
// category page.
func (g *Gogoanime) parseItems(doc *goquery.Document) []media.AnimeLink {
	var links []media.AnimeLink
	doc.Find("ul.items li").Each(func(_ int, s *goquery.Selection) {
		a := s.Find("p.name a").First()
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		title := strings.TrimSpace(a.AttrOr("title", ""))
		if title == "" {
			title = strings.TrimSpace(a.Text())
		}

		slug := strings.Trim(href, "/")
		slug = strings.TrimPrefix(slug, "category/")
		if m := gogoEpisodeSlugRe.FindStringSubmatch(slug); m != nil {
			slug = m[1]
		}
		if slug == "" || title == "" {
			return
		}

		img := s.Find("div.img img").First().AttrOr("src", "")
		links = append(links, media.AnimeLink{
			Title:  title,
			Link:   g.base + "/category/" + slug,
			Image:  httputil.Resolve(g.base+"/", img),
			Source: g.Name(),
		})
	})
	return links
}

// Anime reads the category page, fetches the episode list from the ajax
// endpoint and lists servers from the first episode's page.
func (g *Gogoanime) Anime(ctx context.Context, link media.AnimeLink) (*media.Anime, error) {
	slug, err := g.categorySlug(link.Link)
	if err != nil {
		return nil, err
	}

	doc, err := g.session.Document(ctx, g.base+"/category/"+slug, g.base+"/")
	if err != nil {
		return nil, errors.Wrap(err, "fetching gogoanime category page")
	}

	anime := media.NewAnime(link)
	if anime.Link.Source == "" {
		anime.Link.Source = g.Name()
	}
	if anime.Link.Title == "" {
		anime.Link.Title = strings.TrimSpace(doc.Find(".anime_info_body_bg h1").First().Text())
	}
	readGogoDetails(doc, anime)

	slugs, err := g.episodeSlugs(ctx, doc, slug)
	if err != nil {
		return nil, err
	}
	if len(slugs) == 0 {
		return anime, nil
	}

	epDoc, err := g.session.Document(ctx, g.base+"/"+slugs[0].slug, g.base+"/category/"+slug)
	if err != nil {
		return nil, errors.Wrap(err, "fetching first episode page")
	}
	for _, srv := range parseGogoServers(epDoc) {
		anime.AddServer(srv.id, srv.name)
	}

	for _, id := range anime.ServerOrder {
		for _, ep := range slugs {
			anime.AddEpisode(media.EpisodeLink{
				Identifier: ep.slug,
				Name:       ep.name,
				Server:     id,
				Parent:     anime.Link,
			})
		}
	}
	return anime, nil
}

func readGogoDetails(doc *goquery.Document, anime *media.Anime) {
	info := doc.Find(".anime_info_body_bg").First()
	anime.Description = strings.TrimSpace(info.Find(".description").Text())
	anime.AlternativeName = strings.TrimSpace(info.Find("p.other-name a").First().Text())

	info.Find("p.type").Each(func(_ int, s *goquery.Selection) {
		key, value, ok := strings.Cut(strings.TrimSpace(s.Text()), ":")
		if !ok {
			return
		}
		key, value = strings.TrimSpace(key), strings.Join(strings.Fields(value), " ")
		if key == "Plot Summary" {
			if anime.Description == "" {
				anime.Description = value
			}
			return
		}
		if key != "" && value != "" {
			anime.Attributes[key] = value
		}
	})
}

type gogoEpisode struct {
	slug string
	name string
}

// episodeSlugs asks the ajax list endpoint for every episode in the page's
// ranges and returns them in ascending order.
func (g *Gogoanime) episodeSlugs(ctx context.Context, doc *goquery.Document, slug string) ([]gogoEpisode, error) {
	movieID := strings.TrimSpace(doc.Find("input#movie_id").AttrOr("value", ""))
	if err := httputil.ValidateNumericID(movieID); err != nil {
		return nil, media.WrapError(media.ErrDecode, err, "gogoanime movie id")
	}
	alias := doc.Find("input#alias_anime").AttrOr("value", slug)

	start, end := "0", "0"
	doc.Find("#episode_page li a").Each(func(i int, s *goquery.Selection) {
		if i == 0 {
			start = s.AttrOr("ep_start", "0")
		}
		end = s.AttrOr("ep_end", end)
	})

	q := url.Values{}
	q.Set("ep_start", start)
	q.Set("ep_end", end)
	q.Set("id", movieID)
	q.Set("default_ep", "0")
	q.Set("alias", alias)

	list, err := g.session.Document(ctx, g.ajaxBase+"/ajax/load-list-episode?"+q.Encode(), g.base+"/category/"+slug)
	if err != nil {
		return nil, errors.Wrap(err, "fetching gogoanime episode list")
	}

	var eps []gogoEpisode
	list.Find("#episode_related li a").Each(func(_ int, s *goquery.Selection) {
		href := strings.Trim(strings.TrimSpace(s.AttrOr("href", "")), "/")
		if href == "" {
			return
		}
		name := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s.Find(".name").Text()), "EP"))
		if m := gogoEpisodeSlugRe.FindStringSubmatch(href); m != nil && name == "" {
			name = strings.ReplaceAll(m[2], "-", ".")
		}
		eps = append(eps, gogoEpisode{slug: href, name: name})
	})

	// the list is served newest first
	for i, j := 0, len(eps)-1; i < j; i, j = i+1, j-1 {
		eps[i], eps[j] = eps[j], eps[i]
	}
	logging.Debug("gogoanime episodes", "anime", slug, "count", len(eps))
	return eps, nil
}

type gogoServer struct {
	id    media.ServerID
	name  string
	embed string
}

func parseGogoServers(doc *goquery.Document) []gogoServer {
	var servers []gogoServer
	doc.Find(".anime_muti_link li").Each(func(_ int, s *goquery.Selection) {
		a := s.Find("a[data-video]").First()
		embed := strings.TrimSpace(a.AttrOr("data-video", ""))
		class := strings.Fields(s.AttrOr("class", ""))
		if embed == "" || len(class) == 0 {
			return
		}
		name := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(a.Text()), "Choose this server"))
		if name == "" {
			name = class[0]
		}
		if strings.HasPrefix(embed, "//") {
			embed = "https:" + embed
		}
		servers = append(servers, gogoServer{id: media.ServerID(class[0]), name: name, embed: embed})
	})
	return servers
}

// Episode reads the episode page and returns the embed of link's server.
func (g *Gogoanime) Episode(ctx context.Context, link media.EpisodeLink, _ *media.Anime) (*media.Episode, error) {
	if err := httputil.ValidateID(link.Identifier); err != nil {
		return nil, media.WrapError(media.ErrArgument, err, "gogoanime episode identifier")
	}

	doc, err := g.session.Document(ctx, g.base+"/"+link.Identifier, g.base+"/")
	if err != nil {
		return nil, errors.Wrap(err, "fetching gogoanime episode page")
	}

	for _, srv := range parseGogoServers(doc) {
		if srv.id == link.Server {
			return &media.Episode{
				Link:    link,
				Target:  srv.embed,
				Referer: g.base + "/",
			}, nil
		}
	}
	return nil, media.NewError(media.ErrContentUnavailable,
		fmt.Sprintf("gogoanime: server %q not offered for %s", link.Server, link.Identifier))
}

// SuggestProvider matches the server's display name first, then its id.
func (g *Gogoanime) SuggestProvider(_ *media.Episode, server media.ServerID, serverName string) (provider.Parser, bool) {
	if p, ok := g.providers.Lookup(serverName); ok {
		return p, true
	}
	return g.providers.Lookup(string(server))
}

func (g *Gogoanime) CanHandle(rawURL string) bool {
	if hostMatches(rawURL, "anitaku.to", "anitaku.pe", "gogoanime3.co", "gogoanime3.net", hostOf(g.base)) {
		return true
	}
	return strings.Contains(strings.ToLower(hostOf(rawURL)), "gogoanime")
}

// Link accepts /category/<slug> and /<slug>-episode-<n> URLs.
func (g *Gogoanime) Link(ctx context.Context, rawURL string) (any, error) {
	if !g.CanHandle(rawURL) {
		return nil, media.NewError(media.ErrURL, "not a gogoanime URL: "+rawURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, media.WrapError(media.ErrURL, err, "parsing gogoanime URL")
	}
	path := strings.Trim(u.Path, "/")

	if slug, ok := strings.CutPrefix(path, "category/"); ok {
		doc, err := g.session.Document(ctx, g.base+"/category/"+slug, g.base+"/")
		if err != nil {
			return nil, errors.Wrap(err, "fetching gogoanime category page")
		}
		info := doc.Find(".anime_info_body_bg").First()
		return media.AnimeLink{
			Title:  strings.TrimSpace(info.Find("h1").First().Text()),
			Link:   g.base + "/category/" + slug,
			Image:  info.Find("img").First().AttrOr("src", ""),
			Source: g.Name(),
		}, nil
	}

	m := gogoEpisodeSlugRe.FindStringSubmatch(path)
	if m == nil {
		return nil, media.NewError(media.ErrURL, "unrecognised gogoanime URL: "+rawURL)
	}
	doc, err := g.session.Document(ctx, g.base+"/"+path, g.base+"/")
	if err != nil {
		return nil, errors.Wrap(err, "fetching gogoanime episode page")
	}
	servers := parseGogoServers(doc)
	if len(servers) == 0 {
		return nil, media.NewError(media.ErrContentUnavailable, "gogoanime: no servers on episode page")
	}

	parent := doc.Find(".anime-info a").First()
	parentSlug := strings.TrimPrefix(strings.Trim(parent.AttrOr("href", "/category/"+m[1]), "/"), "category/")
	return media.EpisodeLink{
		Identifier: path,
		Name:       strings.ReplaceAll(m[2], "-", "."),
		Server:     servers[0].id,
		Parent: media.AnimeLink{
			Title:  strings.TrimSpace(parent.AttrOr("title", parent.Text())),
			Link:   g.base + "/category/" + parentSlug,
			Source: g.Name(),
		},
	}, nil
}

func (g *Gogoanime) categorySlug(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", media.WrapError(media.ErrURL, err, "parsing gogoanime link")
	}
	slug, ok := strings.CutPrefix(strings.Trim(u.Path, "/"), "category/")
	if !ok {
		return "", media.NewError(media.ErrURL, "not a gogoanime category link: "+link)
	}
	if err := httputil.ValidateID(slug); err != nil {
		return "", media.WrapError(media.ErrURL, err, "gogoanime slug")
	}
	return slug, nil
}
