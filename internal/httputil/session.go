package httputil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/goccy/go-json"
	cache "github.com/patrickmn/go-cache"

	"nineanimator/internal/logging"
	"nineanimator/internal/media"
)

// Header is a set of request headers applied on top of the session defaults.
type Header map[string]string

// Response is a fully read response body and the URL it was served from
// after redirects.
type Response struct {
	Body []byte
	URL  string
}

// Text returns the body as a string.
func (r *Response) Text() string { return string(r.Body) }

// Session fetches pages for sources and parsers. GET responses are cached by
// URL and Referer for a short time so that resolving the same episode twice
// does not hit the site again.
type Session struct {
	client  *http.Client
	cache   *cache.Cache
	ttl     time.Duration
	maxBody int64
}

// Option configures a Session.
type Option func(*Session)

// WithClient replaces the hardened default client, e.g. with an httptest client.
func WithClient(c *http.Client) Option {
	return func(s *Session) { s.client = c }
}

// WithCacheTTL sets how long GET responses stay cached. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Session) { s.ttl = ttl }
}

// WithoutCache disables response caching.
func WithoutCache() Option {
	return WithCacheTTL(0)
}

// NewSession creates a Session.
func NewSession(opts ...Option) *Session {
	s := &Session{
		client:  NewClient(),
		ttl:     5 * time.Minute,
		maxBody: maxBody,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ttl > 0 {
		s.cache = cache.New(s.ttl, 2*s.ttl)
	}
	return s
}

// Client returns the underlying HTTP client.
func (s *Session) Client() *http.Client { return s.client }

// Fetch performs a GET with the session's default headers plus header.
func (s *Session) Fetch(ctx context.Context, rawURL string, header Header) (*Response, error) {
	key := rawURL + "\x00" + header["Referer"] + "\x00" + header["Accept"]
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			logging.Debug("cache hit", "url", rawURL)
			return v.(*Response), nil
		}
	}

	resp, err := s.do(ctx, http.MethodGet, rawURL, header, nil)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(key, resp, cache.DefaultExpiration)
	}
	return resp, nil
}

// Page fetches an HTML page.
func (s *Session) Page(ctx context.Context, rawURL, referer string) (string, error) {
	resp, err := s.Fetch(ctx, rawURL, refererHeader(referer))
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// Document fetches and parses an HTML page.
func (s *Session) Document(ctx context.Context, rawURL, referer string) (*goquery.Document, error) {
	resp, err := s.Fetch(ctx, rawURL, refererHeader(referer))
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, media.WrapError(media.ErrDecode, err, "parsing HTML from "+rawURL)
	}
	return doc, nil
}

// JSON fetches rawURL and decodes the body into v.
func (s *Session) JSON(ctx context.Context, rawURL, referer string, v any) error {
	header := refererHeader(referer)
	header["Accept"] = "application/json, text/javascript, */*; q=0.01"
	header["X-Requested-With"] = "XMLHttpRequest"

	resp, err := s.Fetch(ctx, rawURL, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return media.WrapError(media.ErrDecode, err, "decoding JSON from "+rawURL)
	}
	return nil
}

// PostForm submits form values and returns the response body. Never cached.
func (s *Session) PostForm(ctx context.Context, rawURL, referer string, form url.Values) (string, error) {
	header := refererHeader(referer)
	header["Content-Type"] = "application/x-www-form-urlencoded"
	resp, err := s.do(ctx, http.MethodPost, rawURL, header, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// Final returns the URL rawURL ends up at after redirects.
func (s *Session) Final(ctx context.Context, rawURL, referer string) (string, error) {
	resp, err := s.Fetch(ctx, rawURL, refererHeader(referer))
	if err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (s *Session) do(ctx context.Context, method, rawURL string, header Header, body io.Reader) (*Response, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, media.WrapError(media.ErrURL, err, "invalid URL")
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, media.WrapError(media.ErrURL, err, "creating request")
	}

	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	for k, v := range header {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	logging.Debug("fetch", "method", method, "url", rawURL)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, media.WrapError(media.ErrResponse, err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, media.NewError(media.ErrResponse, fmt.Sprintf("unexpected status %d for %s", resp.StatusCode, rawURL))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody+1))
	if err != nil {
		return nil, media.WrapError(media.ErrResponse, err, "reading response")
	}
	if int64(len(data)) > s.maxBody {
		return nil, media.NewError(media.ErrResponse, fmt.Sprintf("response from %s exceeds %d bytes", rawURL, s.maxBody))
	}

	return &Response{Body: data, URL: resp.Request.URL.String()}, nil
}

func refererHeader(referer string) Header {
	h := Header{}
	if referer != "" {
		h["Referer"] = referer
	}
	return h
}

// Origin returns scheme://host of rawURL, or "" if it does not parse.
func Origin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Resolve resolves ref against base, e.g. a relative href on a page.
func Resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	if r.Scheme == "" && strings.HasPrefix(ref, "//") {
		r.Scheme = b.Scheme
	}
	return b.ResolveReference(r).String()
}
