// Package subtitle picks subtitle tracks by language and fetches them into
// a randomized temp directory for players and ffmpeg.
package subtitle

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"nineanimator/internal/httputil"
	"nineanimator/internal/media"
)

// languageCodes maps language names to the ISO 639-1 codes embed players
// put in their track lists.
var languageCodes = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"portuguese": "pt",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"russian":    "ru",
	"arabic":     "ar",
	"indonesian": "id",
	"japanese":   "ja",
}

func matches(sub media.Subtitle, lang string) bool {
	language := strings.ToLower(sub.Language)
	if strings.Contains(language, lang) || strings.Contains(strings.ToLower(sub.Label), lang) {
		return true
	}
	code, ok := languageCodes[lang]
	return ok && (language == code || strings.HasPrefix(language, code+"-"))
}

// Filter returns subtitles matching the preferred language (case-insensitive).
// Either the language name or its two-letter code matches.
func Filter(subtitles []media.Subtitle, language string) []media.Subtitle {
	if language == "" {
		return subtitles
	}

	lang := strings.ToLower(strings.TrimSpace(language))
	var matched []media.Subtitle
	for _, sub := range subtitles {
		if matches(sub, lang) {
			matched = append(matched, sub)
		}
	}
	return matched
}

// BestMatch returns the best matching subtitle for the given language.
// Non-SDH tracks are preferred over SDH ones.
func BestMatch(subtitles []media.Subtitle, language string) *media.Subtitle {
	filtered := Filter(subtitles, language)
	if len(filtered) == 0 {
		return nil
	}
	for _, sub := range filtered {
		label := strings.ToLower(sub.Label)
		if !strings.Contains(label, "sdh") && !strings.Contains(label, "forced") {
			return &sub
		}
	}
	return &filtered[0]
}

// TempDir manages a secure temporary directory for subtitle files.
type TempDir struct {
	path string
}

// NewTempDir creates a randomized temporary directory for subtitle files.
func NewTempDir() (*TempDir, error) {
	dir, err := os.MkdirTemp("", "nineanimator-subs-*")
	if err != nil {
		return nil, fmt.Errorf("creating subtitle temp dir: %w", err)
	}
	return &TempDir{path: dir}, nil
}

// Path returns the directory.
func (t *TempDir) Path() string { return t.path }

// Cleanup removes the temporary directory and all contents.
func (t *TempDir) Cleanup() {
	if t.path != "" {
		os.RemoveAll(t.path)
	}
}

// Download fetches a subtitle through s, sending referer when the host
// requires it, and returns the local path.
func (t *TempDir) Download(ctx context.Context, s *httputil.Session, sub media.Subtitle, referer string) (string, error) {
	resp, err := s.Fetch(ctx, sub.URL, httputil.Header{"Referer": referer})
	if err != nil {
		return "", fmt.Errorf("downloading subtitle: %w", err)
	}

	localPath := filepath.Join(t.path, fileName(sub))
	if err := os.WriteFile(localPath, resp.Body, 0600); err != nil {
		return "", fmt.Errorf("writing subtitle file: %w", err)
	}
	return localPath, nil
}

// fileName derives a local name from the track URL, prefixed with its
// language so tracks with the same remote name do not collide.
func fileName(sub media.Subtitle) string {
	name := "subtitle.vtt"
	if u, err := url.Parse(sub.URL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			name = base
		}
	}
	if sub.Language != "" {
		name = sub.Language + "-" + name
	}
	return httputil.SanitizeFilename(name)
}
