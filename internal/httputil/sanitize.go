package httputil

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"nineanimator/internal/media"
)

var (
	// identifierPattern matches what sources put in episode and anime
	// identifiers: slugs, relative paths and session hashes.
	identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9/_-]+$`)

	digitsPattern = regexp.MustCompile(`^[0-9]+$`)
)

// maxFilename keeps generated names under common filesystem limits once an
// extension and the .part suffix are added.
const maxFilename = 200

// ValidateURL rejects anything but absolute HTTPS URLs. Every page and
// media request passes through it.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return media.WrapError(media.ErrURL, err, "malformed URL")
	}
	if u.Scheme != "https" {
		return media.NewError(media.ErrURL, fmt.Sprintf("only HTTPS URLs are allowed, got %q", u.Scheme))
	}
	if u.Host == "" {
		return media.NewError(media.ErrURL, "URL has no host")
	}
	return nil
}

// ValidateID checks an identifier scraped from a page before it is spliced
// into another URL.
func ValidateID(id string) error {
	switch {
	case id == "":
		return media.NewError(media.ErrArgument, "identifier cannot be empty")
	case len(id) > 256:
		return media.NewError(media.ErrArgument, fmt.Sprintf("identifier too long: %d characters", len(id)))
	case !identifierPattern.MatchString(id):
		return media.NewError(media.ErrArgument, fmt.Sprintf("identifier contains invalid characters: %q", id))
	case strings.Contains(id, ".."):
		return media.NewError(media.ErrArgument, fmt.Sprintf("identifier contains path traversal: %q", id))
	}
	return nil
}

// ValidateNumericID is ValidateID for sites that key episodes by number.
func ValidateNumericID(id string) error {
	if !digitsPattern.MatchString(id) {
		return media.NewError(media.ErrArgument, fmt.Sprintf("expected a numeric identifier, got %q", id))
	}
	return nil
}

// SanitizeFilename turns an episode title into a single path element.
// Separators and characters reserved on Windows become underscores, control
// characters are dropped, and leading or trailing dots and spaces are
// trimmed, so "Fate/Zero - Episode 3" stays readable as "Fate_Zero - Episode 3".
func SanitizeFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r == utf8.RuneError, unicode.IsControl(r):
			return -1
		case strings.ContainsRune(`/\:*?"<>|`, r):
			return '_'
		}
		return r
	}, name)
	name = strings.Trim(name, " .")
	name = strings.ReplaceAll(name, "..", "_")

	if len(name) > maxFilename {
		cut := maxFilename
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = strings.TrimRight(name[:cut], " .")
	}
	if name == "" {
		return "untitled"
	}
	return name
}

// SafeDownloadPath joins dir and a sanitized filename, and refuses results
// that would land outside dir.
func SafeDownloadPath(dir, filename string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving download directory: %w", err)
	}
	full := filepath.Join(absDir, SanitizeFilename(filename))

	rel, err := filepath.Rel(absDir, full)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return "", media.NewError(media.ErrArgument, fmt.Sprintf("download path %q escapes %q", full, absDir))
	}
	return full, nil
}

// EncodeQuery collapses whitespace in a search query and escapes it for a
// query-string value (e.g., ?keyword=one+piece).
func EncodeQuery(query string) string {
	return url.QueryEscape(strings.Join(strings.Fields(query), " "))
}
