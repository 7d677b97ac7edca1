// Package backup reads and writes .naconfig files: an XML property list
// holding the recently viewed anime, playback progress and subscriptions.
package backup

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"howett.net/plist"

	"nineanimator/internal/media"
	"nineanimator/internal/store"
)

// Extension is appended to exported file names that lack it.
const Extension = ".naconfig"

// FormatVersion is written to every export.
const FormatVersion = "1.0"

// State is the part of the store a backup reads and replaces.
type State interface {
	Recent() ([]media.AnimeLink, error)
	AllProgress() (map[string]float64, error)
	Subscriptions() ([]media.AnimeLink, error)
	ReplaceLibrary(lib store.Library) error
}

// Config is the on-disk layout of a .naconfig file.
type Config struct {
	History       []Link             `plist:"history"`
	Progresses    map[string]float64 `plist:"progresses"`
	Subscriptions []Link             `plist:"subscriptions"`
	ExportedDate  time.Time          `plist:"exportedDate"`
	Version       string             `plist:"version"`
}

// Link is an anime link as stored in a .naconfig file.
type Link struct {
	Title  string `plist:"title"`
	Link   string `plist:"link"`
	Image  string `plist:"image,omitempty"`
	Source string `plist:"source"`
}

func toLinks(in []media.AnimeLink) []Link {
	out := make([]Link, 0, len(in))
	for _, l := range in {
		out = append(out, Link{Title: l.Title, Link: l.Link, Image: l.Image, Source: l.Source})
	}
	return out
}

func fromLinks(in []Link) []media.AnimeLink {
	out := make([]media.AnimeLink, 0, len(in))
	for _, l := range in {
		if l.Link == "" {
			continue
		}
		out = append(out, media.AnimeLink{Title: l.Title, Link: l.Link, Image: l.Image, Source: l.Source})
	}
	return out
}

// Snapshot collects the current state into a Config.
func Snapshot(st State) (*Config, error) {
	recent, err := st.Recent()
	if err != nil {
		return nil, err
	}
	progress, err := st.AllProgress()
	if err != nil {
		return nil, err
	}
	subs, err := st.Subscriptions()
	if err != nil {
		return nil, err
	}
	if progress == nil {
		progress = map[string]float64{}
	}
	return &Config{
		History:       toLinks(recent),
		Progresses:    progress,
		Subscriptions: toLinks(subs),
		ExportedDate:  time.Now().UTC().Truncate(time.Second),
		Version:       FormatVersion,
	}, nil
}

// Export writes the state as an XML property list.
func Export(st State, w io.Writer) error {
	cfg, err := Snapshot(st)
	if err != nil {
		return fmt.Errorf("collecting state: %w", err)
	}
	enc := plist.NewEncoderForFormat(w, plist.XMLFormat)
	enc.Indent("\t")
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}
	return nil
}

// ExportFile writes the state to path, adding the .naconfig extension when
// it is missing. The file is written to a temp file and renamed into place.
// It returns the path written.
func ExportFile(st State, path string) (string, error) {
	if !strings.EqualFold(filepath.Ext(path), Extension) {
		path += Extension
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating export dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "export-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if err := Export(st, tmpFile); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("renaming export file: %w", err)
	}
	return path, nil
}

// Decode parses a .naconfig document.
func Decode(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, media.NewError(media.ErrDecode, "configuration file is empty")
	}

	var raw struct {
		History       []Link         `plist:"history"`
		Progresses    map[string]any `plist:"progresses"`
		Subscriptions []Link         `plist:"subscriptions"`
		ExportedDate  time.Time      `plist:"exportedDate"`
		Version       string         `plist:"version"`
	}
	if _, err := plist.Unmarshal(data, &raw); err != nil {
		return nil, media.WrapError(media.ErrDecode, err, "decoding configuration")
	}
	progress, err := decodeProgresses(raw.Progresses)
	if err != nil {
		return nil, err
	}
	return &Config{
		History:       raw.History,
		Progresses:    progress,
		Subscriptions: raw.Subscriptions,
		ExportedDate:  raw.ExportedDate,
		Version:       raw.Version,
	}, nil
}

// decodeProgresses accepts <real> and <integer> fractions, so files edited
// by hand with <integer>1</integer> still import.
func decodeProgresses(in map[string]any) (map[string]float64, error) {
	out := make(map[string]float64, len(in))
	for id, v := range in {
		switch n := v.(type) {
		case float64:
			out[id] = n
		case float32:
			out[id] = float64(n)
		case int64:
			out[id] = float64(n)
		case uint64:
			out[id] = float64(n)
		default:
			return nil, media.NewError(media.ErrDecode, fmt.Sprintf("progress of %q is %T, not a number", id, v))
		}
	}
	return out, nil
}

// Import reads a .naconfig document from r and applies it with policy.
func Import(st State, r io.Reader, policy Policy) (Summary, error) {
	cfg, err := Decode(r)
	if err != nil {
		return Summary{}, err
	}
	return Apply(st, cfg, policy)
}

// ImportFile opens path and imports it.
func ImportFile(st State, path string, policy Policy) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("opening configuration: %w", err)
	}
	defer f.Close()
	return Import(st, f, policy)
}
