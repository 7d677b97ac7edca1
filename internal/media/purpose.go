package media

import (
	"fmt"
	"strings"
)

// Purpose is what resolved media is going to be used for. Parsers use it
// to decide whether their output is worth recommending.
type Purpose int

const (
	Playback Purpose = iota
	Download
	Cast
)

func (p Purpose) String() string {
	switch p {
	case Playback:
		return "playback"
	case Download:
		return "download"
	case Cast:
		return "cast"
	default:
		return "unknown"
	}
}

// ParsePurpose parses a purpose name case-insensitively.
func ParsePurpose(s string) (Purpose, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "playback", "play", "":
		return Playback, nil
	case "download":
		return Download, nil
	case "cast":
		return Cast, nil
	}
	return Playback, NewError(ErrArgument, fmt.Sprintf("unknown purpose %q (valid: playback, download, cast)", s))
}

func (p Purpose) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Purpose) UnmarshalText(text []byte) error {
	v, err := ParsePurpose(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// AllPurposes lists every purpose in declaration order.
var AllPurposes = []Purpose{Playback, Download, Cast}
