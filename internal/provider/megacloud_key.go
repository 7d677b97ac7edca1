package provider

import (
	"regexp"
	"strings"

	"nineanimator/internal/media"
)

// The embed page hides the client key behind one of several rotating
// markups. Each pattern extracts the key parts in its capture groups.
var clientKeyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`<meta name="_gg_fb" content="([a-zA-Z0-9]+)">`),
	regexp.MustCompile(`<!--\s+_is_th:([0-9a-zA-Z]+)\s+-->`),
	regexp.MustCompile(`<script>window\._lk_db\s+=\s+\{x:\s+["']([a-zA-Z0-9]+)["'],\s+y:\s+["']([a-zA-Z0-9]+)["'],\s+z:\s+["']([a-zA-Z0-9]+)["']\};</script>`),
	regexp.MustCompile(`<div\s+data-dpi="([0-9a-zA-Z]+)"\s+[^>]*></div>`),
	regexp.MustCompile(`<script nonce="([0-9a-zA-Z]+)">`),
	regexp.MustCompile("<script>window\\._xy_ws = ['\"`]([0-9a-zA-Z]+)['\"`];</script>"),
}

// extractClientKey returns the client key embedded in a MegaCloud embed page.
func extractClientKey(html string) (string, error) {
	for _, re := range clientKeyPatterns {
		if m := re.FindStringSubmatch(html); m != nil {
			return strings.Join(m[1:], ""), nil
		}
	}
	return "", media.NewError(media.ErrDecode, "megacloud: no client key pattern matched")
}
