package provider

import (
	"regexp"
	"strconv"
	"strings"

	"nineanimator/internal/media"
)

// Several hosts ship their player setup through Dean Edwards' packer:
//
//	eval(function(p,a,c,k,e,d){...}('payload',radix,count,'w0|w1|...'.split('|'),0,{}))
//
// unpack reverses it without executing any JavaScript.
var (
	packedRe = regexp.MustCompile(`}\s*\(\s*'((?:[^'\\]|\\.)*)'\s*,\s*(\d+)\s*,\s*(\d+)\s*,\s*'((?:[^'\\]|\\.)*)'\.split\('\|'\)`)
	wordRe   = regexp.MustCompile(`\b\w+\b`)
)

const packerAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// isPacked reports whether script contains a packed payload.
func isPacked(script string) bool {
	return strings.Contains(script, "eval(function(p,a,c,k,e,") && packedRe.MatchString(script)
}

// unpack decodes the first packed payload in script.
func unpack(script string) (string, error) {
	m := packedRe.FindStringSubmatch(script)
	if m == nil {
		return "", media.NewError(media.ErrDecode, "no packed script found")
	}

	payload := unescapeJS(m[1])
	radix, err := strconv.Atoi(m[2])
	if err != nil || radix < 2 || radix > len(packerAlphabet) {
		return "", media.NewError(media.ErrDecode, "unsupported packer radix "+m[2])
	}
	count, _ := strconv.Atoi(m[3])
	symbols := strings.Split(unescapeJS(m[4]), "|")
	if len(symbols) < count {
		return "", media.NewError(media.ErrDecode, "packed symbol table is truncated")
	}

	return wordRe.ReplaceAllStringFunc(payload, func(word string) string {
		idx, ok := decodeBase(word, radix)
		if !ok || idx < 0 || idx >= len(symbols) || symbols[idx] == "" {
			return word
		}
		return symbols[idx]
	}), nil
}

// maxSymbolIndex bounds decoded words. Packed symbol tables are far smaller,
// and longer words would overflow int.
const maxSymbolIndex = 1 << 24

// decodeBase parses word as a number in the packer's alphabet. Words whose
// value exceeds maxSymbolIndex are not symbol references.
func decodeBase(word string, radix int) (int, bool) {
	n := 0
	for _, c := range word {
		d := strings.IndexRune(packerAlphabet[:radix], c)
		if d < 0 {
			return 0, false
		}
		n = n*radix + d
		if n > maxSymbolIndex {
			return 0, false
		}
	}
	return n, true
}

func unescapeJS(s string) string {
	return strings.NewReplacer(`\'`, `'`, `\"`, `"`, `\\`, `\`).Replace(s)
}

// unpackAll returns html with every packed script replaced by its unpacked form
// appended, so callers can run the same regexes over both.
func unpackAll(html string) string {
	if !isPacked(html) {
		return html
	}
	var b strings.Builder
	b.WriteString(html)
	for _, chunk := range strings.Split(html, "eval(function(p,a,c,k,e,")[1:] {
		if out, err := unpack(chunk); err == nil {
			b.WriteString("\n")
			b.WriteString(out)
		}
	}
	return b.String()
}
