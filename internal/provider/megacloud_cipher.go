package provider

import (
	"encoding/base64"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"nineanimator/internal/media"
)

// MegaCloud encrypts its source list with three layers, each a seeded
// character shift, a columnar transposition and a seeded substitution over
// printable ASCII. decryptSources undoes them in reverse order; the
// plaintext starts with its length as four decimal digits.

const (
	printableBase  = 32
	printableCount = 95
	cipherLayers   = 3
)

func decryptSources(src, clientKey, megaKey string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '=', '\n', '\r', ' ':
			return -1
		}
		return r
	}, src)
	data, err := base64.RawStdEncoding.DecodeString(cleaned)
	if err != nil {
		return "", media.WrapError(media.ErrDecode, err, "megacloud: decoding sources")
	}

	key := deriveKey(megaKey, clientKey)
	for layer := cipherLayers; layer > 0; layer-- {
		data = reverseLayer(data, key+strconv.Itoa(layer))
	}

	if len(data) < 4 {
		return "", media.NewError(media.ErrDecode, "megacloud: decrypted payload too short")
	}
	n, err := strconv.Atoi(string(data[:4]))
	if err != nil || n < 0 || 4+n > len(data) {
		return "", media.NewError(media.ErrDecode, "megacloud: bad payload length")
	}
	return string(data[4 : 4+n]), nil
}

func isPrintable(b byte) bool {
	return b >= printableBase && b < printableBase+printableCount
}

// keyHash is the 32-bit rolling hash both the shift and the shuffle seed from.
func keyHash(key string) uint64 {
	var h uint64
	for i := 0; i < len(key); i++ {
		h = (h*31 + uint64(key[i])) & 0xffffffff
	}
	return h
}

// lcg is the linear congruential generator the cipher seeds per layer.
type lcg struct{ state uint64 }

func (g *lcg) next(n int) int {
	g.state = (g.state*1103515245 + 12345) & 0x7fffffff
	return int(g.state % uint64(n))
}

func reverseLayer(data []byte, layerKey string) []byte {
	rng := &lcg{state: keyHash(layerKey)}
	shifted := make([]byte, len(data))
	for i, b := range data {
		if !isPrintable(b) {
			shifted[i] = b
			continue
		}
		idx := int(b - printableBase)
		shifted[i] = byte(printableBase + (idx-rng.next(printableCount)+printableCount)%printableCount)
	}

	transposed := columnarDecode(shifted, layerKey)

	// substitution table maps shuffled[i] back to the i-th printable char
	var inverse [printableCount]byte
	for i, c := range shuffledPrintable(layerKey) {
		inverse[c-printableBase] = byte(printableBase + i)
	}
	for i, b := range transposed {
		if isPrintable(b) {
			transposed[i] = inverse[b-printableBase]
		}
	}
	return transposed
}

// shuffledPrintable returns printable ASCII permuted by a Fisher-Yates
// shuffle seeded from key.
func shuffledPrintable(key string) []byte {
	out := make([]byte, printableCount)
	for i := range out {
		out[i] = byte(printableBase + i)
	}
	rng := &lcg{state: keyHash(key)}
	for i := len(out) - 1; i > 0; i-- {
		j := rng.next(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// columnarDecode fills a grid column by column, visiting columns in the
// stable sort order of the key's bytes, then reads it row by row.
func columnarDecode(src []byte, key string) []byte {
	cols := len(key)
	if cols == 0 {
		return src
	}
	rows := (len(src) + cols - 1) / cols

	grid := make([]byte, rows*cols)
	for i := range grid {
		grid[i] = ' '
	}

	order := make([]int, cols)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return key[order[a]] < key[order[b]] })

	n := 0
	for _, col := range order {
		for row := 0; row < rows && n < len(src); row++ {
			grid[row*cols+col] = src[n]
			n++
		}
	}
	return grid
}

// deriveKey mixes the published MegaCloud key with the page's client key.
func deriveKey(megaKey, clientKey string) string {
	const (
		xorValue   = 247
		shiftValue = 5
	)

	combined := megaKey + clientKey
	if combined == "" {
		return ""
	}

	// h = c + 31h + (h << 7) - h, unbounded, hence big.Int
	h := new(big.Int)
	mul := big.NewInt(158)
	for i := 0; i < len(combined); i++ {
		h.Mul(h, mul)
		h.Add(h, big.NewInt(int64(combined[i])))
	}
	h.Abs(h)
	h.Mod(h, new(big.Int).SetUint64(0x7fffffffffffffff))
	hash := h.Int64()

	xored := make([]byte, len(combined))
	for i := 0; i < len(combined); i++ {
		xored[i] = combined[i] ^ xorValue
	}

	pivot := int(hash%int64(len(xored))) + shiftValue
	pivot %= len(xored)
	rotated := append(append([]byte{}, xored[pivot:]...), xored[:pivot]...)

	reversed := []byte(clientKey)
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}

	var key []byte
	for i := 0; i < len(rotated) || i < len(reversed); i++ {
		if i < len(rotated) {
			key = append(key, rotated[i])
		}
		if i < len(reversed) {
			key = append(key, reversed[i])
		}
	}

	if limit := 96 + int(hash%33); limit < len(key) {
		key = key[:limit]
	}
	for i, c := range key {
		key[i] = byte(int(c)%printableCount + printableBase)
	}
	return string(key)
}
