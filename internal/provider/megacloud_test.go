package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nineanimator/internal/media"
)

// encryptSources is the inverse of decryptSources, used to build fixtures.
func encryptSources(t *testing.T, plain, clientKey, megaKey string) string {
	t.Helper()
	key := deriveKey(megaKey, clientKey)
	cols := len(key) + 1

	data := []byte(fmt.Sprintf("%04d%s", len(plain), plain))
	for len(data)%cols != 0 {
		data = append(data, ' ')
	}

	for layer := 1; layer <= cipherLayers; layer++ {
		layerKey := key + strconv.Itoa(layer)

		shuffled := shuffledPrintable(layerKey)
		for i, b := range data {
			if isPrintable(b) {
				data[i] = shuffled[b-printableBase]
			}
		}

		data = columnarEncode(data, layerKey)

		rng := &lcg{state: keyHash(layerKey)}
		for i, b := range data {
			if isPrintable(b) {
				idx := int(b - printableBase)
				data[i] = byte(printableBase + (idx+rng.next(printableCount))%printableCount)
			}
		}
	}
	return base64.StdEncoding.EncodeToString(data)
}

func columnarEncode(src []byte, key string) []byte {
	cols := len(key)
	rows := len(src) / cols
	order := make([]int, cols)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return key[order[a]] < key[order[b]] })

	out := make([]byte, 0, len(src))
	for _, col := range order {
		for row := 0; row < rows; row++ {
			out = append(out, src[row*cols+col])
		}
	}
	return out
}

func TestExtractClientKey(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{"meta tag", `<head><meta name="_gg_fb" content="abc123XYZ"></head>`, "abc123XYZ"},
		{"comment", `<!-- _is_th:Key42 -->`, "Key42"},
		{"split object", `<script>window._lk_db = {x: "aa", y: "bb", z: "cc"};</script>`, "aabbcc"},
		{"data attribute", `<div data-dpi="dpiKey9" class="x"></div>`, "dpiKey9"},
		{"nonce", `<script nonce="n0nce">`, "n0nce"},
		{"window var", "<script>window._xy_ws = `wsKey`;</script>", "wsKey"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractClientKey(tt.html)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := extractClientKey("<html></html>")
	assert.True(t, errors.Is(err, media.ErrDecode))
}

func TestParseEmbedURL(t *testing.T) {
	tests := []struct {
		url        string
		wantHost   string
		wantPrefix string
		wantID     string
		wantErr    bool
	}{
		{"https://streameeeeee.site/embed-1/v3/e-1/AbCdEf123?z=", "streameeeeee.site", "embed-1", "AbCdEf123", false},
		{"https://megacloud.blog/embed-2/v3/e-1/XyZ789?k=1", "megacloud.blog", "embed-2", "XyZ789", false},
		{"https://example.com/e-1/testId", "example.com", "embed-2", "testId", false},
		{"", "", "", "", true},
		{"http://megacloud.blog/embed-2/v3/e-1/XyZ789", "", "", "", true},
	}
	for _, tt := range tests {
		host, prefix, id, err := parseEmbedURL(tt.url)
		if tt.wantErr {
			assert.True(t, errors.Is(err, media.ErrURL), tt.url)
			continue
		}
		require.NoError(t, err, tt.url)
		assert.Equal(t, tt.wantHost, host)
		assert.Equal(t, tt.wantPrefix, prefix)
		assert.Equal(t, tt.wantID, id)
	}
}

func TestColumnarDecode(t *testing.T) {
	assert.Equal(t, "cadb", string(columnarDecode([]byte("abcd"), "ba")))
	assert.Equal(t, "abc ", string(columnarDecode([]byte("abc"), "ab")), "short input is padded")
	assert.Equal(t, "xyz", string(columnarDecode([]byte("xyz"), "")))
}

func TestShuffledPrintableIsPermutation(t *testing.T) {
	out := shuffledPrintable("some-layer-key1")
	require.Len(t, out, printableCount)

	seen := map[byte]bool{}
	for _, c := range out {
		assert.True(t, isPrintable(c))
		seen[c] = true
	}
	assert.Len(t, seen, printableCount)
	assert.Equal(t, out, shuffledPrintable("some-layer-key1"))
	assert.NotEqual(t, out, shuffledPrintable("some-layer-key2"))
}

func TestDeriveKey(t *testing.T) {
	key := deriveKey("megaSecret", "client42")
	assert.NotEmpty(t, key)
	assert.LessOrEqual(t, len(key), 128)
	for i := 0; i < len(key); i++ {
		assert.True(t, isPrintable(key[i]))
	}
	assert.Equal(t, key, deriveKey("megaSecret", "client42"))
	assert.NotEqual(t, key, deriveKey("megaSecret", "client43"))
	assert.Empty(t, deriveKey("", ""))
}

func TestDecryptSourcesRoundTrip(t *testing.T) {
	plain := `[{"file":"https://cdn.example/hls/master.m3u8","type":"hls"}]`
	enc := encryptSources(t, plain, "client42", "megaSecret")

	got, err := decryptSources(enc, "client42", "megaSecret")
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	_, err = decryptSources("!!not base64!!", "client42", "megaSecret")
	assert.True(t, errors.Is(err, media.ErrDecode))

	wrong, err := decryptSources(enc, "client43", "megaSecret")
	if err == nil {
		assert.NotEqual(t, plain, wrong)
	}
}

func TestMegaCloudParse(t *testing.T) {
	const (
		clientKey = "ck7Ab"
		megaKey   = "publishedMega"
	)
	plain := `[{"file":"https://cdn.example/720/master.m3u8","type":"hls"},{"file":"https://cdn.example/1080/master.m3u8","type":"hls"}]`

	var keyFetches atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/embed-2/v3/e-1/abc123", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head><meta name="_gg_fb" content="%s"></head></html>`, clientKey)
	})
	mux.HandleFunc("/embed-2/v3/e-1/getSources", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc123", r.URL.Query().Get("id"))
		assert.Equal(t, clientKey, r.URL.Query().Get("_k"))
		json.NewEncoder(w).Encode(map[string]any{
			"sources":   encryptSources(t, plain, clientKey, megaKey),
			"encrypted": true,
			"tracks": []map[string]string{
				{"file": "https://cdn.example/en.vtt", "label": "English", "kind": "captions"},
				{"file": "https://cdn.example/thumbs.vtt", "kind": "thumbnails"},
			},
		})
	})
	mux.HandleFunc("/keys.json", func(w http.ResponseWriter, r *http.Request) {
		keyFetches.Add(1)
		fmt.Fprintf(w, `{"mega":%q,"rabbit":"unused"}`, megaKey)
	})
	s, ts := hostServer(t, mux)

	p := NewMegaCloud(s)
	p.keysURL = ts.URL + "/keys.json"

	ep := episodeFor(ts.URL + "/embed-2/v3/e-1/abc123?z=")
	ep.UserInfo = map[string]string{"quality": "1080"}

	m, err := p.Parse(context.Background(), ep, media.Playback)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/1080/master.m3u8", m.URL)
	assert.True(t, m.Aggregated)
	assert.Equal(t, "1080", m.Quality)
	require.Len(t, m.Subtitles, 1)
	assert.Equal(t, "English", m.Subtitles[0].Label)
	assert.True(t, strings.HasPrefix(m.Referer(), "https://127.0.0.1"))

	ep.UserInfo = nil
	m, err = p.Parse(context.Background(), ep, media.Playback)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/720/master.m3u8", m.URL)
	assert.Equal(t, int32(1), keyFetches.Load(), "mega key is fetched once")
}

func TestMegaCloudPlainSources(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/embed-1/v3/e-1/xyz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<script nonce="nonceKey">`))
	})
	mux.HandleFunc("/embed-1/v3/e-1/getSources", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sources":[],"encrypted":false,"tracks":[]}`))
	})
	s, ts := hostServer(t, mux)

	_, err := NewMegaCloud(s).Parse(context.Background(), episodeFor(ts.URL+"/embed-1/v3/e-1/xyz"), media.Playback)
	assert.True(t, errors.Is(err, media.ErrContentUnavailable))
}
