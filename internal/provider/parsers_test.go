package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nineanimator/internal/httputil"
	"nineanimator/internal/media"
)

// packedPlayer is a packed script whose payload is
// const source='https://cdn.example/master.m3u8';
const packedPlayer = `<script>eval(function(p,a,c,k,e,d){e=function(c){return c};if(!''.replace(/^/,String)){while(c--){d[c]=k[c]||c}k=[function(e){return d[e]}];e=function(){return'\\w+'};c=1};while(c--){if(k[c]){p=p.replace(new RegExp('\\b'+e(c)+'\\b','g'),k[c])}}return p}('3 0=\'1://2.4/5.6\';',7,7,'source|https|cdn|const|example|master|m3u8'.split('|'),0,{}))</script>`

func hostServer(t *testing.T, mux *http.ServeMux) (*httputil.Session, *httptest.Server) {
	t.Helper()
	ts := httptest.NewTLSServer(mux)
	t.Cleanup(ts.Close)
	return httputil.NewSession(httputil.WithClient(ts.Client()), httputil.WithoutCache()), ts
}

func episodeFor(target string) *media.Episode {
	return &media.Episode{
		Link:   media.EpisodeLink{Identifier: "show/ep-1", Name: "1", Server: "test"},
		Target: target,
	}
}

func TestUnpack(t *testing.T) {
	out, err := unpack(packedPlayer)
	require.NoError(t, err)
	assert.Equal(t, "const source='https://cdn.example/master.m3u8';", out)

	assert.True(t, isPacked(packedPlayer))
	assert.False(t, isPacked("<script>var a = 1;</script>"))

	_, err = unpack("no script here")
	assert.True(t, errors.Is(err, media.ErrDecode))

	tests := []struct {
		name   string
		script string
		want   string
	}{
		{
			name:   "over-long word is left alone",
			script: "eval(function(p,a,c,k,e,d){}('var " + strings.Repeat("z", 32) + "=1',62,2,'a|b'.split('|'),0,{}))",
			want:   "var " + strings.Repeat("z", 32) + "=b",
		},
		{
			name:   "index past the table is left alone",
			script: "eval(function(p,a,c,k,e,d){}('0 1 9',10,2,'a|b'.split('|'),0,{}))",
			want:   "a b 9",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out string
			require.NotPanics(t, func() { out, err = unpack(tt.script) })
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestDecodeBase(t *testing.T) {
	tests := []struct {
		word  string
		radix int
		want  int
		ok    bool
	}{
		{"0", 10, 0, true},
		{"a", 36, 10, true},
		{"1a", 36, 46, true},
		{"Z", 62, 61, true},
		{"10", 62, 62, true},
		{"z", 10, 0, false},
		{strings.Repeat("z", 32), 62, 0, false},
		{"zzzzzzzzzzzzzzzzzzzz", 36, 0, false},
	}
	for _, tt := range tests {
		got, ok := decodeBase(tt.word, tt.radix)
		assert.Equal(t, tt.ok, ok, tt.word)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.word)
		}
	}
}

func TestKwikParse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/e/abc", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://animepahe.ru/", r.Header.Get("Referer"))
		fmt.Fprintf(w, "<html><body>%s</body></html>", packedPlayer)
	})
	s, ts := hostServer(t, mux)

	m, err := NewKwik(s).Parse(context.Background(), episodeFor(ts.URL+"/e/abc"), media.Playback)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/master.m3u8", m.URL)
	assert.True(t, m.Aggregated)
	assert.Equal(t, ts.URL+"/", m.Referer())
	assert.Equal(t, "show/ep-1", m.Link.Identifier)
}

func TestKwikMissingSource(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/e/abc", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>removed</html>"))
	})
	s, ts := hostServer(t, mux)

	_, err := NewKwik(s).Parse(context.Background(), episodeFor(ts.URL+"/e/abc"), media.Playback)
	assert.True(t, errors.Is(err, media.ErrDecode))
}

func TestMp4UploadParse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/embed-1.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<script>player.src({ type: "video/mp4", src: "https://a4.mp4upload.com:183/d/xyz/video.mp4" });</script>`))
	})
	s, ts := hostServer(t, mux)

	p := NewMp4Upload(s)
	m, err := p.Parse(context.Background(), episodeFor(ts.URL+"/embed-1.html"), media.Download)
	require.NoError(t, err)
	assert.Equal(t, "https://a4.mp4upload.com:183/d/xyz/video.mp4", m.URL)
	assert.False(t, m.Aggregated)
	assert.Equal(t, "https://www.mp4upload.com/", m.Referer())
	assert.True(t, p.IsRecommended(media.Download))
}

func TestDoodStreamParse(t *testing.T) {
	var ts *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/e/xyz", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/d/xyz", http.StatusFound)
	})
	mux.HandleFunc("/d/xyz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<title>Episode 1 720p</title><script>$.get('/pass_md5/123-45/tok987', function(data){ makePlay(data) })</script>`))
	})
	mux.HandleFunc("/pass_md5/123-45/tok987", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ts.URL+"/d/xyz", r.Header.Get("Referer"))
		w.Write([]byte("https://cdn.dood.example/u5kj/abc~"))
	})
	s, srv := hostServer(t, mux)
	ts = srv

	d := NewDoodStream(s)
	d.now = func() time.Time { return time.UnixMilli(1700000000000) }

	m, err := d.Parse(context.Background(), episodeFor(ts.URL+"/e/xyz"), media.Playback)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(m.URL, "https://cdn.dood.example/u5kj/abc~"))
	assert.True(t, strings.HasSuffix(m.URL, "?token=tok987&expiry=1700000000000"))
	assert.Len(t, m.URL, len("https://cdn.dood.example/u5kj/abc~")+10+len("?token=tok987&expiry=1700000000000"))
	assert.Equal(t, "720p", m.Quality)
	assert.Equal(t, ts.URL+"/", m.Referer())
}

func TestDoodStreamRemovedVideo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/e/gone", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`$.get('/pass_md5/1/t')`))
	})
	mux.HandleFunc("/pass_md5/1/t", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("RELOAD"))
	})
	s, ts := hostServer(t, mux)

	_, err := NewDoodStream(s).Parse(context.Background(), episodeFor(ts.URL+"/e/gone"), media.Playback)
	assert.True(t, errors.Is(err, media.ErrContentUnavailable))
}

func TestStreamTapeParse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/e/abc", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<script>document.getElementById('robotlink').innerHTML = '//streamtape.com/get_video?id=abc&expires=1&ip=x&token=' + ('xcdqwerty').substring(1).substring(2);</script>`))
	})
	s, ts := hostServer(t, mux)

	m, err := NewStreamTape(s).Parse(context.Background(), episodeFor(ts.URL+"/e/abc"), media.Playback)
	require.NoError(t, err)
	assert.Equal(t, "https://streamtape.com/get_video?id=abc&expires=1&ip=x&token=qwerty&stream=1", m.URL)
}

func TestVOEParseFollowsRedirect(t *testing.T) {
	hls := base64.StdEncoding.EncodeToString([]byte("https://cdn.voe.example/master.m3u8"))
	var ts *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/e/abc", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<script>window.location.href = '%s/mirror/abc';</script>`, ts.URL)
	})
	mux.HandleFunc("/mirror/abc", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `var sources = {'hls': '%s', 'mp4': 'https://cdn.voe.example/video.mp4'};`, hls)
	})
	s, srv := hostServer(t, mux)
	ts = srv

	p := NewVOE(s)
	m, err := p.Parse(context.Background(), episodeFor(ts.URL+"/e/abc"), media.Playback)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.voe.example/master.m3u8", m.URL)
	assert.True(t, m.Aggregated)

	m, err = p.Parse(context.Background(), episodeFor(ts.URL+"/e/abc"), media.Download)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.voe.example/video.mp4", m.URL)
	assert.False(t, m.Aggregated)
}

func TestDailymotionParse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/meta/x8abc", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"title":"Ep","qualities":{"auto":[{"type":"application/x-mpegURL","url":"https://proxy.dm.example/x8abc.m3u8"}]}}`))
	})
	mux.HandleFunc("/meta/x8gone", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"title":"Video not found"}}`))
	})
	s, ts := hostServer(t, mux)

	d := NewDailymotion(s)
	d.metadataURL = ts.URL + "/meta/"

	m, err := d.Parse(context.Background(), episodeFor("https://www.dailymotion.com/embed/video/x8abc"), media.Playback)
	require.NoError(t, err)
	assert.Equal(t, "https://proxy.dm.example/x8abc.m3u8", m.URL)
	assert.True(t, m.Aggregated)

	_, err = d.Parse(context.Background(), episodeFor("https://www.dailymotion.com/video/x8gone"), media.Playback)
	assert.True(t, errors.Is(err, media.ErrContentUnavailable))

	_, err = d.Parse(context.Background(), episodeFor("https://www.dailymotion.com/"), media.Playback)
	assert.True(t, errors.Is(err, media.ErrURL))
}

func TestDailymotionID(t *testing.T) {
	assert.Equal(t, "x8abc", dailymotionID("https://www.dailymotion.com/video/x8abc_some-title"))
	assert.Equal(t, "x8abc", dailymotionID("https://geo.dailymotion.com/player.html?video=x8abc"))
	assert.Equal(t, "", dailymotionID("https://www.dailymotion.com/user/someone"))
}

func TestVideoObjectParse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/player", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<video controls><source src="/media/ep1.mp4" type="video/mp4"></video>`))
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<div>nothing</div>`))
	})
	s, ts := hostServer(t, mux)

	p := NewVideoObject(s)
	m, err := p.Parse(context.Background(), episodeFor(ts.URL+"/player"), media.Playback)
	require.NoError(t, err)
	assert.Equal(t, ts.URL+"/media/ep1.mp4", m.URL)
	assert.Equal(t, "video/mp4", m.ContentType)

	_, err = p.Parse(context.Background(), episodeFor(ts.URL+"/empty"), media.Playback)
	assert.True(t, errors.Is(err, media.ErrProvider))
}

func TestPassthroughAndDummy(t *testing.T) {
	p := NewPassthrough()
	ep := episodeFor("https://cdn.example/hls/index.m3u8")
	ep.Referer = "https://site.example/"

	m, err := p.Parse(context.Background(), ep, media.Cast)
	require.NoError(t, err)
	assert.True(t, m.Aggregated)
	assert.Equal(t, "https://site.example/", m.Referer())

	_, err = p.Parse(context.Background(), episodeFor("ftp://cdn.example/x"), media.Playback)
	assert.True(t, errors.Is(err, media.ErrURL))

	d := NewDummy()
	for _, purpose := range media.AllPurposes {
		assert.False(t, d.IsRecommended(purpose))
	}
	_, err = d.Parse(context.Background(), ep, media.Playback)
	assert.True(t, errors.Is(err, media.ErrProvider))
}

func TestYtDlpFormat(t *testing.T) {
	y := NewYtDlp()
	assert.True(t, y.IsRecommended(media.Download))
	assert.False(t, y.IsRecommended(media.Playback))
	assert.Equal(t, "best", ytdlpFormat(media.Playback))
	assert.Contains(t, ytdlpFormat(media.Download), "mp4")

	_, err := y.Parse(context.Background(), episodeFor("not a url"), media.Download)
	assert.True(t, errors.Is(err, media.ErrURL))
}

func TestYtDlpInfoPick(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		want    string
		header  string
		wantErr bool
	}{
		{
			name:   "single format",
			out:    `{"url":"https://cdn.example/v.mp4","format_id":"hls-720","http_headers":{"Origin":"https://embed.example"}}`,
			want:   "https://cdn.example/v.mp4",
			header: "https://embed.example",
		},
		{
			name: "separate video and audio fall back to a combined format",
			out: `{"requested_formats":[{"url":"https://cdn.example/video","vcodec":"avc1","acodec":"none"},{"url":"https://cdn.example/audio","vcodec":"none","acodec":"mp4a"}],
				"formats":[{"url":"https://cdn.example/360.mp4","vcodec":"avc1","acodec":"mp4a"},{"url":"https://cdn.example/480.mp4","vcodec":"avc1","acodec":"mp4a"},{"url":"https://cdn.example/video","vcodec":"avc1","acodec":"none"}]}`,
			want: "https://cdn.example/480.mp4",
		},
		{
			name: "playlist uses its first entry",
			out:  `{"entries":[{"url":"https://cdn.example/ep1.m3u8"},{"url":"https://cdn.example/ep2.m3u8"}]}`,
			want: "https://cdn.example/ep1.m3u8",
		},
		{
			name:    "only split streams",
			out:     `{"requested_formats":[{"url":"https://cdn.example/video","vcodec":"avc1","acodec":"none"},{"url":"https://cdn.example/audio","vcodec":"none","acodec":"mp4a"}]}`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := parseYtDlpInfo(tt.out)
			require.NoError(t, err)
			got, headers, err := info.pick()
			if tt.wantErr {
				assert.True(t, errors.Is(err, media.ErrProvider), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if tt.header != "" {
				assert.Equal(t, tt.header, headers["Origin"])
			}
		})
	}

	_, err := parseYtDlpInfo("ERROR: unsupported URL")
	assert.True(t, errors.Is(err, media.ErrDecode))
}

func TestYtDlpSubtitleTracks(t *testing.T) {
	info, err := parseYtDlpInfo(`{"url":"https://cdn.example/v.mp4","subtitles":{
		"fr":[{"url":"https://cdn.example/fr.json3","ext":"json3"},{"url":"https://cdn.example/fr.vtt","ext":"vtt","name":"French"}],
		"en":[{"url":"https://cdn.example/en.vtt","ext":"vtt","name":"English"}]}}`)
	require.NoError(t, err)
	assert.Equal(t, []media.Subtitle{
		{Language: "en", Label: "English", URL: "https://cdn.example/en.vtt"},
		{Language: "fr", Label: "French", URL: "https://cdn.example/fr.vtt"},
	}, info.subtitleTracks())
}
