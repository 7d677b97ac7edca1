package player

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nineanimator/internal/media"
)

func testMedia() *media.PlaybackMedia {
	return &media.PlaybackMedia{
		URL: "https://cdn.example/master.m3u8",
		Headers: map[string]string{
			"Referer":    "https://kwik.si/e/abc",
			"User-Agent": "ua/1.0",
			"Origin":     "https://kwik.si",
		},
		Subtitles: []media.Subtitle{{Language: "en", URL: ""}, {Language: "en", URL: "https://cdn.example/en.vtt"}},
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "mpv"},
		{"mpv", "mpv"},
		{"VLC", "vlc"},
		{"iina", "iina"},
		{" celluloid ", "celluloid"},
		{" IINA", "iina"},
	}
	for _, tt := range tests {
		p, err := New(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, p.Name())
	}

	_, err := New("quicktime")
	assert.True(t, errors.Is(err, media.ErrArgument))
}

func TestMPVArgs(t *testing.T) {
	args := mpvArgs(testMedia(), Options{Title: "Frieren - Episode 3", Start: 90.4}, "/tmp/sock")

	assert.Equal(t, "https://cdn.example/master.m3u8", args[len(args)-1], "URL comes last")
	assert.Contains(t, args, "--force-media-title=Frieren - Episode 3")
	assert.Contains(t, args, "--input-ipc-server=/tmp/sock")
	assert.Contains(t, args, "--start=+90")
	assert.Contains(t, args, "--referrer=https://kwik.si/e/abc")
	assert.Contains(t, args, "--user-agent=ua/1.0")
	assert.Contains(t, args, "--http-header-fields=Origin: https://kwik.si")
	assert.Contains(t, args, "--sub-file=https://cdn.example/en.vtt")

	args = mpvArgs(&media.PlaybackMedia{URL: "https://cdn.example/a.mp4"}, Options{Title: "t", SubFile: "/tmp/a.srt"}, "")
	joined := strings.Join(args, " ")
	assert.NotContains(t, joined, "--start")
	assert.NotContains(t, joined, "--referrer")
	assert.NotContains(t, joined, "--input-ipc-server")
	assert.Contains(t, args, "--sub-file=/tmp/a.srt")

	args = mpvArgs(testMedia(), Options{Title: "t", StartFraction: 0.75}, "")
	assert.Contains(t, args, "--start=75.0%")

	args = mpvArgs(testMedia(), Options{Title: "t", Start: 30, StartFraction: 0.75}, "")
	assert.Contains(t, args, "--start=+30")
	assert.NotContains(t, args, "--start=75.0%")
}

func TestVLCArgs(t *testing.T) {
	args := vlcArgs(testMedia(), Options{Title: "Frieren", Start: 30})
	assert.Equal(t, "https://cdn.example/master.m3u8", args[0])
	assert.Contains(t, args, "--http-referrer=https://kwik.si/e/abc")
	assert.Contains(t, args, "--http-user-agent=ua/1.0")
	assert.Contains(t, args, "--start-time=30")
	assert.Equal(t, "https://cdn.example/en.vtt", args[len(args)-1])
}

func TestTrackPlayback(t *testing.T) {
	events := strings.Join([]string{
		`{"request_id":100,"error":"success"}`,
		`{"event":"property-change","id":2,"name":"duration","data":1420.5}`,
		`{"event":"property-change","id":1,"name":"time-pos","data":12.0}`,
		`not json`,
		`{"event":"property-change","id":1,"name":"time-pos"}`,
		`{"event":"property-change","id":1,"name":"time-pos","data":815.25}`,
		`{"event":"end-file"}`,
	}, "\n")

	res := trackPlayback(strings.NewReader(events))
	assert.Equal(t, Result{Position: 815.25, Duration: 1420.5}, res)
	assert.InDelta(t, 815.25/1420.5, res.Fraction(), 1e-9)
	assert.True(t, res.Tracked())
}

func TestObserve(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, observe(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"observe_property",1,"time-pos"`)
	assert.Contains(t, lines[1], `"observe_property",2,"duration"`)
}

func TestResultFraction(t *testing.T) {
	assert.Zero(t, Result{Position: 10}.Fraction())
	assert.False(t, Result{}.Tracked())
}
