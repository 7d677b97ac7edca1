package provider

import (
	"sync"

	"nineanimator/internal/httputil"
)

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry, built on first use.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewDefault(httputil.NewSession())
	})
	return defaultRegistry
}

// NewDefault returns a registry with every built-in parser sharing session.
// Order matters: earlier entries win alias collisions.
func NewDefault(s *httputil.Session) *Registry {
	r := NewRegistry()
	r.Register("Kwik", NewKwik(s))
	r.Register("Mp4Upload", NewMp4Upload(s))
	r.Register("DoodStream", NewDoodStream(s))
	r.Register("StreamTape", NewStreamTape(s))
	r.Register("VOE", NewVOE(s))
	r.Register("MegaCloud", NewMegaCloud(s))
	r.Register("Dailymotion", NewDailymotion(s))
	r.Register("VideoObject", NewVideoObject(s))
	r.Register("YtDlp", NewYtDlp())
	r.Register("Passthrough", NewPassthrough())
	r.Register("Dummy", NewDummy())
	return r
}
