package store

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nineanimator/internal/media"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func link(n int) media.AnimeLink {
	return media.AnimeLink{
		Title:  fmt.Sprintf("Anime %d", n),
		Link:   fmt.Sprintf("https://animepahe.ru/anime/%d", n),
		Source: "animepahe",
	}
}

func TestNormalizeFraction(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.3, 0.3},
		{0.9499, 0.9499},
		{0.95, 1},
		{1.7, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeFraction(tt.in), "fraction %v", tt.in)
	}
}

func TestProgress(t *testing.T) {
	s := openTest(t)

	f, err := s.Progress("missing")
	require.NoError(t, err)
	assert.Zero(t, f)

	require.NoError(t, s.SetProgress(EpisodeProgress{
		EpisodeID:   "a1/ep1",
		AnimeLink:   "https://animepahe.ru/anime/a1",
		EpisodeName: "1",
		Server:      "kwik-jpn-1080",
		Position:    600,
		Duration:    1440,
	}))
	f, err = s.Progress("a1/ep1")
	require.NoError(t, err)
	assert.InDelta(t, 600.0/1440.0, f, 1e-9)

	// a later update without metadata keeps the stored metadata
	require.NoError(t, s.SetProgress(EpisodeProgress{EpisodeID: "a1/ep1", Position: 1400, Duration: 1440}))
	p, ok, err := s.ProgressEntry("a1/ep1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.0, p.Fraction, "past the finished threshold")
	assert.Equal(t, "kwik-jpn-1080", p.Server)
	assert.Equal(t, "https://animepahe.ru/anime/a1", p.AnimeLink)
	assert.Equal(t, 1400.0, p.Position)

	require.NoError(t, s.SetProgress(EpisodeProgress{EpisodeID: "a1/ep2", Fraction: 3}))
	f, _ = s.Progress("a1/ep2")
	assert.Equal(t, 1.0, f)

	assert.Error(t, s.SetProgress(EpisodeProgress{}))

	all, err := s.AllProgress()
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"a1/ep1": 1, "a1/ep2": 1}, all)
}

func TestLatestProgress(t *testing.T) {
	s := openTest(t)

	_, ok, err := s.LatestProgress()
	require.NoError(t, err)
	assert.False(t, ok)

	base := time.Now()
	require.NoError(t, s.SetProgress(EpisodeProgress{EpisodeID: "old", Fraction: 0.2, Updated: base.Add(-time.Hour)}))
	require.NoError(t, s.SetProgress(EpisodeProgress{EpisodeID: "new", Fraction: 0.4, Updated: base}))

	p, ok, err := s.LatestProgress()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", p.EpisodeID)
}

func TestProgressHistory(t *testing.T) {
	s := openTest(t)
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SetProgress(EpisodeProgress{EpisodeID: id, Fraction: 0.5, Updated: base.Add(time.Duration(i) * time.Minute)}))
	}

	all, err := s.ProgressHistory(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].EpisodeID)
	assert.Equal(t, "a", all[2].EpisodeID)

	two, err := s.ProgressHistory(2)
	require.NoError(t, err)
	assert.Len(t, two, 2)

	require.NoError(t, s.DeleteProgress("c"))
	require.NoError(t, s.DeleteProgress("missing"))
	all, err = s.ProgressHistory(0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestFractionOnlyWriteKeepsDuration(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.SetProgress(EpisodeProgress{EpisodeID: "ep", Position: 600, Duration: 1440, Server: "kwik"}))

	require.NoError(t, s.SetProgress(EpisodeProgress{EpisodeID: "ep", Fraction: 0.75}))
	p, _, err := s.ProgressEntry("ep")
	require.NoError(t, err)
	assert.Equal(t, 1440.0, p.Duration)
	assert.Equal(t, 1080.0, p.Position)
	assert.Equal(t, 0.75, p.Fraction)

	require.NoError(t, s.ReplaceProgress(map[string]float64{"ep": 0.25}))
	p, _, err = s.ProgressEntry("ep")
	require.NoError(t, err)
	assert.Equal(t, 1440.0, p.Duration)
	assert.Equal(t, 360.0, p.Position)

	// a full report replaces both
	require.NoError(t, s.SetProgress(EpisodeProgress{EpisodeID: "ep", Position: 100, Duration: 1000}))
	p, _, err = s.ProgressEntry("ep")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, p.Duration)
	assert.Equal(t, 100.0, p.Position)
}

func TestReplaceLibraryIsAtomic(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.ReplaceLibrary(Library{
		Recent:        []media.AnimeLink{link(1)},
		Progress:      map[string]float64{"ep": 0.5},
		Subscriptions: []media.AnimeLink{link(1)},
	}))

	_, err := s.db.Exec(`CREATE TRIGGER reject_subscriptions BEFORE INSERT ON subscriptions BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	require.NoError(t, err)

	err = s.ReplaceLibrary(Library{
		Recent:        []media.AnimeLink{link(2)},
		Progress:      map[string]float64{"other": 0.2},
		Subscriptions: []media.AnimeLink{link(2)},
	})
	require.Error(t, err)

	recent, err := s.Recent()
	require.NoError(t, err)
	assert.Equal(t, []media.AnimeLink{link(1)}, recent)
	all, err := s.AllProgress()
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"ep": 0.5}, all)
	subs, err := s.Subscriptions()
	require.NoError(t, err)
	assert.Equal(t, []media.AnimeLink{link(1)}, subs)
}

func TestReplaceProgress(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.SetProgress(EpisodeProgress{EpisodeID: "keep", Position: 30, Duration: 100, Server: "dood"}))
	require.NoError(t, s.SetProgress(EpisodeProgress{EpisodeID: "change", Fraction: 0.5}))
	require.NoError(t, s.SetProgress(EpisodeProgress{EpisodeID: "drop", Fraction: 0.5}))

	require.NoError(t, s.ReplaceProgress(map[string]float64{
		"keep":   0.3,
		"change": 0.8,
		"new":    0.96,
		"":       0.1,
	}))

	all, err := s.AllProgress()
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"keep": 0.3, "change": 0.8, "new": 1}, all)

	p, _, err := s.ProgressEntry("keep")
	require.NoError(t, err)
	assert.Equal(t, 30.0, p.Position, "unchanged rows keep their position")
	assert.Equal(t, "dood", p.Server)

	p, _, err = s.ProgressEntry("change")
	require.NoError(t, err)
	assert.Zero(t, p.Position)

	require.NoError(t, s.ReplaceProgress(nil))
	all, err = s.AllProgress()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRecent(t *testing.T) {
	s := openTest(t)

	recent, err := s.Recent()
	require.NoError(t, err)
	assert.Empty(t, recent)

	require.NoError(t, s.PushRecent(link(1)))
	require.NoError(t, s.PushRecent(link(2)))
	require.NoError(t, s.PushRecent(link(3)))
	renamed := link(1)
	renamed.Title = "Renamed"
	require.NoError(t, s.PushRecent(renamed))

	recent, err = s.Recent()
	require.NoError(t, err)
	assert.Equal(t, []media.AnimeLink{renamed, link(3), link(2)}, recent)

	assert.Error(t, s.PushRecent(media.AnimeLink{Title: "no link"}))
}

func TestRecentIsCapped(t *testing.T) {
	s := openTest(t)
	for i := 0; i < MaxRecent+5; i++ {
		require.NoError(t, s.PushRecent(link(i)))
	}
	recent, err := s.Recent()
	require.NoError(t, err)
	require.Len(t, recent, MaxRecent)
	assert.Equal(t, link(MaxRecent+4), recent[0])
	assert.Equal(t, link(5), recent[MaxRecent-1])
}

func TestSubscriptions(t *testing.T) {
	s := openTest(t)

	require.NoError(t, s.Subscribe(link(1)))
	require.NoError(t, s.Subscribe(link(2)))
	updated := link(1)
	updated.Image = "https://img/1.jpg"
	require.NoError(t, s.Subscribe(updated))

	subs, err := s.Subscriptions()
	require.NoError(t, err)
	assert.Equal(t, []media.AnimeLink{updated, link(2)}, subs, "resubscribing keeps the original order")

	ok, err := s.IsSubscribed(link(2).Link)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Unsubscribe(link(2).Link))
	require.NoError(t, s.Unsubscribe("https://unknown"))
	ok, _ = s.IsSubscribed(link(2).Link)
	assert.False(t, ok)

	require.NoError(t, s.ReplaceSubscriptions([]media.AnimeLink{link(3), link(4), link(3)}))
	subs, err = s.Subscriptions()
	require.NoError(t, err)
	assert.Equal(t, []media.AnimeLink{link(3), link(4)}, subs)
}

func TestRecentServer(t *testing.T) {
	s := openTest(t)

	server, err := s.RecentServer("gogoanime")
	require.NoError(t, err)
	assert.Empty(t, server)

	require.NoError(t, s.SetRecentServer("gogoanime", "mp4upload"))
	require.NoError(t, s.SetRecentServer("gogoanime", "doodstream"))
	require.NoError(t, s.SetRecentServer("animepahe", "kwik-jpn-1080"))

	server, err = s.RecentServer("gogoanime")
	require.NoError(t, err)
	assert.Equal(t, media.ServerID("doodstream"), server)
}

func TestTasks(t *testing.T) {
	s := openTest(t)

	_, ok, err := s.Task("ep-1")
	require.NoError(t, err)
	assert.False(t, ok)

	task := Task{
		EpisodeID:   "ep-1",
		AnimeTitle:  "Dandadan",
		EpisodeName: "1",
		Server:      "mp4upload",
		URL:         "https://cdn/video.mp4",
		Path:        "/tmp/Dandadan - 1.mp4",
		State:       "pending",
	}
	require.NoError(t, s.SaveTask(task))
	require.NoError(t, s.SaveTask(Task{EpisodeID: "ep-2", State: "preserving", Received: 10, Total: 100}))

	task.State = "ready"
	task.Received, task.Total = 2048, 2048
	require.NoError(t, s.SaveTask(task))

	got, ok, err := s.Task("ep-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ready", got.State)
	assert.Equal(t, int64(2048), got.Received)
	assert.Equal(t, "Dandadan", got.AnimeTitle)
	assert.False(t, got.Updated.IsZero())

	n, err := s.MarkTasks("preserving", "interrupted")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	tasks, err := s.Tasks()
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	states := map[string]string{}
	for _, tk := range tasks {
		states[tk.EpisodeID] = tk.State
	}
	assert.Equal(t, map[string]string{"ep-1": "ready", "ep-2": "interrupted"}, states)

	require.NoError(t, s.DeleteTask("ep-1"))
	require.NoError(t, s.DeleteTask("ep-1"))
	tasks, err = s.Tasks()
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	assert.Error(t, s.SaveTask(Task{}))
}

func TestReopenKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SetProgress(EpisodeProgress{EpisodeID: "ep", Fraction: 0.5}))
	require.NoError(t, s.Subscribe(link(7)))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, path, s.Path())

	f, err := s.Progress("ep")
	require.NoError(t, err)
	assert.Equal(t, 0.5, f)
	subs, err := s.Subscriptions()
	require.NoError(t, err)
	assert.Equal(t, []media.AnimeLink{link(7)}, subs)
}

func TestConcurrentProgressWrites(t *testing.T) {
	s := openTest(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.SetProgress(EpisodeProgress{EpisodeID: fmt.Sprintf("ep-%d", i%4), Fraction: 0.25}))
		}(i)
	}
	wg.Wait()

	all, err := s.AllProgress()
	require.NoError(t, err)
	assert.Len(t, all, 4)
}
