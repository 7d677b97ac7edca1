// Package download manages offline copies of episodes. Each job resolves
// its episode for the Download purpose and saves the media with the tool
// that suits it: plain HTTP with resume for files, ffmpeg for HLS and
// yt-dlp when neither works.
package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"nineanimator/internal/httputil"
	"nineanimator/internal/logging"
	"nineanimator/internal/media"
	"nineanimator/internal/store"
	"nineanimator/internal/subtitle"
)

// State is the lifecycle state of an offline task.
type State string

const (
	Pending     State = "pending"
	Preserving  State = "preserving"
	Ready       State = "ready"
	Interrupted State = "interrupted"
	Failed      State = "failed"
)

// Resolver turns an episode into downloadable media. *provider.Registry
// satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, server string, episode *media.Episode, purpose media.Purpose) (*media.PlaybackMedia, error)
}

// TaskStore persists task state. *store.Store satisfies it.
type TaskStore interface {
	SaveTask(t store.Task) error
	Task(episodeID string) (store.Task, bool, error)
	Tasks() ([]store.Task, error)
	DeleteTask(episodeID string) error
	MarkTasks(from, to string) (int64, error)
}

// Job is one episode to download.
type Job struct {
	Episode    *media.Episode
	Server     string // parser name or alias
	AnimeTitle string
}

func (j Job) title() string {
	name := j.Episode.Link.Name
	if name == "" {
		name = j.Episode.ID()
	}
	if j.AnimeTitle == "" {
		return "Episode " + name
	}
	return j.AnimeTitle + " - Episode " + name
}

// Task is a download as reported to callers.
type Task struct {
	EpisodeID string
	Title     string
	Server    string
	Path      string
	State     State
	Received  int64
	Total     int64
	Error     string
	Updated   time.Time
}

// Fraction returns the completed fraction, 0 when the size is unknown.
func (t Task) Fraction() float64 {
	if t.State == Ready {
		return 1
	}
	if t.Total <= 0 {
		return 0
	}
	return float64(t.Received) / float64(t.Total)
}

// Manager runs download jobs with bounded concurrency.
type Manager struct {
	store       TaskStore
	resolver    Resolver
	client      *http.Client
	dir         string
	concurrency int
	reporter    Reporter
	ffmpegPath  func() (string, error)
	ffmpeg      func(ctx context.Context, bin string, args []string, progress func(received, total int64)) error
	ytdlp       func(ctx context.Context, req ytdlpRequest) error
	saveEvery   time.Duration

	session  *httputil.Session
	subsLang string
}

// Option configures a Manager.
type Option func(*Manager)

func WithDir(dir string) Option { return func(m *Manager) { m.dir = dir } }

func WithConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

func WithClient(c *http.Client) Option { return func(m *Manager) { m.client = c } }

func WithReporter(r Reporter) Option { return func(m *Manager) { m.reporter = r } }

// WithSubtitles muxes the resolved media's best subtitle track for language
// into HLS downloads, fetching it through s.
func WithSubtitles(s *httputil.Session, language string) Option {
	return func(m *Manager) {
		m.session = s
		m.subsLang = language
	}
}

// NewManager creates a manager. Tasks left in Preserving by a previous run
// are marked Interrupted.
func NewManager(st TaskStore, resolver Resolver, opts ...Option) (*Manager, error) {
	m := &Manager{
		store:       st,
		resolver:    resolver,
		client:      downloadClient(),
		dir:         ".",
		concurrency: 2,
		reporter:    NewLogReporter(),
		ffmpegPath:  lookFFmpeg,
		ffmpeg:      runFFmpeg,
		ytdlp:       runYtDlp,
		saveEvery:   time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}

	n, err := st.MarkTasks(string(Preserving), string(Interrupted))
	if err != nil {
		return nil, fmt.Errorf("recovering tasks: %w", err)
	}
	if n > 0 {
		logging.Info("marked unfinished downloads as interrupted", "count", n)
	}
	return m, nil
}

// downloadClient is the hardened client without an overall timeout, since
// episode files take minutes to transfer.
func downloadClient() *http.Client {
	c := httputil.NewClient()
	c.Timeout = 0
	return c
}

// Enqueue downloads jobs, at most concurrency at a time. One job failing
// does not stop the others; the returned error joins every failure.
func (m *Manager) Enqueue(ctx context.Context, jobs []Job) error {
	for _, job := range jobs {
		if job.Episode == nil || job.Episode.ID() == "" {
			return media.NewError(media.ErrArgument, "download job without an episode")
		}
		if err := m.save(job, Pending, nil, 0, 0, "", ""); err != nil {
			return err
		}
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(m.concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			if err := m.run(ctx, job); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", job.title(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

func (m *Manager) run(ctx context.Context, job Job) (err error) {
	id := job.Episode.ID()
	title := job.title()
	m.reporter.Started(id, title)
	defer func() { m.reporter.Finished(id, err) }()

	if err := ctx.Err(); err != nil {
		m.save(job, Interrupted, nil, 0, 0, "", err.Error())
		return err
	}
	if err := m.save(job, Preserving, nil, 0, 0, "", ""); err != nil {
		return err
	}

	pm, err := m.resolver.Resolve(ctx, job.Server, job.Episode, media.Download)
	if err != nil {
		m.fail(ctx, job, nil, "", err)
		return err
	}

	if err := os.MkdirAll(m.dir, 0755); err != nil {
		m.fail(ctx, job, pm, "", err)
		return fmt.Errorf("creating download dir: %w", err)
	}
	ext := ".mp4"
	if pm.IsHLS() {
		ext = ".mkv"
	}
	path, err := httputil.SafeDownloadPath(m.dir, httputil.SanitizeFilename(title)+ext)
	if err != nil {
		m.fail(ctx, job, pm, "", err)
		return fmt.Errorf("invalid output path: %w", err)
	}

	progress := m.progressFunc(job, pm, path)
	if pm.IsHLS() {
		subFile, cleanup := m.fetchSubtitle(ctx, pm)
		err = m.fetchHLS(ctx, pm, job.title(), subFile, path, progress)
		cleanup()
	} else {
		err = m.fetchDirect(ctx, pm, path, progress)
		if err != nil && ctx.Err() == nil && job.Episode.Target != "" {
			logging.Warn("direct download failed, trying yt-dlp", "episode", id, "err", err)
			err = m.ytdlp(ctx, ytdlpRequest{url: job.Episode.Target, path: path, headers: pm.Headers, progress: progress})
		}
	}
	if err != nil {
		m.fail(ctx, job, pm, path, err)
		return err
	}

	var size int64
	if fi, statErr := os.Stat(path); statErr == nil {
		size = fi.Size()
	}
	if err := m.save(job, Ready, pm, size, size, path, ""); err != nil {
		return err
	}
	logging.Info("download finished", "episode", id, "path", path)
	return nil
}

// fetchSubtitle downloads the subtitle track to mux into an HLS download.
// Failures are logged and the download continues without subtitles.
func (m *Manager) fetchSubtitle(ctx context.Context, pm *media.PlaybackMedia) (string, func()) {
	noop := func() {}
	if m.session == nil || len(pm.Subtitles) == 0 {
		return "", noop
	}
	best := subtitle.BestMatch(pm.Subtitles, m.subsLang)
	if best == nil {
		return "", noop
	}
	tmp, err := subtitle.NewTempDir()
	if err != nil {
		logging.Warn("subtitle temp dir", "err", err)
		return "", noop
	}
	file, err := tmp.Download(ctx, m.session, *best, pm.Referer())
	if err != nil {
		tmp.Cleanup()
		logging.Warn("subtitle download failed, continuing without", "language", best.Language, "err", err)
		return "", noop
	}
	return file, tmp.Cleanup
}

// progressFunc reports every update and persists one at most every saveEvery.
func (m *Manager) progressFunc(job Job, pm *media.PlaybackMedia, path string) func(received, total int64) {
	var last time.Time
	id := job.Episode.ID()
	return func(received, total int64) {
		m.reporter.Progress(id, received, total)
		if time.Since(last) < m.saveEvery {
			return
		}
		last = time.Now()
		if err := m.save(job, Preserving, pm, received, total, path, ""); err != nil {
			logging.Debug("saving download progress", "episode", id, "err", err)
		}
	}
}

func (m *Manager) fail(ctx context.Context, job Job, pm *media.PlaybackMedia, path string, cause error) {
	state := Failed
	if ctx.Err() != nil {
		state = Interrupted
	}
	var received, total int64
	if t, ok, _ := m.store.Task(job.Episode.ID()); ok {
		received, total = t.Received, t.Total
	}
	if err := m.save(job, state, pm, received, total, path, cause.Error()); err != nil {
		logging.Warn("saving failed task", "episode", job.Episode.ID(), "err", err)
	}
}

func (m *Manager) save(job Job, state State, pm *media.PlaybackMedia, received, total int64, path, errMsg string) error {
	t := store.Task{
		EpisodeID:   job.Episode.ID(),
		AnimeLink:   job.Episode.Link.Parent.Link,
		AnimeTitle:  job.AnimeTitle,
		EpisodeName: job.Episode.Link.Name,
		Server:      job.Server,
		Path:        path,
		State:       string(state),
		Received:    received,
		Total:       total,
		Error:       errMsg,
	}
	if pm != nil {
		t.URL = pm.URL
	}
	return m.store.SaveTask(t)
}

// Tasks lists every known download.
func (m *Manager) Tasks() ([]Task, error) {
	stored, err := m.store.Tasks()
	if err != nil {
		return nil, err
	}
	tasks := make([]Task, 0, len(stored))
	for _, t := range stored {
		tasks = append(tasks, fromStore(t))
	}
	return tasks, nil
}

// Task returns one download.
func (m *Manager) Task(episodeID string) (Task, bool, error) {
	t, ok, err := m.store.Task(episodeID)
	if err != nil || !ok {
		return Task{}, ok, err
	}
	return fromStore(t), true, nil
}

// Remove deletes a download's files and its task.
func (m *Manager) Remove(episodeID string) error {
	t, ok, err := m.store.Task(episodeID)
	if err != nil {
		return err
	}
	if !ok {
		return media.NewError(media.ErrArgument, "no download for episode "+episodeID)
	}
	if t.Path != "" {
		for _, p := range []string{t.Path, t.Path + partSuffix} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("removing %s: %w", filepath.Base(p), err)
			}
		}
	}
	return m.store.DeleteTask(episodeID)
}

func fromStore(t store.Task) Task {
	title := t.AnimeTitle
	if t.EpisodeName != "" {
		title = strings.TrimSpace(title + " - Episode " + t.EpisodeName)
		title = strings.TrimPrefix(title, "- ")
	}
	return Task{
		EpisodeID: t.EpisodeID,
		Title:     title,
		Server:    t.Server,
		Path:      t.Path,
		State:     State(t.State),
		Received:  t.Received,
		Total:     t.Total,
		Error:     t.Error,
		Updated:   t.Updated,
	}
}
