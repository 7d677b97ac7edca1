package download

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"nineanimator/internal/logging"
)

// Reporter receives download progress. Methods are called from the
// download goroutines and must be safe for concurrent use.
type Reporter interface {
	Started(id, title string)
	Progress(id string, received, total int64)
	Finished(id string, err error)
}

// NewReporter returns a progress-bar reporter when stderr is a terminal and
// a log reporter otherwise. cancel is called when the user presses ctrl+c
// in the progress view. Close the returned reporter when downloads finish.
func NewReporter(cancel context.CancelFunc) interface {
	Reporter
	Close()
} {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return NewTerminalReporter(cancel)
	}
	return NewLogReporter()
}

// LogReporter writes progress to the log at every tenth of a download.
type LogReporter struct {
	mu     sync.Mutex
	titles map[string]string
	steps  map[string]int
}

func NewLogReporter() *LogReporter {
	return &LogReporter{titles: make(map[string]string), steps: make(map[string]int)}
}

func (r *LogReporter) Started(id, title string) {
	r.mu.Lock()
	r.titles[id] = title
	r.steps[id] = -1
	r.mu.Unlock()
	logging.Info("downloading", "title", title)
}

func (r *LogReporter) Progress(id string, received, total int64) {
	if total <= 0 {
		return
	}
	step := int(received * 10 / total)
	r.mu.Lock()
	last, ok := r.steps[id]
	if ok && step <= last {
		r.mu.Unlock()
		return
	}
	r.steps[id] = step
	title := r.titles[id]
	r.mu.Unlock()
	logging.Info("download progress", "title", title,
		"percent", step*10, "size", humanize.Bytes(uint64(received))+" / "+humanize.Bytes(uint64(total)))
}

func (r *LogReporter) Finished(id string, err error) {
	r.mu.Lock()
	title := r.titles[id]
	delete(r.titles, id)
	delete(r.steps, id)
	r.mu.Unlock()
	if err != nil {
		logging.Error("download failed", "title", title, "err", err)
	}
}

func (r *LogReporter) Close() {}

type (
	startedMsg struct {
		id, title string
	}
	progressMsg struct {
		id              string
		received, total int64
	}
	finishedMsg struct {
		id  string
		err error
	}
	tickMsg time.Time
)

type bar struct {
	title    string
	received int64
	total    int64
	done     bool
	err      error
}

type downloadsModel struct {
	progress progress.Model
	order    []string
	bars     map[string]*bar
	cancel   context.CancelFunc
	quitting bool
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	doneStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#2F9E44"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#E03131"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#868E96"))
)

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *downloadsModel) Init() tea.Cmd {
	return tickCmd()
}

func (m *downloadsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.progress.Width = min(msg.Width-4, 60)
	case startedMsg:
		if _, ok := m.bars[msg.id]; !ok {
			m.order = append(m.order, msg.id)
		}
		m.bars[msg.id] = &bar{title: msg.title}
	case progressMsg:
		if b, ok := m.bars[msg.id]; ok {
			b.received, b.total = msg.received, msg.total
		}
	case finishedMsg:
		if b, ok := m.bars[msg.id]; ok {
			b.done, b.err = true, msg.err
		}
	case tickMsg:
		if m.quitting {
			return m, tea.Quit
		}
		return m, tickCmd()
	}
	return m, nil
}

func (m *downloadsModel) View() string {
	var b strings.Builder
	for _, id := range m.order {
		d := m.bars[id]
		b.WriteString(titleStyle.Render(d.title))
		b.WriteString("\n")

		switch {
		case d.err != nil:
			b.WriteString(errStyle.Render("failed: " + d.err.Error()))
		case d.done:
			b.WriteString(doneStyle.Render("done " + humanize.Bytes(uint64(d.received))))
		case d.total > 0:
			b.WriteString(m.progress.ViewAs(float64(d.received) / float64(d.total)))
			fmt.Fprintf(&b, " %s / %s", humanize.Bytes(uint64(d.received)), humanize.Bytes(uint64(d.total)))
		default:
			b.WriteString(m.progress.ViewAs(0))
			fmt.Fprintf(&b, " %s", humanize.Bytes(uint64(d.received)))
		}
		b.WriteString("\n\n")
	}
	b.WriteString(helpStyle.Render("Press Ctrl+C to cancel"))
	b.WriteString("\n")
	return b.String()
}

// TerminalReporter draws one progress bar per download.
type TerminalReporter struct {
	program *tea.Program
	done    chan struct{}

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewTerminalReporter(cancel context.CancelFunc) *TerminalReporter {
	m := &downloadsModel{
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		bars:     make(map[string]*bar),
		cancel:   cancel,
	}
	r := &TerminalReporter{
		program:  tea.NewProgram(m, tea.WithOutput(os.Stderr)),
		done:     make(chan struct{}),
		lastSent: make(map[string]time.Time),
	}
	go func() {
		defer close(r.done)
		if _, err := r.program.Run(); err != nil {
			logging.Debug("progress view stopped", "err", err)
		}
	}()
	return r
}

func (r *TerminalReporter) Started(id, title string) {
	r.program.Send(startedMsg{id: id, title: title})
}

// Progress forwards at most ten updates a second per download.
func (r *TerminalReporter) Progress(id string, received, total int64) {
	r.mu.Lock()
	if time.Since(r.lastSent[id]) < 100*time.Millisecond {
		r.mu.Unlock()
		return
	}
	r.lastSent[id] = time.Now()
	r.mu.Unlock()
	r.program.Send(progressMsg{id: id, received: received, total: total})
}

func (r *TerminalReporter) Finished(id string, err error) {
	r.program.Send(finishedMsg{id: id, err: err})
}

// Close stops the progress view and waits for it to restore the terminal.
func (r *TerminalReporter) Close() {
	r.program.Quit()
	<-r.done
}
