// Package logging wraps charmbracelet/log with the application's prefix and
// debug switch. Everything goes to stderr so stdout stays clean for --json.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
)

var (
	mu     sync.RWMutex
	logger = newLogger(os.Stderr, false)
	debug  bool
)

func prefix() string {
	style := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#D9480F")).
		Bold(true).
		Padding(0, 1).
		MarginRight(1)
	return style.Render("nineanimator")
}

func newLogger(w io.Writer, verbose bool) *log.Logger {
	l := log.NewWithOptions(w, log.Options{
		ReportCaller:    verbose,
		ReportTimestamp: verbose,
		TimeFormat:      "15:04:05",
		Prefix:          prefix(),
	})
	if verbose {
		l.SetLevel(log.DebugLevel)
	} else {
		l.SetLevel(log.InfoLevel)
	}
	return l
}

// Init configures the process-wide logger.
func Init(verbose bool) {
	InitWriter(os.Stderr, verbose)
}

// InitWriter is Init with an explicit destination, used by tests.
func InitWriter(w io.Writer, verbose bool) {
	l := newLogger(w, verbose)
	if f, ok := w.(*os.File); ok && f == os.Stderr {
		l.SetColorProfile(termenv.EnvColorProfile())
	} else {
		l.SetColorProfile(termenv.Ascii)
	}

	mu.Lock()
	logger = l
	debug = verbose
	mu.Unlock()
}

// Logger returns the current logger.
func Logger() *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// IsDebug reports whether debug logging is enabled.
func IsDebug() bool {
	mu.RLock()
	defer mu.RUnlock()
	return debug
}

// Debug logs a debug message with key-value pairs.
func Debug(msg interface{}, keyvals ...interface{}) {
	if IsDebug() {
		Logger().Debug(fmt.Sprintf("%v", msg), keyvals...)
	}
}

// Debugf logs a formatted debug message.
func Debugf(format string, args ...interface{}) {
	if IsDebug() {
		Logger().Debug(fmt.Sprintf(format, args...))
	}
}

func Info(msg interface{}, keyvals ...interface{}) {
	Logger().Info(fmt.Sprintf("%v", msg), keyvals...)
}

func Warn(msg interface{}, keyvals ...interface{}) {
	Logger().Warn(fmt.Sprintf("%v", msg), keyvals...)
}

func Error(msg interface{}, keyvals ...interface{}) {
	Logger().Error(fmt.Sprintf("%v", msg), keyvals...)
}
