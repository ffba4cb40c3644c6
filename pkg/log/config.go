package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
	// File redirects output away from stdout; the terminal UI needs this.
	File string `mapstructure:"file"`
}

var (
	mu     sync.RWMutex
	global zerolog.Logger
	sink   *os.File
)

func init() {
	global = stderrLogger()
}

func stderrLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// New creates a configured zerolog.Logger writing to w.
func New(cfg Config, w io.Writer) zerolog.Logger {
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen, NoColor: cfg.File != ""}
	}
	return zerolog.New(w).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
}

// Init replaces the global logger and bridges stdlib log into it. Every call
// rebinds the global logger. The returned closer releases the log file, if
// any, and puts the global logger back on stderr while that file is still
// its sink.
func Init(cfg Config) (io.Closer, error) {
	var (
		w    io.Writer = os.Stderr
		file *os.File
	)
	if cfg.File != "" {
		if dir := filepath.Dir(cfg.File); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create log dir: %w", err)
			}
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w, file = f, f
	}

	logger := New(cfg, w)

	mu.Lock()
	global, sink = logger, file
	stdlog.SetFlags(0)
	stdlog.SetOutput(logger.With().Str("source", "stdlog").Logger())
	mu.Unlock()

	if file == nil {
		return nopCloser{}, nil
	}
	return &fileCloser{file: file}, nil
}

// L returns the global logger.
func L() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

type fileCloser struct {
	once sync.Once
	file *os.File
}

func (c *fileCloser) Close() error {
	var err error
	c.once.Do(func() {
		mu.Lock()
		if sink == c.file {
			global, sink = stderrLogger(), nil
			stdlog.SetOutput(os.Stderr)
		}
		mu.Unlock()
		err = c.file.Close()
	})
	return err
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
