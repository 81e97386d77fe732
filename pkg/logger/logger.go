// Package logger provides the process-wide structured logger: text to
// stdout, optional rotated file output.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls the logger built by Init.
type Config struct {
	Level      string // debug, info, warn, error
	OutputFile string // optional; empty means stdout only
	MaxSizeMB  int    // lumberjack MaxSize
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var (
	mu  sync.Mutex
	log *logrus.Logger
)

// Init builds the global logger from cfg. Safe to call once at boot.
func Init(cfg Config) (*logrus.Logger, error) {
	mu.Lock()
	defer mu.Unlock()

	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	writers := []io.Writer{os.Stdout}
	if cfg.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0o755); err != nil {
			return nil, err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
	}
	l.SetOutput(io.MultiWriter(writers...))

	log = l
	return l, nil
}

// Default returns the global logger, building a stdout-only one on first use
// if Init was never called (e.g. inside package-level tests).
func Default() *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()
	if log == nil {
		log = logrus.New()
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// Component returns a component-scoped entry, the standard way every piece
// of this engine tags its log lines.
func Component(name string) *logrus.Entry {
	return Default().WithField("component", name)
}
