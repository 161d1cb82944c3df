package logger

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig configures a rotating log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Level      LogLevel
	// Stdout also mirrors entries to standard output.
	Stdout bool
}

// NewFileLogger creates a logger that writes to a size-rotated file. The
// returned closer flushes and closes the file.
func NewFileLogger(cfg FileConfig, loc *time.Location) (*SlogLogger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, nil, err
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	var w io.Writer = rotator
	if cfg.Stdout {
		w = io.MultiWriter(os.Stdout, rotator)
	}
	return NewSlogLogger(w, cfg.Level, loc), rotator, nil
}
