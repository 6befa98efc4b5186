package scheduler

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/amirphl/signage-publisher/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewWorkerLogger returns a logger writing to stdout and, when path is set, to a
// size-rotated file. The returned closer releases the file.
func NewWorkerLogger(cfg config.LoggingConfig, path string) (*log.Logger, io.Closer) {
	flags := log.LstdFlags | log.Lmicroseconds | log.LUTC
	if path == "" {
		return log.New(os.Stdout, "worker ", flags), noopCloser{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		l := log.New(os.Stdout, "worker ", flags)
		l.Printf("worker: failed to create log directory: %v", err)
		return l, noopCloser{}
	}
	rotating := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	return log.New(io.MultiWriter(os.Stdout, rotating), "worker ", flags), rotating
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }
