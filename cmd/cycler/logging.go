package main

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// setupLogging keeps stderr as the primary sink and, when path is set, tees
// into a size-rotated file.
func setupLogging(path string) func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if path == "" {
		return func() {}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Printf("[warn] log file disabled: %v", err)
		return func() {}
	}
	rotated := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50, // MB
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotated))
	return func() {
		log.SetOutput(os.Stderr)
		_ = rotated.Close()
	}
}
