package logging

import (
	"io"
	"path/filepath"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const sessionStamp = "20060102_150405"

// FileConfig controls log file rotation.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

// NewRotatingFile opens a size-rotated log file. The directory is created on
// first write.
func NewRotatingFile(cfg FileConfig) io.WriteCloser {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups < 0 {
		cfg.MaxBackups = 0
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}
}

// LogFilePath names the text log of one process run, e.g.
// logs/devicebridge.20260212_213836.log. The stamp is UTC.
func LogFilePath(logsDir, serviceName string, sessionStart time.Time) string {
	return sessionFile(logsDir, serviceName, sessionStart, "log")
}

// OTelFilePath names the OTel JSON export written next to the text log.
func OTelFilePath(logsDir, serviceName string, sessionStart time.Time) string {
	return sessionFile(logsDir, serviceName, sessionStart, "otel.jsonl")
}

func sessionFile(dir, service string, start time.Time, ext string) string {
	return filepath.Join(dir, service+"."+start.UTC().Format(sessionStamp)+"."+ext)
}
