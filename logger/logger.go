package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

var Logger *logrus.Logger

// InitLogger initializes the process logger. output is stdout, stderr or a
// file path; files are rotated at maxSize megabytes.
func InitLogger(level, format, output string, maxSize, maxBackups, maxAge int) error {
	l, err := New(level, format, output, maxSize, maxBackups, maxAge)
	if err != nil {
		return err
	}
	Logger = l
	return nil
}

// New builds a logger without touching the process logger.
func New(level, format, output string, maxSize, maxBackups, maxAge int) (*logrus.Logger, error) {
	l := logrus.New()

	// Set log level
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	l.SetLevel(logLevel)

	// Set formatter
	switch format {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	default:
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
		})
	}

	out, err := openOutput(output, maxSize, maxBackups, maxAge)
	if err != nil {
		return nil, err
	}
	l.SetOutput(out)

	return l, nil
}

func openOutput(output string, maxSize, maxBackups, maxAge int) (io.Writer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   output,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
		Compress:   true,
	}, nil
}

// GetLogger returns the global logger instance
func GetLogger() *logrus.Logger {
	if Logger == nil {
		// Initialize with default settings if not already initialized
		InitLogger("info", "json", "stdout", 100, 3, 28)
	}
	return Logger
}

// SetVerbose lowers the level of the process logger to debug
func SetVerbose() {
	GetLogger().SetLevel(logrus.DebugLevel)
}
