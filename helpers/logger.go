package helpers

import (
	"fmt"
	"os"
	"sync"
	"time"

	"sjsage522/noticewatcher/logger"
)

// LoggerInterface defines the interface for logger implementations
type LoggerInterface interface {
	LogError(sourceID string, err error)
	LogInfo(format string, args ...interface{})
}

// Logger writes to the structured logger and, when errorFile is set, appends
// every source error to that file as well.
type Logger struct {
	errorFile string
	mu        sync.Mutex
}

// NewLogger creates a new logger instance. errorFile may be empty.
func NewLogger(errorFile string) *Logger {
	return &Logger{
		errorFile: errorFile,
	}
}

// LogError logs an error with source id and timestamp
func (l *Logger) LogError(sourceID string, err error) {
	logger.ForSource(sourceID).Error().Err(err).Msg("source check failed")

	if l.errorFile == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, fileErr := os.OpenFile(l.errorFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if fileErr != nil {
		logger.Warn("error log file open failed: %v", fileErr)
		return
	}
	defer f.Close()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(f, "[%s] [%s] %s\n", timestamp, sourceID, err.Error())
}

// LogInfo logs an informational message
func (l *Logger) LogInfo(format string, args ...interface{}) {
	logger.Info(format, args...)
}
