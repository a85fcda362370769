// Package logging writes the run log. Without a log file, info and error
// lines go to the standard logger and debug lines are dropped.
package logging

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

var (
	fileLogger *log.Logger
	logWriter  io.WriteCloser
	mu         sync.Mutex
)

// SetupLogger opens the log file. The file rotates daily and rotated files
// older than a week are removed; logFilePath always links to the current
// file. Calling it again while a file is open does nothing.
func SetupLogger(logFilePath string) error {
	mu.Lock()
	defer mu.Unlock()

	if logWriter != nil {
		return nil
	}

	rl, err := rotatelogs.New(
		logFilePath+".%Y%m%d",
		rotatelogs.WithLinkName(logFilePath),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithMaxAge(7*24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	logWriter = rl
	fileLogger = log.New(logWriter, "", log.LstdFlags)
	fileLogger.Printf("--- sigverify log started at %s ---", time.Now().Format(time.RFC3339))
	return nil
}

// Writer returns the log file writer for other loggers (such as the HTTP
// access log) to share, or nil when no file is open
func Writer() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	if logWriter == nil {
		return nil
	}
	return logWriter
}

// CloseLogger closes the log file
func CloseLogger() {
	mu.Lock()
	defer mu.Unlock()

	if logWriter == nil {
		return
	}
	fileLogger.Printf("--- sigverify log closed at %s ---", time.Now().Format(time.RFC3339))
	logWriter.Close()
	logWriter = nil
	fileLogger = nil
}

// emit writes one line with the given prefix. fallback selects whether the
// line reaches the standard logger when no file is open.
func emit(prefix string, fallback bool, format string, args []interface{}) {
	mu.Lock()
	defer mu.Unlock()

	switch {
	case fileLogger != nil:
		fileLogger.Printf(prefix+format, args...)
	case fallback:
		log.Printf(prefix+format, args...)
	}
}

// LogInfo logs progress worth seeing on the console
func LogInfo(format string, args ...interface{}) {
	emit("INFO: ", true, format, args)
}

// LogError logs a failure
func LogError(format string, args ...interface{}) {
	emit("ERROR: ", true, format, args)
}

// LogWarning logs a recoverable problem to the file only
func LogWarning(format string, args ...interface{}) {
	emit("WARNING: ", false, format, args)
}

// DebugLog logs detail to the file only
func DebugLog(format string, args ...interface{}) {
	emit("", false, format, args)
}

// LogSampleProcessed logs the outcome of loading one corpus sample
func LogSampleProcessed(path string, success bool, errMsg string) {
	if success {
		emit("PROCESSED: ", false, "%s", []interface{}{path})
		return
	}
	emit("FAILED: ", false, "%s - Error: %s", []interface{}{path, errMsg})
}
