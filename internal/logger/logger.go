package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Logger provides leveled logging (info/warning/error) to files and stdout/stderr.
type Logger struct {
	infoLog    *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	logDir     string
	files      []*os.File
	mu         sync.Mutex
}

// New creates a Logger and ensures the log directory exists.
func New(logDir string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	logger := &Logger{logDir: logDir}
	if err := logger.setupLoggers(); err != nil {
		logger.Close()
		return nil, err
	}
	return logger, nil
}

// setupLoggers initializes writers and per-level loggers.
func (l *Logger) setupLoggers() error {
	infoFile, err := l.openLogFile(filepath.Join(l.logDir, "info.log"))
	if err != nil {
		return err
	}
	warningFile, err := l.openLogFile(filepath.Join(l.logDir, "warning.log"))
	if err != nil {
		return err
	}
	errorFile, err := l.openLogFile(filepath.Join(l.logDir, "error.log"))
	if err != nil {
		return err
	}

	infoWriter := io.MultiWriter(os.Stdout, infoFile)
	warningWriter := io.MultiWriter(os.Stdout, warningFile)
	errorWriter := io.MultiWriter(os.Stderr, errorFile)

	l.infoLog = log.New(infoWriter, "INFO    ", log.Ldate|log.Ltime|log.Lshortfile)
	l.warningLog = log.New(warningWriter, "WARNING ", log.Ldate|log.Ltime|log.Lshortfile)
	l.errorLog = log.New(errorWriter, "ERROR   ", log.Ldate|log.Ltime|log.Lshortfile)
	return nil
}

func (l *Logger) openLogFile(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}
	l.files = append(l.files, file)
	return file, nil
}

func (l *Logger) Info(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLog.Output(2, fmt.Sprintf(format, v...))
}

func (l *Logger) Warning(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warningLog.Output(2, fmt.Sprintf(format, v...))
}

func (l *Logger) Error(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLog.Output(2, fmt.Sprintf(format, v...))
}

// Close releases the underlying log files.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range l.files {
		f.Close()
	}
	l.files = nil
}
