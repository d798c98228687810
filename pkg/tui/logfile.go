package tui

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// ConversionLog appends timestamped plain-text lines to a log file, one per
// notable event: layer start and finish, retries, degradations. Safe for
// concurrent layer workers.
type ConversionLog struct {
	mu   sync.Mutex
	file *os.File
}

// OpenConversionLog opens (or creates) the log file in append mode. An empty
// path yields a no-op log.
func OpenConversionLog(path string) (*ConversionLog, error) {
	if path == "" {
		return &ConversionLog{}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open conversion log: %w", err)
	}
	return &ConversionLog{file: f}, nil
}

// Printf writes one formatted line with a timestamp prefix.
func (l *ConversionLog) Printf(format string, args ...interface{}) {
	if l == nil || l.file == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.file, "%s %s\n", time.Now().Format("2006-01-02 15:04:05"), fmt.Sprintf(format, args...))
}

// Close closes the underlying file.
func (l *ConversionLog) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
