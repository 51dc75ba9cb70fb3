// Package decisionlog appends one structured record per entry attempt,
// entered or blocked, for offline validation. Nothing in the trader reads
// these records back at runtime.
package decisionlog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"breakout-trader-go/internal/models"
	"breakout-trader-go/internal/strategy"
)

// Record is one decision-log line.
type Record struct {
	Timestamp   time.Time            `json:"timestamp"`
	Symbol      string               `json:"symbol"`
	Side        models.Side          `json:"side"`
	Price       float64              `json:"price"`
	Pivot       models.PivotLevels   `json:"pivot"`
	Path        strategy.EntryPath   `json:"path"`
	Confirmed   bool                 `json:"confirmed"`
	Reason      string               `json:"reason"`
	Diagnostics strategy.Diagnostics `json:"diagnostics"`
}

// Logger appends JSON-lines records to a single file. Appends are
// serialized behind a mutex so concurrent workers never interleave lines.
type Logger struct {
	mu   sync.Mutex
	file *os.File
}

// New opens (or creates) the decision log for appending.
func New(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open decision log: %w", err)
	}
	return &Logger{file: f}, nil
}

// Log appends one record.
func (l *Logger) Log(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal decision record: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("failed to append decision record: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
