package scoring

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/entrhq/anvil/pkg/manifest"
)

// Record is one scored step.
type Record struct {
	RunID     string        `json:"run_id,omitempty"`
	StepID    string        `json:"step_id"`
	Kind      manifest.Kind `json:"kind"`
	Score     Score         `json:"score"`
	Label     string        `json:"label"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewRecord builds a Record stamped with at.
func NewRecord(runID, stepID string, kind manifest.Kind, score Score, at time.Time) Record {
	return Record{
		RunID:     runID,
		StepID:    stepID,
		Kind:      kind,
		Score:     score,
		Label:     score.Label(),
		Timestamp: at.UTC(),
	}
}

// History is an append-only log of score records.
type History interface {
	Append(Record) error
	Records() ([]Record, error)
}

// FileHistory stores records as JSON lines, one per record.
type FileHistory struct {
	path string
	mu   sync.Mutex
}

// NewFileHistory returns a history backed by the file at path. The file and
// its directory are created on first append.
func NewFileHistory(path string) *FileHistory {
	return &FileHistory{path: path}
}

// Path returns the backing file path.
func (h *FileHistory) Path() string {
	return h.path
}

// Append writes rec as a single line and syncs the file.
func (h *FileHistory) Append(rec Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal score record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return fmt.Errorf("create score history directory: %w", err)
	}

	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open score history: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append score record: %w", err)
	}
	return f.Sync()
}

// Records reads every record in the file. A missing file is an empty history.
func (h *FileHistory) Records() ([]Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.Open(h.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open score history: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("score history line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read score history: %w", err)
	}
	return records, nil
}

// MemoryHistory keeps records in memory.
type MemoryHistory struct {
	mu      sync.Mutex
	records []Record
}

// Append implements History.
func (h *MemoryHistory) Append(rec Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	return nil
}

// Records implements History.
func (h *MemoryHistory) Records() ([]Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Record, len(h.records))
	copy(out, h.records)
	return out, nil
}
