package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/aluiziolira/go-scrape-etsy/models"
)

// SummaryWriter appends run summaries as newline-delimited JSON.
type SummaryWriter struct {
	path string
	mu   sync.Mutex
}

// NewSummaryWriter returns a writer for path. The file is created on the
// first Append.
func NewSummaryWriter(path string) *SummaryWriter {
	return &SummaryWriter{path: path}
}

// Append writes one summary line.
func (sw *SummaryWriter) Append(summary models.RunSummary) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if err := ensureDir(sw.path); err != nil {
		return err
	}
	f, err := os.OpenFile(sw.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open summary file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	if err := json.NewEncoder(buffer).Encode(summary); err != nil {
		f.Close()
		return fmt.Errorf("encode run summary: %w", err)
	}
	if err := buffer.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush summary writer: %w", err)
	}
	return f.Close()
}

// ReadSummaries returns every summary in the file, oldest first.
func ReadSummaries(path string) ([]models.RunSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open summary file: %w", err)
	}
	defer f.Close()

	var out []models.RunSummary
	decoder := json.NewDecoder(bufio.NewReader(f))
	for decoder.More() {
		var s models.RunSummary
		if err := decoder.Decode(&s); err != nil {
			return out, fmt.Errorf("decode run summary: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}
