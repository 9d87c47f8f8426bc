// Package storage persists records to append-only CSV datasets that
// deduplicate by identity key and survive restarts.
package storage

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-etsy/models"
)

// LedgerSuffix names the sidecar file that lists processed source keys.
const LedgerSuffix = ".processed"

// Record is a row that can be stored in a Dataset.
type Record interface {
	Key() string
	Row() []string
}

// Codec describes one dataset kind.
type Codec[T Record] struct {
	Name    string
	Columns []string
	Decode  func(models.Row) (T, error)
	// SourceColumn, when set, names the column holding the key that
	// IsProcessed and MarkProcessed work with instead of the identity key.
	SourceColumn string
}

// rowSink receives rows for one Save call.
type rowSink interface {
	Write(row []string) error
	Close() error
}

// Dataset is an append-only CSV file plus the in-memory set of identity keys
// it already holds. The file and the key set agree at the end of every Save.
type Dataset[T Record] struct {
	path       string
	ledgerPath string
	codec      Codec[T]
	open       func() (rowSink, error)

	mu        sync.Mutex
	keys      map[string]struct{}
	processed map[string]struct{}
}

// Open loads the identity keys of an existing dataset at path. A missing file
// is not an error; it is created, with its header, on the first write.
// Opening never modifies an existing file.
func Open[T Record](path string, codec Codec[T]) (*Dataset[T], error) {
	if path == "" {
		return nil, fmt.Errorf("%s dataset: path cannot be empty", codec.Name)
	}
	if len(codec.Columns) == 0 || codec.Decode == nil {
		return nil, fmt.Errorf("%s dataset: codec needs columns and a decoder", codec.Name)
	}
	d := &Dataset[T]{
		path:       path,
		ledgerPath: path + LedgerSuffix,
		codec:      codec,
		keys:       make(map[string]struct{}),
		processed:  make(map[string]struct{}),
	}
	d.open = d.openCSV

	err := d.scan(func(row models.Row) error {
		rec, err := codec.Decode(row)
		key := strings.TrimSpace(rec.Key())
		if key == "" {
			slog.Warn("skipping dataset row without key", slog.String("dataset", codec.Name), slog.Any("error", err))
			return nil
		}
		if err != nil {
			slog.Debug("dataset row decoded with errors", slog.String("dataset", codec.Name), slog.String("key", key), slog.Any("error", err))
		}
		d.keys[key] = struct{}{}
		if codec.SourceColumn != "" {
			if source := row.Get(codec.SourceColumn); source != "" {
				d.processed[source] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := d.loadLedger(); err != nil {
		return nil, err
	}

	slog.Info("loaded dataset",
		slog.String("dataset", codec.Name),
		slog.String("path", path),
		slog.Int("records", len(d.keys)),
		slog.Int("processed", len(d.processed)),
	)
	return d, nil
}

// Name returns the dataset kind.
func (d *Dataset[T]) Name() string { return d.codec.Name }

// Path returns the backing file path.
func (d *Dataset[T]) Path() string { return d.path }

// Save appends every record whose key is not yet known. A record that fails
// to write is counted as an error and the batch continues.
func (d *Dataset[T]) Save(records []T) models.SaveStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := models.SaveStats{Total: len(records)}
	var sink rowSink
	var openErr error

	for _, rec := range records {
		key := strings.TrimSpace(rec.Key())
		if key == "" {
			stats.Errors++
			slog.Error("record without identity key", slog.String("dataset", d.codec.Name))
			continue
		}
		if _, ok := d.keys[key]; ok {
			stats.Duplicates++
			continue
		}

		if sink == nil && openErr == nil {
			sink, openErr = d.open()
		}
		if openErr != nil {
			stats.Errors++
			slog.Error("failed to open dataset", slog.String("dataset", d.codec.Name), slog.String("key", key), slog.Any("error", openErr))
			continue
		}

		row := rec.Row()
		if err := sink.Write(row); err != nil {
			stats.Errors++
			slog.Error("failed to save record", slog.String("dataset", d.codec.Name), slog.String("key", key), slog.Any("error", err))
			continue
		}
		d.keys[key] = struct{}{}
		if source := d.sourceOf(row); source != "" {
			d.processed[source] = struct{}{}
		}
		stats.Saved++
	}

	if sink != nil {
		if err := sink.Close(); err != nil {
			slog.Error("failed to close dataset", slog.String("dataset", d.codec.Name), slog.Any("error", err))
		}
	}

	slog.Info("saved records",
		slog.String("dataset", d.codec.Name),
		slog.Int("saved", stats.Saved),
		slog.Int("duplicates", stats.Duplicates),
		slog.Int("errors", stats.Errors),
	)
	return stats
}

// IsProcessed reports whether key has been handled before. Datasets with a
// source column track source keys; the others track identity keys.
func (d *Dataset[T]) IsProcessed(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.processed[key]; ok {
		return true
	}
	if d.codec.SourceColumn != "" {
		return false
	}
	_, ok := d.keys[key]
	return ok
}

// MarkProcessed durably records key as handled, whether or not it produced a
// record.
func (d *Dataset[T]) MarkProcessed(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("processed key cannot be empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.processed[key]; ok {
		return nil
	}
	if err := ensureDir(d.ledgerPath); err != nil {
		return err
	}
	f, err := os.OpenFile(d.ledgerPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open processed ledger: %w", err)
	}
	if _, err := fmt.Fprintln(f, key); err != nil {
		f.Close()
		return fmt.Errorf("append processed ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close processed ledger: %w", err)
	}
	d.processed[key] = struct{}{}
	return nil
}

// Count returns the number of distinct records held.
func (d *Dataset[T]) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.keys)
}

// All reads every decodable record from the file in file order.
func (d *Dataset[T]) All() ([]T, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []T
	err := d.scan(func(row models.Row) error {
		rec, err := d.codec.Decode(row)
		if strings.TrimSpace(rec.Key()) == "" {
			return nil
		}
		if err != nil {
			slog.Debug("dataset row decoded with errors", slog.String("dataset", d.codec.Name), slog.Any("error", err))
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// LastPageScraped returns the highest page_number in the file, or 0 when the
// file is absent, empty or has no such column.
func (d *Dataset[T]) LastPageScraped() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	last := 0
	err := d.scan(func(row models.Row) error {
		if n, err := strconv.Atoi(row.Get("page_number")); err == nil && n > last {
			last = n
		}
		return nil
	})
	return last, err
}

// Clear deletes the dataset file and its ledger and forgets every key.
func (d *Dataset[T]) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, path := range []string{d.path, d.ledgerPath} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}
	d.keys = make(map[string]struct{})
	d.processed = make(map[string]struct{})
	slog.Info("cleared dataset", slog.String("dataset", d.codec.Name), slog.String("path", d.path))
	return nil
}

func (d *Dataset[T]) sourceOf(row []string) string {
	if d.codec.SourceColumn == "" {
		return ""
	}
	for i, col := range d.codec.Columns {
		if col == d.codec.SourceColumn && i < len(row) {
			return strings.TrimSpace(row[i])
		}
	}
	return ""
}

// scan streams the file row by row. Columns are matched by header name so
// files written with a reordered schema still load. Bytes after the last
// newline belong to an interrupted write and are not read.
func (d *Dataset[T]) scan(fn func(models.Row) error) error {
	f, err := os.Open(d.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s dataset: %w", d.codec.Name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s dataset: %w", d.codec.Name, err)
	}
	end, err := committedSize(f, info.Size())
	if err != nil {
		return fmt.Errorf("read %s dataset: %w", d.codec.Name, err)
	}
	if end < info.Size() {
		slog.Warn("ignoring unterminated dataset row", slog.String("dataset", d.codec.Name), slog.Int64("bytes", info.Size()-end))
	}

	reader := csv.NewReader(bufio.NewReader(io.LimitReader(f, end)))
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s header: %w", d.codec.Name, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				slog.Warn("skipping malformed dataset row", slog.String("dataset", d.codec.Name), slog.Int("line", line), slog.Any("error", err))
				continue
			}
			return fmt.Errorf("read %s dataset: %w", d.codec.Name, err)
		}
		row := make(models.Row, len(header))
		for i, col := range header {
			if i < len(record) {
				row[strings.TrimSpace(col)] = record[i]
			}
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

func (d *Dataset[T]) loadLedger() error {
	f, err := os.Open(d.ledgerPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open processed ledger: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if key := strings.TrimSpace(scanner.Text()); key != "" {
			d.processed[key] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read processed ledger: %w", err)
	}
	return nil
}

// csvSink appends rows to the dataset file, writing the header first when
// the file is new or empty. Every row is flushed before Write returns, and a
// row that fails midway is cut back off the file.
type csvSink struct {
	file   *os.File
	dst    io.Writer
	writer *csv.Writer
	size   int64
	broken error
}

func (d *Dataset[T]) openCSV() (rowSink, error) {
	if err := ensureDir(d.path); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat csv file: %w", err)
	}
	size, err := committedSize(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read csv file: %w", err)
	}
	if size < info.Size() {
		slog.Warn("truncating unterminated dataset row",
			slog.String("dataset", d.codec.Name),
			slog.Int64("bytes", info.Size()-size),
		)
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("repair csv file: %w", err)
		}
	}

	sink := &csvSink{file: f, dst: f, writer: csv.NewWriter(f), size: size}
	if size == 0 {
		if err := sink.Write(d.codec.Columns); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
	}
	return sink, nil
}

func (s *csvSink) Write(row []string) error {
	if s.broken != nil {
		return s.broken
	}
	err := s.writer.Write(row)
	if err == nil {
		s.writer.Flush()
		err = s.writer.Error()
	}
	if err != nil {
		return s.rollback(fmt.Errorf("write csv record: %w", err))
	}
	info, err := s.file.Stat()
	if err != nil {
		s.broken = fmt.Errorf("stat csv file: %w", err)
		return s.broken
	}
	s.size = info.Size()
	return nil
}

// rollback drops whatever part of the failed row reached the file. The
// writer's error is sticky, so it is replaced.
func (s *csvSink) rollback(cause error) error {
	if err := s.file.Truncate(s.size); err != nil {
		s.broken = fmt.Errorf("%w (truncate: %v)", cause, err)
		return s.broken
	}
	s.writer = csv.NewWriter(s.dst)
	return cause
}

func (s *csvSink) Close() error {
	if s.broken != nil {
		s.file.Close()
		return s.broken
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.file.Close()
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return s.file.Close()
}

// committedSize returns the length of f up to and including its last
// newline. Anything after it is a row whose write never completed.
func committedSize(f *os.File, size int64) (int64, error) {
	buf := make([]byte, 4096)
	for end := size; end > 0; {
		start := max(end-int64(len(buf)), 0)
		chunk := buf[:end-start]
		if _, err := f.ReadAt(chunk, start); err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			return start + int64(i) + 1, nil
		}
		end = start
	}
	return 0, nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
