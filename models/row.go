package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the extraction_date format used in every dataset.
const DateLayout = "2006-01-02 15:04:05"

// Row is one decoded dataset line keyed by column name.
type Row map[string]string

// Get returns the trimmed value of a column, or "" when absent.
func (r Row) Get(column string) string {
	return strings.TrimSpace(r[column])
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

func parseFloat(r Row, column string) (*float64, error) {
	raw := strings.ReplaceAll(r.Get(column), ",", "")
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", column, err)
	}
	return &v, nil
}

func parseInt(r Row, column string) (*int, error) {
	raw := strings.ReplaceAll(r.Get(column), ",", "")
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", column, err)
	}
	return &v, nil
}

// parseBool accepts any strconv.ParseBool spelling ("true", "True", "1").
// An empty cell is false.
func parseBool(r Row, column string) (bool, error) {
	raw := r.Get(column)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("column %s: %w", column, err)
	}
	return v, nil
}

func parseDate(r Row, column string) (time.Time, error) {
	raw := r.Get(column)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(DateLayout, raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("column %s: %w", column, err)
	}
	return t, nil
}

// Float returns a pointer to v, for optional numeric fields.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for optional numeric fields.
func Int(v int) *int { return &v }
