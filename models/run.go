package models

import "time"

// RunStatistics holds the counters of one job invocation.
type RunStatistics struct {
	PagesScraped int `json:"pages_scraped"`
	ItemsFound   int `json:"items_found"`
	ItemsSaved   int `json:"items_saved"`
	Duplicates   int `json:"duplicates"`
	Errors       int `json:"errors"`
	Blocked      int `json:"blocked"`
}

// SaveStats is the outcome of one Dataset.Save call.
type SaveStats struct {
	Total      int `json:"total"`
	Saved      int `json:"saved"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
}

// Add accumulates another batch outcome.
func (s *SaveStats) Add(other SaveStats) {
	s.Total += other.Total
	s.Saved += other.Saved
	s.Duplicates += other.Duplicates
	s.Errors += other.Errors
}

// RunSummary is reported to the caller when a job finishes.
type RunSummary struct {
	RunID       string        `json:"run_id"`
	Job         string        `json:"job"`
	Success     bool          `json:"success"`
	Interrupted bool          `json:"interrupted"`
	Stats       RunStatistics `json:"stats"`
	// Total is the dataset size after the job (total_items or total_shops).
	Total      int       `json:"total"`
	Dataset    string    `json:"dataset"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Message    string    `json:"message,omitempty"`
	FailedURLs []string  `json:"failed_urls,omitempty"`
}

// Duration returns how long the job ran.
func (s *RunSummary) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}
