package pipeline

import (
	"sync"

	"github.com/aluiziolira/go-scrape-etsy/models"
	"github.com/aluiziolira/go-scrape-etsy/scraper"
)

// maxFailedURLs bounds the failed URL list carried in a summary.
const maxFailedURLs = 50

// stats holds the live counters of the running job. It is safe to read
// while a job runs.
type stats struct {
	mu           sync.Mutex
	current      models.RunStatistics
	errorsByType map[string]int
	failedURLs   []string
}

func (s *stats) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = models.RunStatistics{}
	s.errorsByType = make(map[string]int)
	s.failedURLs = nil
}

func (s *stats) addPage(found int) {
	s.mu.Lock()
	s.current.PagesScraped++
	s.current.ItemsFound += found
	s.mu.Unlock()
}

func (s *stats) addFound(n int) {
	s.mu.Lock()
	s.current.ItemsFound += n
	s.mu.Unlock()
}

func (s *stats) addSave(saved models.SaveStats) {
	s.mu.Lock()
	s.current.ItemsSaved += saved.Saved
	s.current.Duplicates += saved.Duplicates
	s.current.Errors += saved.Errors
	s.mu.Unlock()
}

func (s *stats) addBlocked() {
	s.mu.Lock()
	s.current.Blocked++
	s.mu.Unlock()
}

// addFailure records a failed fetch. Blocks are counted by addBlocked and
// do not count as errors.
func (s *stats) addFailure(url string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	label := scraper.ErrorTypeLabel(err)
	if s.errorsByType == nil {
		s.errorsByType = make(map[string]int)
	}
	s.errorsByType[label]++
	if label != "blocked" {
		s.current.Errors++
	}
	if len(s.failedURLs) < maxFailedURLs {
		s.failedURLs = append(s.failedURLs, url)
	}
}

func (s *stats) addError() {
	s.mu.Lock()
	s.current.Errors++
	s.mu.Unlock()
}

func (s *stats) snapshot() models.RunStatistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *stats) failures() ([]string, map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	urls := make([]string, len(s.failedURLs))
	copy(urls, s.failedURLs)
	byType := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		byType[k] = v
	}
	return urls, byType
}
