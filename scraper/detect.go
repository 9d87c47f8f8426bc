package scraper

import (
	"bytes"
	"net/http"
	"sort"
	"strings"

	"github.com/aluiziolira/go-scrape-etsy/config"
)

var captchaMarker = []byte("captcha")

// Detector recognises anti-automation responses and soft failures.
type Detector struct {
	blockedStatus map[int]struct{}
	headerMarkers []string
	expected      map[string][]string
}

// NewDetector builds a detector from the configured status set, header
// markers and per-role expected content.
func NewDetector(cfg *config.Config) *Detector {
	d := &Detector{
		blockedStatus: make(map[int]struct{}, len(cfg.BlockedStatusCodes)),
		expected:      make(map[string][]string, len(cfg.ExpectedContent)),
	}
	for _, code := range cfg.BlockedStatusCodes {
		d.blockedStatus[code] = struct{}{}
	}
	for _, marker := range cfg.BlockHeaderMarkers {
		if marker = strings.ToLower(strings.TrimSpace(marker)); marker != "" {
			d.headerMarkers = append(d.headerMarkers, marker)
		}
	}
	for role, markers := range cfg.ExpectedContent {
		lowered := make([]string, 0, len(markers))
		for _, m := range markers {
			lowered = append(lowered, strings.ToLower(m))
		}
		d.expected[role] = lowered
	}
	return d
}

// IsBlocked reports whether a response shows bot detection: a blocked status,
// an anti-bot vendor marker anywhere in the headers, or a captcha body.
func (d *Detector) IsBlocked(status int, header http.Header, body []byte) bool {
	if _, ok := d.blockedStatus[status]; ok {
		return true
	}
	if len(d.headerMarkers) > 0 && len(header) > 0 {
		serialized := serializeHeader(header)
		for _, marker := range d.headerMarkers {
			if strings.Contains(serialized, marker) {
				return true
			}
		}
	}
	return bytes.Contains(bytes.ToLower(body), captchaMarker)
}

// Validates reports whether every expected marker for role appears in body.
// Roles without markers always validate.
func (d *Detector) Validates(role string, body []byte) bool {
	markers := d.expected[role]
	if len(markers) == 0 {
		return true
	}
	lowered := bytes.ToLower(body)
	for _, marker := range markers {
		if !bytes.Contains(lowered, []byte(marker)) {
			return false
		}
	}
	return true
}

func serializeHeader(header http.Header) string {
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(strings.ToLower(k))
		b.WriteString(": ")
		b.WriteString(strings.ToLower(strings.Join(header[k], ", ")))
		b.WriteByte('\n')
	}
	return b.String()
}
