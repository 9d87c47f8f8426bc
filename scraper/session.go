// Package scraper owns the outbound HTTP path: browser-like sessions built on
// colly collectors, session rotation, retries, rate limiting and block
// detection.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-etsy/config"
	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"
)

const responseKey = "response"

// State is the lifecycle state of a SessionManager.
type State int

const (
	StateNoSession State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNoSession:
		return "no_session"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Page is a fetched document.
type Page struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Option customises a SessionManager.
type Option func(*SessionManager)

// WithTransport replaces the transport factory. It is called once per
// session, so every rotation gets a fresh connection pool.
func WithTransport(factory func() http.RoundTripper) Option {
	return func(s *SessionManager) {
		s.newTransport = factory
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *SessionManager) {
		s.metrics = m
	}
}

// WithClock replaces time.Now for session age checks.
func WithClock(now func() time.Time) Option {
	return func(s *SessionManager) {
		s.now = now
	}
}

// SessionManager owns one colly collector at a time and rebuilds it when it
// has served too many requests, grown too old, hit a connectivity error, or
// been caught by bot detection.
type SessionManager struct {
	cfg          *config.Config
	host         string
	proxy        *url.URL
	retry        *RetryPolicy
	metrics      *Metrics
	newTransport func() http.RoundTripper
	now          func() time.Time

	mu           sync.Mutex
	state        State
	collector    *colly.Collector
	transport    http.RoundTripper
	requestCount int
	createdAt    time.Time
	rotations    int
	rng          *rand.Rand
}

// NewSessionManager builds a manager for cfg. No session exists until the
// first call to Session or Fetch.
func NewSessionManager(cfg *config.Config, opts ...Option) (*SessionManager, error) {
	origin, err := url.Parse(cfg.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if origin.Host == "" {
		return nil, fmt.Errorf("origin must include a host")
	}

	// A configured seed is offset so cooldowns do not mirror backoff jitter.
	cooldownSeed := cfg.Seed
	if cooldownSeed != 0 {
		cooldownSeed++
	}
	s := &SessionManager{
		cfg:   cfg,
		host:  origin.Hostname(),
		retry: NewRetryPolicy(cfg.MaxRetries, cfg.BackoffFactor, cfg.BackoffUnit, cfg.Seed),
		now:   time.Now,
		rng:   newRand(cooldownSeed),
	}
	s.retry.Retryable = func(err error) bool {
		var status ErrStatus
		return !errors.As(err, &status)
	}
	if cfg.Proxy != "" {
		proxy, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy: %w", err)
		}
		s.proxy = proxy
	}
	s.newTransport = s.defaultTransport
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Session returns the active collector, rotating it first when the request
// count or age limit is reached.
func (s *SessionManager) Session() (*colly.Collector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionLocked()
}

func (s *SessionManager) sessionLocked() (*colly.Collector, error) {
	if s.state == StateClosed {
		return nil, ErrSessionClosed
	}
	if s.collector != nil {
		if reason := s.rotationReasonLocked(); reason != "" {
			s.rotateLocked(reason)
		}
	}
	if s.collector == nil {
		s.openLocked()
		slog.Info("created new session")
	}
	return s.collector, nil
}

func (s *SessionManager) rotationReasonLocked() string {
	if s.requestCount >= s.cfg.MaxRequestsPerSession {
		slog.Info("session rotation needed", slog.Int("requests", s.requestCount))
		return "request_count"
	}
	if age := s.now().Sub(s.createdAt); age >= s.cfg.MaxSessionAge {
		slog.Info("session rotation needed", slog.Duration("age", age))
		return "age"
	}
	return ""
}

// Rotate discards the current session and opens a fresh one.
func (s *SessionManager) Rotate(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.rotateLocked(reason)
}

func (s *SessionManager) rotateLocked(reason string) {
	s.discardLocked()
	s.openLocked()
	s.rotations++
	s.metrics.RecordRotation(reason)
	slog.Info("rotated to new session", slog.String("reason", reason))
}

func (s *SessionManager) openLocked() {
	s.transport = s.newTransport()
	s.collector = s.newCollector(s.transport)
	s.requestCount = 0
	s.createdAt = s.now()
	s.state = StateActive
}

func (s *SessionManager) discardLocked() {
	if closer, ok := s.transport.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
	s.collector = nil
	s.transport = nil
}

func (s *SessionManager) newCollector(transport http.RoundTripper) *colly.Collector {
	options := []colly.CollectorOption{
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.AllowedDomains(s.host),
	}
	if s.cfg.UserAgent != "" {
		options = append(options, colly.UserAgent(s.cfg.UserAgent))
	}
	c := colly.NewCollector(options...)
	c.SetRequestTimeout(s.cfg.Timeout)
	c.WithTransport(transport)
	if s.cfg.RotateUserAgent {
		extensions.RandomUserAgent(c)
	}

	c.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(responseKey, r)
	})
	return c
}

func (s *SessionManager) defaultTransport() http.RoundTripper {
	proxy := http.ProxyFromEnvironment
	if s.proxy != nil {
		proxy = http.ProxyURL(s.proxy)
	}
	return &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   s.cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// Fetch GETs rawURL through the active session, retrying transport failures
// with backoff. Connectivity and TLS failures rotate the session before the
// next attempt. The response is returned whatever its status; block and
// validity checks belong to the caller.
func (s *SessionManager) Fetch(ctx context.Context, rawURL, referer string) (*Page, error) {
	var page *Page
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		c, err := s.Session()
		if err != nil {
			return err
		}
		p, err := s.request(c, rawURL, referer)
		if err != nil {
			s.metrics.RecordFailure(ErrorTypeLabel(err))
			return err
		}
		s.mu.Lock()
		s.requestCount++
		s.mu.Unlock()
		page = p
		return nil
	}, func(attempt int, err error) {
		s.metrics.RecordRetry()
		if shouldRotateOnError(err) {
			slog.Info("rotating session after error", slog.String("error_type", ErrorTypeLabel(err)))
			s.Rotate("error")
		}
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (s *SessionManager) request(c *colly.Collector, rawURL, referer string) (*Page, error) {
	hdr := http.Header{}
	for k, v := range s.cfg.Headers {
		hdr.Set(k, v)
	}
	if referer != "" {
		hdr.Set("Referer", referer)
	}

	cctx := colly.NewContext()
	start := time.Now()
	err := c.Request(http.MethodGet, rawURL, nil, cctx, hdr)
	if err != nil {
		s.metrics.RecordFetch("error", time.Since(start))
		return nil, classifyError(err)
	}

	resp, ok := cctx.GetAny(responseKey).(*colly.Response)
	if !ok || resp == nil {
		s.metrics.RecordFetch("error", time.Since(start))
		return nil, fmt.Errorf("no response captured for %s", rawURL)
	}
	s.metrics.RecordFetch(http.StatusText(resp.StatusCode), time.Since(start))

	page := &Page{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
		Header:     http.Header{},
	}
	if resp.Headers != nil {
		page.Header = resp.Headers.Clone()
	}
	if resp.Request != nil && resp.Request.URL != nil {
		page.URL = resp.Request.URL.String()
	}
	return page, nil
}

// HandleBlockDetection treats the current network identity as burned: it
// rotates the session and sleeps a random cooldown. It returns early with
// ctx.Err() if the context ends during the cooldown.
func (s *SessionManager) HandleBlockDetection(ctx context.Context) error {
	s.mu.Lock()
	cooldown := uniformDuration(s.rng, s.cfg.BlockCooldownMin, s.cfg.BlockCooldownMax)
	s.mu.Unlock()

	s.metrics.RecordBlock()
	slog.Warn("block detected, cooling down", slog.Duration("wait", cooldown))
	s.Rotate("block")
	return sleepContext(ctx, cooldown)
}

// RequestCount returns the successful requests served by the active session.
func (s *SessionManager) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestCount
}

// Rotations returns how many times the session has been rebuilt.
func (s *SessionManager) Rotations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotations
}

// State returns the lifecycle state.
func (s *SessionManager) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close releases the active session. It is idempotent and never fails;
// cleanup problems are logged.
func (s *SessionManager) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Warn("error closing session", slog.Any("error", r))
			}
		}()
		s.discardLocked()
	}()
	s.state = StateClosed
	slog.Info("session closed")
	return nil
}
