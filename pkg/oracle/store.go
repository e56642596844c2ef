package oracle

import (
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-attention/pkg/attention"
)

// DefaultStaleAfter is how long a verdict stays usable.
const DefaultStaleAfter = 10 * time.Second

// Store holds the most recent verdict. It is safe for concurrent use.
type Store struct {
	staleAfter time.Duration
	now        func() time.Time
	logger     *slog.Logger

	mu       sync.RWMutex
	latest   *attention.OracleVerdict
	accepted uint64
	rejected uint64
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l.With("component", "oracle.store") }
}

// NewStore creates a store. A non-positive staleAfter uses DefaultStaleAfter.
func NewStore(staleAfter time.Duration, opts ...StoreOption) *Store {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	s := &Store{
		staleAfter: staleAfter,
		now:        time.Now,
		logger:     slog.Default().With("component", "oracle.store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Offer replaces the latest verdict. A zero ReceivedAt is stamped with now.
// Unknown states are dropped.
func (s *Store) Offer(v attention.OracleVerdict) bool {
	if _, err := attention.ParseState(string(v.State)); err != nil || v.State == attention.Unknown {
		s.mu.Lock()
		s.rejected++
		s.mu.Unlock()
		s.logger.Warn("dropping oracle verdict", "state", v.State)
		return false
	}
	if v.ReceivedAt.IsZero() {
		v.ReceivedAt = s.now()
	}
	v.Confidence = clamp01(v.Confidence)

	s.mu.Lock()
	if s.latest != nil && v.ReceivedAt.Before(s.latest.ReceivedAt) {
		s.mu.Unlock()
		return false
	}
	s.latest = &v
	s.accepted++
	s.mu.Unlock()

	s.logger.Debug("oracle verdict",
		"state", v.State,
		"confidence", v.Confidence,
		"cause", v.Cause,
	)
	return true
}

// OfferPayload parses raw model output and offers it. Malformed payloads are
// logged and counted, never fatal.
func (s *Store) OfferPayload(payload []byte) error {
	v, err := ParseVerdict(string(payload))
	if err != nil {
		s.mu.Lock()
		s.rejected++
		s.mu.Unlock()
		s.logger.Warn("malformed oracle payload", "error", err, "bytes", len(payload))
		return err
	}
	s.Offer(v)
	return nil
}

// Latest returns a copy of the freshest verdict, or nil if none is younger
// than the staleness window.
func (s *Store) Latest() *attention.OracleVerdict {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.latest == nil {
		return nil
	}
	if s.now().Sub(s.latest.ReceivedAt) > s.staleAfter {
		return nil
	}
	v := *s.latest
	return &v
}

// Reset forgets the held verdict.
func (s *Store) Reset() {
	s.mu.Lock()
	s.latest = nil
	s.mu.Unlock()
}

// Counts returns how many verdicts were accepted and rejected.
func (s *Store) Counts() (accepted, rejected uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accepted, s.rejected
}
