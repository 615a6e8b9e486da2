package executor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// TradedSet prevents duplicate entry into a market. A condition is in
// flight while its state machine runs and becomes traded once any leg has
// filled. Traded conditions are never removed; markets expire on their own.
// It is safe for concurrent use.
type TradedSet struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
	traded   map[string]struct{}
	store    domain.TradedStore
	logger   *slog.Logger
}

// NewTradedSet creates an empty set. store may be nil.
func NewTradedSet(store domain.TradedStore, logger *slog.Logger) *TradedSet {
	return &TradedSet{
		inFlight: make(map[string]struct{}),
		traded:   make(map[string]struct{}),
		store:    store,
		logger:   logger.With(slog.String("component", "traded_set")),
	}
}

// Load seeds the set from the external mirror.
func (s *TradedSet) Load(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	ids, err := s.store.Members(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.traded[id] = struct{}{}
	}
	return len(ids), nil
}

// Claim marks conditionID in flight. It returns false when the condition is
// already in flight or traded.
func (s *TradedSet) Claim(conditionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.traded[conditionID]; ok {
		return false
	}
	if _, ok := s.inFlight[conditionID]; ok {
		return false
	}
	s.inFlight[conditionID] = struct{}{}
	return true
}

// Release clears the in-flight mark without recording a trade. Used when no
// leg filled.
func (s *TradedSet) Release(conditionID string) {
	s.mu.Lock()
	delete(s.inFlight, conditionID)
	s.mu.Unlock()
}

// MarkTraded records conditionID permanently and mirrors it to the store.
func (s *TradedSet) MarkTraded(ctx context.Context, conditionID string) {
	s.mu.Lock()
	delete(s.inFlight, conditionID)
	s.traded[conditionID] = struct{}{}
	s.mu.Unlock()

	if s.store == nil {
		return
	}
	if err := s.store.Add(ctx, conditionID); err != nil {
		s.logger.WarnContext(ctx, "traded set mirror failed",
			slog.String("condition_id", conditionID),
			slog.String("error", err.Error()),
		)
	}
}

// Blocked reports whether conditionID may not be submitted right now.
func (s *TradedSet) Blocked(conditionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, traded := s.traded[conditionID]
	_, busy := s.inFlight[conditionID]
	return traded || busy
}

// Len returns the number of traded conditions.
func (s *TradedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.traded)
}
