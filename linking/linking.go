// Package linking defines the read contract of the entity linking service.
//
// Entity linking runs outside the pipeline. It decides which completed
// documents map to known organizations and which need manual review; the
// pipeline only reads its per-scope counts for health metrics.
package linking

import (
	"context"
	"sync"
)

// Stats are the linking counts of one scope.
type Stats struct {
	Linked         int // Completed documents linked to known entities
	ReviewRequired int // Documents waiting for manual review
}

// Service supplies linking counts.
// Implementations must be thread-safe.
type Service interface {
	Stats(ctx context.Context, scope string) (Stats, error)
}

// Static is an in-memory Service. Unknown scopes report zero counts.
type Static struct {
	mu    sync.RWMutex
	stats map[string]Stats
}

var _ Service = (*Static)(nil)

// NewStatic creates a Static service holding stats.
func NewStatic(stats map[string]Stats) *Static {
	s := &Static{stats: make(map[string]Stats, len(stats))}
	for scope, st := range stats {
		s.stats[scope] = st
	}
	return s
}

// Stats returns the counts recorded for scope.
func (s *Static) Stats(_ context.Context, scope string) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats[scope], nil
}

// Set replaces the counts of scope.
func (s *Static) Set(scope string, st Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[scope] = st
}
