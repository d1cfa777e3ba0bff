// Package rules holds the rule catalog and the condition matcher
package rules

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/suggestd/suggestd/pkg"
	"github.com/suggestd/suggestd/pkg/logx"
)

// Persistence is the write-through backing store for the catalog
type Persistence interface {
	SaveRule(r *pkg.Rule) error
	LoadRules() ([]*pkg.Rule, error)
}

// Store is the in-memory rule catalog. All reads see a consistent view;
// mutations are serialized and written through to the backing store.
type Store struct {
	mu      sync.RWMutex
	rules   map[int64]*pkg.Rule
	nextID  int64
	persist Persistence
	logger  *logx.Logger
}

// NewStore creates an empty catalog. persist may be nil for ephemeral use.
func NewStore(persist Persistence, logger *logx.Logger) *Store {
	return &Store{
		rules:   make(map[int64]*pkg.Rule),
		nextID:  1,
		persist: persist,
		logger:  logger,
	}
}

// LoadFromPersistence populates the catalog from the backing store
func (s *Store) LoadFromPersistence() error {
	if s.persist == nil {
		return nil
	}

	loaded, err := s.persist.LoadRules()
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range loaded {
		s.rules[r.ID] = r.Clone()
		if r.ID >= s.nextID {
			s.nextID = r.ID + 1
		}
	}

	s.logger.Info("rule catalog loaded", "count", len(loaded))
	return nil
}

// Create adds a rule to the catalog. A zero ID is assigned; a zero weight
// gets the default. The weight is clamped on the way in.
func (s *Store) Create(r *pkg.Rule) (*pkg.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := r.Clone()
	if cp.ID == 0 {
		cp.ID = s.nextID
	}
	if cp.Weight == 0 {
		cp.Weight = pkg.WeightDefault
	}
	cp.Weight = pkg.ClampWeight(cp.Weight)

	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	if s.persist != nil {
		if err := s.persist.SaveRule(cp); err != nil {
			return nil, fmt.Errorf("%w: save rule %d: %v", pkg.ErrPersistence, cp.ID, err)
		}
	}

	s.rules[cp.ID] = cp
	if cp.ID >= s.nextID {
		s.nextID = cp.ID + 1
	}

	s.logger.Info("rule created", "rule_id", cp.ID, "name", cp.Name, "weight", cp.Weight, "source", cp.Source)
	return cp.Clone(), nil
}

// Get returns a copy of one rule
func (s *Store) Get(id int64) (*pkg.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", pkg.ErrRuleNotFound, id)
	}
	return r.Clone(), nil
}

// GetByEventID returns the rule bound to a calendar event, if any
func (s *Store) GetByEventID(eventID string) (*pkg.Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.rules {
		if r.EventID != "" && r.EventID == eventID {
			return r.Clone(), true
		}
	}
	return nil, false
}

// ListActive returns copies of all active rules, ordered by ID
func (s *Store) ListActive() []*pkg.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*pkg.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		if r.IsActive {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListAll returns copies of every rule, active or not, ordered by ID
func (s *Store) ListAll() []*pkg.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*pkg.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot is ListActive under a different name for callers that need a
// point-in-time view for the duration of an inference pass
func (s *Store) Snapshot() []*pkg.Rule {
	return s.ListActive()
}

// UpdateWeight applies a delta to a rule's weight, clamped to the learned
// range. On persistence failure the in-memory weight is left unchanged.
func (s *Store) UpdateWeight(id int64, delta float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok {
		return 0, fmt.Errorf("%w: id %d", pkg.ErrRuleNotFound, id)
	}

	oldWeight := r.Weight
	oldUpdated := r.UpdatedAt
	r.Weight = pkg.ClampWeight(r.Weight + delta)
	r.UpdatedAt = time.Now().UTC()

	if s.persist != nil {
		if err := s.persist.SaveRule(r); err != nil {
			r.Weight = oldWeight
			r.UpdatedAt = oldUpdated
			return 0, fmt.Errorf("%w: update weight for rule %d: %v", pkg.ErrPersistence, id, err)
		}
	}

	s.logger.Debug("rule weight updated", "rule_id", id, "old", oldWeight, "new", r.Weight)
	return r.Weight, nil
}

// Deactivate retires a rule. It stays in the catalog for history but is
// never evaluated again.
func (s *Store) Deactivate(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok {
		return fmt.Errorf("%w: id %d", pkg.ErrRuleNotFound, id)
	}
	if !r.IsActive {
		return nil
	}

	r.IsActive = false
	r.UpdatedAt = time.Now().UTC()

	if s.persist != nil {
		if err := s.persist.SaveRule(r); err != nil {
			r.IsActive = true
			return fmt.Errorf("%w: deactivate rule %d: %v", pkg.ErrPersistence, id, err)
		}
	}

	s.logger.Info("rule deactivated", "rule_id", id, "name", r.Name)
	return nil
}
