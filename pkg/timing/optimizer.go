// Package timing learns reminder lead-times with Beta-Bernoulli slots
package timing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/suggestd/suggestd/pkg"
	"github.com/suggestd/suggestd/pkg/logx"
)

var slotBucket = []byte("timing_slots")

// Store persists one Beta distribution per (task_type, context_key, lead)
// triple. Slots are materialized lazily: an unseen triple reads as the
// uniform prior and is only written once feedback arrives.
type Store struct {
	db     *bolt.DB
	logger *logx.Logger
}

// Open creates or opens the timing database
func Open(path string, logger *logx.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create timing db directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open timing db %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(slotBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init timing db: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func slotKey(taskType, contextKey string, lead int) []byte {
	return []byte(fmt.Sprintf("%s|%s|%d", taskType, contextKey, lead))
}

func defaultSlot(taskType, contextKey string, lead int) *pkg.TimingSlot {
	return &pkg.TimingSlot{
		TaskType:    taskType,
		ContextKey:  contextKey,
		LeadMinutes: lead,
		Alpha:       1,
		Beta:        1,
	}
}

// Slot returns the current state of one slot, or the uniform prior if it
// has never been observed
func (s *Store) Slot(taskType, contextKey string, lead int) (*pkg.TimingSlot, error) {
	slot := defaultSlot(taskType, contextKey, lead)

	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(slotBucket).Get(slotKey(taskType, contextKey, lead))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, slot)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read timing slot: %w", err)
	}
	return slot, nil
}

// Evaluate scores every candidate lead-time for a (task_type, context_key)
// pair, in the order the leads are given
func (s *Store) Evaluate(taskType, contextKey string, leads []int) ([]pkg.TimingOption, error) {
	options := make([]pkg.TimingOption, 0, len(leads))

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(slotBucket)
		for _, lead := range leads {
			slot := defaultSlot(taskType, contextKey, lead)
			if raw := bucket.Get(slotKey(taskType, contextKey, lead)); raw != nil {
				if err := json.Unmarshal(raw, slot); err != nil {
					return err
				}
			}
			options = append(options, pkg.TimingOption{
				LeadMinutes: lead,
				Confidence:  slot.Confidence(),
				UCB:         slot.UCB(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate timing slots: %w", err)
	}
	return options, nil
}

// SelectBest picks the option with the highest UCB score, preferring the
// shorter lead-time on ties
func SelectBest(options []pkg.TimingOption) pkg.TimingOption {
	if len(options) == 0 {
		return pkg.TimingOption{}
	}

	best := options[0]
	for _, opt := range options[1:] {
		if opt.UCB > best.UCB || (opt.UCB == best.UCB && opt.LeadMinutes < best.LeadMinutes) {
			best = opt
		}
	}
	return best
}

// RecordOutcome folds one accept/reject observation into a slot. The update
// is atomic: a failed write leaves the slot untouched.
func (s *Store) RecordOutcome(taskType, contextKey string, lead int, accepted bool) (*pkg.TimingSlot, error) {
	slot := defaultSlot(taskType, contextKey, lead)

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(slotBucket)
		key := slotKey(taskType, contextKey, lead)

		if raw := bucket.Get(key); raw != nil {
			if err := json.Unmarshal(raw, slot); err != nil {
				return err
			}
		}

		if accepted {
			slot.Alpha++
		} else {
			slot.Beta++
		}
		slot.TotalTriggers++
		slot.UpdatedAt = time.Now().UTC()

		encoded, err := json.Marshal(slot)
		if err != nil {
			return err
		}
		return bucket.Put(key, encoded)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: timing slot update: %v", pkg.ErrPersistence, err)
	}

	s.logger.Debug("timing slot updated",
		"task_type", taskType, "context_key", contextKey, "lead", lead,
		"alpha", slot.Alpha, "beta", slot.Beta, "accepted", accepted)
	return slot, nil
}

// RevertOutcome undoes one previously recorded observation. Used to keep
// paired stores consistent when a later write in the same feedback
// application fails.
func (s *Store) RevertOutcome(taskType, contextKey string, lead int, accepted bool) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(slotBucket)
		key := slotKey(taskType, contextKey, lead)

		raw := bucket.Get(key)
		if raw == nil {
			return nil
		}
		slot := &pkg.TimingSlot{}
		if err := json.Unmarshal(raw, slot); err != nil {
			return err
		}

		if accepted && slot.Alpha > 1 {
			slot.Alpha--
		} else if !accepted && slot.Beta > 1 {
			slot.Beta--
		}
		if slot.TotalTriggers > 0 {
			slot.TotalTriggers--
		}
		slot.UpdatedAt = time.Now().UTC()

		encoded, err := json.Marshal(slot)
		if err != nil {
			return err
		}
		return bucket.Put(key, encoded)
	})
	if err != nil {
		return fmt.Errorf("%w: timing slot revert: %v", pkg.ErrPersistence, err)
	}
	return nil
}

// SlotCount reports how many slots have been materialized
func (s *Store) SlotCount() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(slotBucket).Stats().KeyN
		return nil
	})
	return count, err
}
