// Package telem keeps a bounded in-RAM audit trail of contexts and events
package telem

import (
	"fmt"
	"sync"
	"time"

	"github.com/suggestd/suggestd/pkg"
)

const (
	contextBufferSize = 1000
	eventBufferSize   = 1000

	// rough per-item estimates for memory accounting
	contextItemBytes = 512
	eventItemBytes   = 256
)

// ContextSample is one observed context with its normalized form
type ContextSample struct {
	Timestamp time.Time             `json:"timestamp"`
	Raw       *pkg.Context          `json:"raw"`
	Extracted *pkg.ExtractedContext `json:"extracted"`
}

// Store holds recent context snapshots and engine events in ring buffers.
// It implements the engine's event sink.
type Store struct {
	mu sync.RWMutex

	retention time.Duration
	maxRAMMB  int

	contexts *ringBuffer
	events   *ringBuffer

	memoryUsage int64
	lastCleanup time.Time
}

// NewStore creates the audit store. Bounds mirror the config validation.
func NewStore(retentionHours, maxRAMMB int) (*Store, error) {
	if retentionHours < 1 || retentionHours > 168 {
		return nil, fmt.Errorf("retention_hours must be between 1 and 168")
	}
	if maxRAMMB < 1 || maxRAMMB > 128 {
		return nil, fmt.Errorf("max_ram_mb must be between 1 and 128")
	}

	return &Store{
		retention:   time.Duration(retentionHours) * time.Hour,
		maxRAMMB:    maxRAMMB,
		contexts:    newRingBuffer(contextBufferSize),
		events:      newRingBuffer(eventBufferSize),
		lastCleanup: time.Now(),
	}, nil
}

// AddContext records one observed context
func (s *Store) AddContext(raw *pkg.Context, extracted *pkg.ExtractedContext) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contexts.add(item{
		ts: time.Now(),
		value: &ContextSample{
			Timestamp: time.Now(),
			Raw:       raw,
			Extracted: extracted,
		},
	})
	s.maintain()
}

// Record adds one engine event. Satisfies the event sink interfaces of the
// decision engine and the learning service.
func (s *Store) Record(event pkg.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := event
	s.events.add(item{ts: event.Timestamp, value: &ev})
	s.maintain()
}

// RecentContexts returns samples newer than since, oldest first
func (s *Store) RecentContexts(since time.Time) []*ContextSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.contexts.since(since)
	out := make([]*ContextSample, 0, len(items))
	for _, it := range items {
		out = append(out, it.value.(*ContextSample))
	}
	return out
}

// RecentEvents returns events newer than since, oldest first, capped at limit
func (s *Store) RecentEvents(since time.Time, limit int) []*pkg.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.events.since(since)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]*pkg.Event, 0, len(items))
	for _, it := range items {
		out = append(out, it.value.(*pkg.Event))
	}
	return out
}

// MemoryUsageMB reports the estimated footprint
func (s *Store) MemoryUsageMB() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int(s.memoryUsage / 1024 / 1024)
}

// Cleanup drops entries older than the retention window
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.retention)
	s.contexts.removeBefore(cutoff)
	s.events.removeBefore(cutoff)
	s.updateMemoryUsage()
}

// maintain runs the cheap bookkeeping under the already-held write lock
func (s *Store) maintain() {
	s.updateMemoryUsage()

	if s.memoryUsage > int64(s.maxRAMMB)*1024*1024 {
		s.contexts.downsample(3)
		s.events.downsample(3)
		s.updateMemoryUsage()
	}

	if time.Since(s.lastCleanup) > time.Hour {
		cutoff := time.Now().Add(-s.retention)
		s.contexts.removeBefore(cutoff)
		s.events.removeBefore(cutoff)
		s.lastCleanup = time.Now()
	}
}

func (s *Store) updateMemoryUsage() {
	s.memoryUsage = int64(s.contexts.size*contextItemBytes + s.events.size*eventItemBytes)
}

// item pairs a payload with the timestamp used for retention
type item struct {
	ts    time.Time
	value interface{}
}

// ringBuffer is a fixed-capacity FIFO. Callers hold the store lock; the
// buffer itself is not synchronized.
type ringBuffer struct {
	data     []item
	capacity int
	head     int
	size     int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{
		data:     make([]item, capacity),
		capacity: capacity,
	}
}

func (rb *ringBuffer) add(it item) {
	tail := (rb.head + rb.size) % rb.capacity
	rb.data[tail] = it
	if rb.size < rb.capacity {
		rb.size++
	} else {
		rb.head = (rb.head + 1) % rb.capacity
	}
}

func (rb *ringBuffer) since(t time.Time) []item {
	var out []item
	for i := 0; i < rb.size; i++ {
		it := rb.data[(rb.head+i)%rb.capacity]
		if it.ts.After(t) {
			out = append(out, it)
		}
	}
	return out
}

// removeBefore drops leading entries older than the cutoff. Entries are
// appended in time order, so the old ones are contiguous at the head.
func (rb *ringBuffer) removeBefore(cutoff time.Time) {
	for rb.size > 0 {
		it := rb.data[rb.head]
		if it.ts.After(cutoff) {
			return
		}
		rb.data[rb.head] = item{}
		rb.head = (rb.head + 1) % rb.capacity
		rb.size--
	}
}

// downsample keeps every nth entry to shed memory pressure
func (rb *ringBuffer) downsample(n int) {
	if rb.size == 0 || n <= 1 {
		return
	}

	newData := make([]item, rb.capacity)
	newSize := 0
	for i := 0; i < rb.size; i += n {
		newData[newSize] = rb.data[(rb.head+i)%rb.capacity]
		newSize++
	}

	rb.data = newData
	rb.head = 0
	rb.size = newSize
}
