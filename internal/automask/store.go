// Package automask learns locations that keep producing differences across
// comparison runs so they can be recognized as recurring noise.
package automask

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"snapdiff/pkg/geometry"
)

// ErrPersistence wraps every backend load or save failure.
var ErrPersistence = errors.New("auto-mask persistence failed")

// MatchIoU is the overlap above which an observation updates an existing box.
const MatchIoU = 0.5

// LearnedBox is a location that has produced added or removed regions.
type LearnedBox struct {
	ID        string    `json:"id"`
	X         int       `json:"x"`
	Y         int       `json:"y"`
	W         int       `json:"w"`
	H         int       `json:"h"`
	HitCount  int       `json:"hitCount"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
}

// Rect returns the box geometry.
func (b LearnedBox) Rect() geometry.Rect {
	return geometry.NewRect(b.X, b.Y, b.W, b.H)
}

// RetentionPolicy decides which boxes survive Prune. A box is kept while it
// was seen within MaxAge, or once it has at least MinHits observations.
type RetentionPolicy struct {
	MaxAge  time.Duration
	MinHits int
}

// DefaultRetention drops boxes unseen for 30 days unless they recurred at
// least three times.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{MaxAge: 30 * 24 * time.Hour, MinHits: 3}
}

// LegacyRetention keeps any box with a single hit, which in practice keeps
// every box forever.
func LegacyRetention() RetentionPolicy {
	return RetentionPolicy{MaxAge: 30 * 24 * time.Hour, MinHits: 1}
}

// Keep reports whether b survives at time now.
func (p RetentionPolicy) Keep(b LearnedBox, now time.Time) bool {
	if now.Sub(b.LastSeen) < p.MaxAge {
		return true
	}
	return p.MinHits > 0 && b.HitCount >= p.MinHits
}

// Backend persists the ordered box collection.
type Backend interface {
	Load(ctx context.Context) ([]LearnedBox, error)
	Save(ctx context.Context, boxes []LearnedBox) error
	Close() error
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithIDGenerator injects the box ID generator.
func WithIDGenerator(gen func() string) Option { return func(s *Store) { s.newID = gen } }

// WithRetention sets the prune policy.
func WithRetention(p RetentionPolicy) Option { return func(s *Store) { s.retention = p } }

// Store holds learned boxes in memory and persists them through a Backend.
// All methods are safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	backend   Backend
	boxes     []LearnedBox
	now       func() time.Time
	newID     func() string
	retention RetentionPolicy
}

// New creates an empty store. A nil backend keeps the store in memory only.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:   backend,
		now:       time.Now,
		newID:     func() string { return uuid.Must(uuid.NewV7()).String() },
		retention: DefaultRetention(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load replaces the in-memory boxes with the persisted collection.
func (s *Store) Load(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	boxes, err := s.backend.Load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.boxes = boxes
	s.mu.Unlock()
	return nil
}

// Save persists the current boxes. The backend either commits the whole
// collection or leaves the previous one untouched.
func (s *Store) Save(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Save(ctx, s.boxes)
}

// Observe records one occurrence of each rectangle. A rectangle overlapping
// an existing box with IoU above MatchIoU bumps that box; otherwise a new
// box is created. It returns how many boxes were updated and created.
func (s *Store) Observe(rects []geometry.Rect) (updated, created int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.timestamp()
	for _, r := range rects {
		if r.Empty() {
			continue
		}

		best := -1
		bestIoU := MatchIoU
		for i := range s.boxes {
			iou := geometry.IoU(r, s.boxes[i].Rect())
			if iou > bestIoU {
				best = i
				bestIoU = iou
			}
		}

		if best >= 0 {
			s.boxes[best].HitCount++
			s.boxes[best].LastSeen = now
			updated++
			continue
		}

		s.boxes = append(s.boxes, LearnedBox{
			ID:        s.newID(),
			X:         r.X,
			Y:         r.Y,
			W:         r.W,
			H:         r.H,
			HitCount:  1,
			FirstSeen: now,
			LastSeen:  now,
		})
		created++
	}
	return updated, created
}

// Prune drops boxes rejected by the retention policy and returns how many
// were removed. Order of the survivors is preserved.
func (s *Store) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.timestamp()
	kept := s.boxes[:0]
	for _, b := range s.boxes {
		if s.retention.Keep(b, now) {
			kept = append(kept, b)
		}
	}
	removed := len(s.boxes) - len(kept)
	clear(s.boxes[len(kept):])
	s.boxes = kept
	return removed
}

// Snapshot returns a copy of the boxes in insertion order.
func (s *Store) Snapshot() []LearnedBox {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LearnedBox, len(s.boxes))
	copy(out, s.boxes)
	return out
}

// Len returns the number of boxes.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.boxes)
}

// Suppressors returns the rectangles of boxes seen at least minHits times.
func (s *Store) Suppressors(minHits int) []geometry.Rect {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rects []geometry.Rect
	for _, b := range s.boxes {
		if b.HitCount >= minHits {
			rects = append(rects, b.Rect())
		}
	}
	return rects
}

// Close releases the backend.
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC().Round(0)
}
