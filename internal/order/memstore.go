package order

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with the same atomicity guarantees as
// PGStore. It backs tests and local runs without Postgres.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]*Order
	nextID int64
	now    func() time.Time
}

// NewMemoryStore returns a store seeded with orders.
func NewMemoryStore(orders ...Order) *MemoryStore {
	s := &MemoryStore{orders: map[string]*Order{}, now: time.Now}
	for _, ord := range orders {
		_ = s.Create(context.Background(), ord)
	}
	return s
}

// Create inserts a new order.
func (s *MemoryStore) Create(_ context.Context, ord Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ord.Status == "" {
		ord.Status = StatusPending
	}
	if ord.Currency == "" {
		ord.Currency = "USD"
	}
	now := s.now()
	ord.CreatedAt, ord.UpdatedAt = now, now
	meta := make(map[string]string, len(ord.Meta))
	for k, v := range ord.Meta {
		meta[k] = v
	}
	ord.Meta = meta
	ord.Notes = append([]Note(nil), ord.Notes...)
	s.orders[ord.ID] = &ord
	return nil
}

// Get returns a copy of the order.
func (s *MemoryStore) Get(_ context.Context, id string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ord, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return cloneOrder(ord), nil
}

// List returns orders newest first.
func (s *MemoryStore) List(_ context.Context, limit, offset int) ([]Order, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]Order, 0, len(s.orders))
	for _, ord := range s.orders {
		all = append(all, cloneOrder(ord))
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

// UpdateStatus moves the order to status.
func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status Status, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ord, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	s.applyLocked(ord, status, note)
	return nil
}

// AttachMetadata stores key=value unless already set, adding note when the
// value is written.
func (s *MemoryStore) AttachMetadata(_ context.Context, id, key, value, note string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ord, ok := s.orders[id]
	if !ok {
		return false, ErrNotFound
	}
	if _, exists := ord.Meta[key]; exists {
		return false, nil
	}
	ord.Meta[key] = value
	ord.UpdatedAt = s.now()
	if strings.TrimSpace(note) != "" {
		s.noteLocked(ord, note)
	}
	return true, nil
}

// AppendNote adds a note.
func (s *MemoryStore) AppendNote(_ context.Context, id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ord, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	s.noteLocked(ord, text)
	return nil
}

// TransitionIfMeta mirrors PGStore.TransitionIfMeta.
func (s *MemoryStore) TransitionIfMeta(_ context.Context, id, key, expected string, status Status, note string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ord, ok := s.orders[id]
	if !ok {
		return false, ErrNotFound
	}
	value, exists := ord.Meta[key]
	if !exists || value != expected {
		return false, ErrGuardMismatch
	}
	if ord.Status == status {
		return false, nil
	}
	s.applyLocked(ord, status, note)
	return true, nil
}

func (s *MemoryStore) applyLocked(ord *Order, status Status, note string) {
	if ord.Status == status {
		if strings.TrimSpace(note) != "" {
			s.noteLocked(ord, note)
		}
		return
	}
	from := ord.Status
	ord.Status = status
	ord.UpdatedAt = s.now()
	s.noteLocked(ord, transitionNote(note, from, status))
}

func (s *MemoryStore) noteLocked(ord *Order, text string) {
	s.nextID++
	ord.Notes = append(ord.Notes, Note{ID: s.nextID, Text: text, CreatedAt: s.now()})
}

func cloneOrder(ord *Order) Order {
	out := *ord
	out.Meta = make(map[string]string, len(ord.Meta))
	for k, v := range ord.Meta {
		out.Meta[k] = v
	}
	out.Notes = append([]Note(nil), ord.Notes...)
	return out
}
