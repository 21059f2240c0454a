package orders

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and local runs.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]Order
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: map[string]Order{}, now: time.Now}
}

func (m *MemoryStore) Upsert(_ context.Context, o Order) error {
	if err := validateOrder(o); err != nil {
		return err
	}
	o.IngestedAt = m.now().UTC()
	o.LineItems = append([]LineItem(nil), o.LineItems...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.OrderID] = o
	return nil
}

func (m *MemoryStore) Count(_ context.Context, f Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.match(f)), nil
}

func (m *MemoryStore) List(_ context.Context, f Filter, offset, limit int) ([]Order, error) {
	m.mu.RLock()
	matched := m.match(f)
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].OrderID > matched[j].OrderID
	})

	out := make([]Order, 0)
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || offset >= len(matched) {
		return out, nil
	}
	end := min(offset+limit, len(matched))
	return append(out, matched[offset:end]...), nil
}

func (m *MemoryStore) DeleteByShop(_ context.Context, shop string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, o := range m.orders {
		if o.Shop == shop {
			delete(m.orders, id)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored orders across all shops and ages.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orders)
}

// Get returns the stored order by id.
func (m *MemoryStore) Get(orderID string) (Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	return o, ok
}

func (m *MemoryStore) match(f Filter) []Order {
	out := make([]Order, 0, len(m.orders))
	for _, o := range m.orders {
		if f.Shop != "" && o.Shop != f.Shop {
			continue
		}
		if o.CreatedAt.Before(f.Since) {
			continue
		}
		out = append(out, o)
	}
	return out
}
