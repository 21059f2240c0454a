package orders

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPerPage = 200
	MaxPerPage     = 1000
)

// ListParams are the normalized read parameters. The window is not one of
// them: reads always cover the last WindowDays days.
type ListParams struct {
	Shop    string
	Page    int
	PerPage int
}

// Page is one page of orders plus the pre-pagination total.
type Page struct {
	Total   int     `json:"total"`
	Page    int     `json:"page"`
	PerPage int     `json:"perPage"`
	Orders  []Order `json:"orders"`
}

// ParseListParams applies the read defaults: page below 1 becomes 1, a
// missing or unparsable perPage (falling back to the legacy limit name)
// becomes DefaultPerPage, and anything above MaxPerPage is clamped.
func ParseListParams(shop, page, perPage, limit string) ListParams {
	p := ListParams{
		Shop:    strings.TrimSpace(shop),
		Page:    1,
		PerPage: DefaultPerPage,
	}
	if n, err := strconv.Atoi(strings.TrimSpace(page)); err == nil && n > 1 {
		p.Page = n
	}

	raw := strings.TrimSpace(perPage)
	if raw == "" {
		raw = strings.TrimSpace(limit)
	}
	if n, err := strconv.Atoi(raw); err == nil && n >= 1 {
		p.PerPage = min(n, MaxPerPage)
	}
	return p
}

// Offset saturates at math.MaxInt instead of overflowing for huge pages.
func (p ListParams) Offset() int {
	if p.Page <= 1 || p.PerPage <= 0 {
		return 0
	}
	if p.Page-1 > math.MaxInt/p.PerPage {
		return math.MaxInt
	}
	return (p.Page - 1) * p.PerPage
}

// Service serves windowed, tenant-scoped reads. It never writes.
type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) List(ctx context.Context, p ListParams) (Page, error) {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	p.PerPage = min(p.PerPage, MaxPerPage)

	f := Filter{Shop: p.Shop, Since: WindowStart(s.now())}

	total, err := s.store.Count(ctx, f)
	if err != nil {
		return Page{}, fmt.Errorf("count orders: %w", err)
	}

	page := Page{Total: total, Page: p.Page, PerPage: p.PerPage, Orders: []Order{}}
	if p.Offset() >= total {
		return page, nil
	}

	found, err := s.store.List(ctx, f, p.Offset(), p.PerPage)
	if err != nil {
		return Page{}, fmt.Errorf("list orders: %w", err)
	}
	if found != nil {
		page.Orders = found
	}
	return page, nil
}

// Window returns every order of the window for one shop, newest first.
func (s *Service) Window(ctx context.Context, shop string) ([]Order, error) {
	f := Filter{Shop: shop, Since: WindowStart(s.now())}
	all := make([]Order, 0)
	for offset := 0; ; offset += MaxPerPage {
		batch, err := s.store.List(ctx, f, offset, MaxPerPage)
		if err != nil {
			return nil, fmt.Errorf("list window: %w", err)
		}
		all = append(all, batch...)
		if len(batch) < MaxPerPage {
			return all, nil
		}
	}
}
