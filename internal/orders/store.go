package orders

import (
	"context"
	"errors"
)

var ErrInvalidOrder = errors.New("order requires shop, orderId and createdAt")

// Store persists normalized orders. Upsert is keyed by OrderID alone.
type Store interface {
	Upsert(ctx context.Context, o Order) error
	Count(ctx context.Context, f Filter) (int, error)
	// List returns matching orders newest first, skipping offset records.
	List(ctx context.Context, f Filter, offset, limit int) ([]Order, error)
	DeleteByShop(ctx context.Context, shop string) (int, error)
}

func validateOrder(o Order) error {
	if o.Shop == "" || o.OrderID == "" || o.CreatedAt.IsZero() {
		return ErrInvalidOrder
	}
	return nil
}
