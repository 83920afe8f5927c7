package memory

import (
	"context"
	"sync"

	"github.com/cimillas/ultimate-ticket/services/reservations/internal/domain"
)

// CartStore is an in-process stand-in for the cart subsystem.
type CartStore struct {
	mu    sync.RWMutex
	carts map[string]domain.Cart
}

func NewCartStore() *CartStore {
	return &CartStore{carts: make(map[string]domain.Cart)}
}

func (c *CartStore) SaveCart(_ context.Context, cart domain.Cart) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cart.Lines = append([]domain.CartLine(nil), cart.Lines...)
	c.carts[cart.ID] = cart
	return nil
}

// GetCart reports domain.ErrCartNotFound for carts owned by someone else.
func (c *CartStore) GetCart(_ context.Context, userID, cartID string) (domain.Cart, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cart, ok := c.carts[cartID]
	if !ok || cart.UserID != userID {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	cart.Lines = append([]domain.CartLine(nil), cart.Lines...)
	return cart, nil
}
