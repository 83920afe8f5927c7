package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cimillas/ultimate-ticket/services/reservations/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// CartStore reads carts the cart service keeps in Redis as JSON under
// cart:<cart id>.
type CartStore struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

// NewCartStore returns a store whose writes expire after ttl; zero keeps
// them forever.
func NewCartStore(client goredis.UniversalClient, ttl time.Duration) *CartStore {
	return &CartStore{client: client, ttl: ttl}
}

type cartDoc struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Items     []cartItemDoc `json:"items"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type cartItemDoc struct {
	ID       string `json:"id"`
	EventID  string `json:"event_id"`
	ZoneID   string `json:"zone_id"`
	Quantity int    `json:"quantity"`
}

func cartKey(cartID string) string {
	return "cart:" + cartID
}

// GetCart reports domain.ErrCartNotFound for a missing cart and for a cart
// owned by another user.
func (s *CartStore) GetCart(ctx context.Context, userID, cartID string) (domain.Cart, error) {
	data, err := s.client.Get(ctx, cartKey(cartID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("get cart: %w", err)
	}
	return decodeCart(data, userID)
}

func decodeCart(data []byte, userID string) (domain.Cart, error) {
	var doc cartDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.Cart{}, fmt.Errorf("decode cart: %w", err)
	}
	if doc.UserID != userID {
		return domain.Cart{}, domain.ErrCartNotFound
	}

	cart := domain.Cart{ID: doc.ID, UserID: doc.UserID, Lines: make([]domain.CartLine, 0, len(doc.Items))}
	for _, item := range doc.Items {
		cart.Lines = append(cart.Lines, domain.CartLine{
			CartItemID: item.ID,
			EventID:    item.EventID,
			ZoneID:     item.ZoneID,
			Quantity:   item.Quantity,
		})
	}
	return cart, nil
}

func (s *CartStore) SaveCart(ctx context.Context, cart domain.Cart) error {
	data, err := encodeCart(cart, time.Now().UTC())
	if err != nil {
		return err
	}
	return s.client.Set(ctx, cartKey(cart.ID), data, s.ttl).Err()
}

func encodeCart(cart domain.Cart, at time.Time) ([]byte, error) {
	doc := cartDoc{ID: cart.ID, UserID: cart.UserID, Items: make([]cartItemDoc, 0, len(cart.Lines)), UpdatedAt: at}
	for _, line := range cart.Lines {
		doc.Items = append(doc.Items, cartItemDoc{
			ID:       line.CartItemID,
			EventID:  line.EventID,
			ZoneID:   line.ZoneID,
			Quantity: line.Quantity,
		})
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode cart: %w", err)
	}
	return data, nil
}
