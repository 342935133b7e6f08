// Package cart is the thin client for the Redis-backed cart owned by the
// storefront; the order engine only ever clears it after checkout.
package cart

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sportmart/orders/internal/redisx"
)

type Store struct{ RDB *redis.Client }

func New(rdb *redis.Client) *Store { return &Store{RDB: rdb} }

// Clear drops the user's cart. Best effort from the engine's point of view:
// the caller logs failures and moves on.
func (s *Store) Clear(ctx context.Context, userID string) error {
	return s.RDB.Del(ctx, fmt.Sprintf(redisx.KeyCart, userID)).Err()
}

// Items returns the raw cart hash (product id -> qty), used by the
// storefront read path.
func (s *Store) Items(ctx context.Context, userID string) (map[string]string, error) {
	return s.RDB.HGetAll(ctx, fmt.Sprintf(redisx.KeyCart, userID)).Result()
}
