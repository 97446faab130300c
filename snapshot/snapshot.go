// Package snapshot keeps the last-known tracking state per route in Redis
// with a TTL, serving as the cached fallback when a client has no live feed.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lastmile/store"
)

// Snapshot is the cached tracking state for one route.
type Snapshot struct {
	RouteID        string                `json:"route_id"`
	RouteStatus    string                `json:"route_status"`
	DriverLocation *store.DriverLocation `json:"driver_location,omitempty"`
	Stops          []store.RouteStop     `json:"stops"`
	LastCachedAt   time.Time             `json:"last_cached_at"`
}

// Store persists snapshots in Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore wraps a Redis client. ttl bounds snapshot staleness.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{client: client, ttl: ttl}
}

func key(routeID string) string {
	return fmt.Sprintf("lastmile:route:%s:snapshot", routeID)
}

// Save writes the snapshot, stamping LastCachedAt and resetting the TTL.
func (s *Store) Save(ctx context.Context, snap *Snapshot) error {
	snap.LastCachedAt = time.Now().UTC()
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key(snap.RouteID), data, s.ttl).Err()
}

// Load returns the cached snapshot, or nil when absent or expired.
func (s *Store) Load(ctx context.Context, routeID string) (*Snapshot, error) {
	data, err := s.client.Get(ctx, key(routeID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Delete removes a route's snapshot.
func (s *Store) Delete(ctx context.Context, routeID string) error {
	return s.client.Del(ctx, key(routeID)).Err()
}
