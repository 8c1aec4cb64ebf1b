package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"drivepower/client/internal/models"
)

// ErrMiss is returned when no snapshot is cached under a key.
var ErrMiss = errors.New("cache: miss")

// snapshot wraps the list with the time it was fetched.
type snapshot struct {
	Stations  []models.Station `json:"stations"`
	FetchedAt time.Time        `json:"fetched_at"`
}

// RedisStations stores station list snapshots as JSON with a TTL.
type RedisStations struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStations returns redis-backed snapshot cache.
func NewRedisStations(client *redis.Client, ttl time.Duration) *RedisStations {
	return &RedisStations{client: client, ttl: ttl}
}

func (c *RedisStations) key(name string) string {
	return fmt.Sprintf("client:stations:%s", name)
}

// SaveStations caches the list.
func (c *RedisStations) SaveStations(ctx context.Context, key string, stations []models.Station) error {
	data, err := json.Marshal(snapshot{Stations: stations, FetchedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(key), data, c.ttl).Err()
}

// LoadStations returns the cached list or ErrMiss.
func (c *RedisStations) LoadStations(ctx context.Context, key string) ([]models.Station, error) {
	result, err := c.client.Get(ctx, c.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal([]byte(result), &snap); err != nil {
		return nil, err
	}
	return snap.Stations, nil
}
