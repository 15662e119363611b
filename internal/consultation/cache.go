package consultation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SnapshotCache holds terminal snapshots after the engine has been released.
type SnapshotCache interface {
	Set(ctx context.Context, s Snapshot) error
	Get(ctx context.Context, id uuid.UUID) (*Snapshot, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type redisSnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSnapshotCache(client *redis.Client, ttl time.Duration) SnapshotCache {
	return &redisSnapshotCache{client: client, ttl: ttl}
}

func snapshotKey(id uuid.UUID) string {
	return "consultation:" + id.String()
}

func (c *redisSnapshotCache) Set(ctx context.Context, s Snapshot) error {
	data, err := MarshalSnapshot(s)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, snapshotKey(s.ID), data, c.ttl).Err()
}

func (c *redisSnapshotCache) Get(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	data, err := c.client.Get(ctx, snapshotKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s, err := UnmarshalSnapshot(data)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *redisSnapshotCache) Delete(ctx context.Context, id uuid.UUID) error {
	return c.client.Del(ctx, snapshotKey(id)).Err()
}

type memoryEntry struct {
	snapshot  Snapshot
	expiresAt time.Time
}

type memorySnapshotCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[uuid.UUID]memoryEntry
	now     func() time.Time
}

func NewMemorySnapshotCache(ttl time.Duration) SnapshotCache {
	return &memorySnapshotCache{
		ttl:     ttl,
		entries: make(map[uuid.UUID]memoryEntry),
		now:     time.Now,
	}
}

func (c *memorySnapshotCache) Set(_ context.Context, s Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[s.ID] = memoryEntry{snapshot: s, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *memorySnapshotCache) Get(_ context.Context, id uuid.UUID) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if c.ttl > 0 && c.now().After(e.expiresAt) {
		delete(c.entries, id)
		return nil, ErrNotFound
	}
	s := e.snapshot
	return &s, nil
}

func (c *memorySnapshotCache) Delete(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	return nil
}
