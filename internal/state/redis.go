package state

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisNameField    = "system_name"
	redisCounterField = "counter"
	redisPowerPrefix  = "power:"
)

// RedisPersister keeps the latest snapshot in one redis hash
type RedisPersister struct {
	client *redis.Client
	key    string
}

// NewRedisPersister connects and pings redis
func NewRedisPersister(ctx context.Context, addr, password, prefix string) (*RedisPersister, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisPersisterWithClient(rdb, prefix), nil
}

// NewRedisPersisterWithClient wraps an existing client
func NewRedisPersisterWithClient(client *redis.Client, prefix string) *RedisPersister {
	return &RedisPersister{client: client, key: prefix + ":state"}
}

func (r *RedisPersister) Key() string { return r.key }

// Save writes every field with a single HSET
func (r *RedisPersister) Save(ctx context.Context, snap Snapshot) error {
	if r == nil || r.client == nil {
		return nil
	}
	fields := map[string]any{
		redisNameField:    snap.SystemName,
		redisCounterField: snap.Counter,
	}
	for _, d := range snap.Displays {
		fields[redisPowerPrefix+d.ID] = strconv.FormatBool(d.Power)
	}
	if err := r.client.HSet(ctx, r.key, fields).Err(); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// Load reads the hash back. Display order is not stored; Store.Restore
// matches displays by id.
func (r *RedisPersister) Load(ctx context.Context) (*Snapshot, error) {
	if r == nil || r.client == nil {
		return nil, nil
	}
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	snap := &Snapshot{SystemName: fields[redisNameField]}
	if v, ok := fields[redisCounterField]; ok {
		snap.Counter, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid counter in redis key %s: %w", r.key, err)
		}
	} else {
		snap.noCounter = true
	}
	for field, v := range fields {
		id, ok := strings.CutPrefix(field, redisPowerPrefix)
		if !ok {
			continue
		}
		power, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid power for %s in redis key %s: %w", id, r.key, err)
		}
		snap.Displays = append(snap.Displays, Display{ID: id, Power: power})
	}
	return snap, nil
}

func (r *RedisPersister) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
