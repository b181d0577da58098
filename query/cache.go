package query

import (
	"context"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/samlev/loom"
)

// cacheGet looks up and decodes a cached result set.
func cacheGet(ctx context.Context, c loom.Cache, key string) ([]map[string]any, bool, error) {
	raw, err := c.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	var rows []map[string]any
	if err := msgpack.Unmarshal(raw, &rows); err != nil {
		return nil, false, err
	}
	return rows, true, nil
}

// cacheSet encodes and stores a result set.
func cacheSet(ctx context.Context, c loom.Cache, key string, rows []map[string]any, ttl time.Duration) error {
	raw, err := msgpack.Marshal(rows)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, raw, ttl)
}
