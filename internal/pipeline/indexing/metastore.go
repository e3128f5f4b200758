package indexing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"codeforge/internal/domain/indexstate"
)

// RedisMetaStore persists index:{repoId}:{branch}:meta records in
// Redis, reusing the same connection shape as the job queue (one flat
// key per record rather than a hash, since meta records are looked up
// individually, never enumerated).
type RedisMetaStore struct {
	rdb *redis.Client
}

// NewRedisMetaStore wraps an existing Redis connection. Sharing the
// connection with the queue client is intentional: both are
// lightweight, low-volume metadata operations against the same Redis
// instance.
func NewRedisMetaStore(rdb *redis.Client) *RedisMetaStore {
	return &RedisMetaStore{rdb: rdb}
}

func metaKey(repoID, branch string) string {
	return fmt.Sprintf("codeforge:index:%s:%s:meta", repoID, branch)
}

func (s *RedisMetaStore) Get(repoID, branch string) (*indexstate.Meta, bool) {
	data, err := s.rdb.Get(context.Background(), metaKey(repoID, branch)).Result()
	if err != nil {
		return nil, false
	}
	var meta indexstate.Meta
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return nil, false
	}
	return &meta, true
}

func (s *RedisMetaStore) Put(meta indexstate.Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("indexing: marshal meta for %s:%s: %w", meta.RepoID, meta.Branch, err)
	}
	return s.rdb.Set(context.Background(), metaKey(meta.RepoID, meta.Branch), data, 0).Err()
}

var _ indexstate.Store = (*RedisMetaStore)(nil)
