// Package progress mirrors job progress into redis so status reads do not
// have to hit Postgres. The mirror is best-effort: the job row stays
// authoritative and a nil store disables mirroring entirely.
package progress

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyTTL = 2 * time.Hour

// Store writes and reads per-job progress values.
type Store struct {
	client *redis.Client
}

// NewStore wraps an existing redis client; nil yields a disabled store.
func NewStore(client *redis.Client) *Store {
	if client == nil {
		return nil
	}
	return &Store{client: client}
}

func key(jobID string) string {
	return fmt.Sprintf("job:%s:progress", jobID)
}

// Set records the latest progress for a job.
func (s *Store) Set(ctx context.Context, jobID string, progress int) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Set(ctx, key(jobID), progress, keyTTL).Err()
}

// Get returns the mirrored progress, or ok=false when none is cached.
func (s *Store) Get(ctx context.Context, jobID string) (int, bool) {
	if s == nil || s.client == nil {
		return 0, false
	}
	val, err := s.client.Get(ctx, key(jobID)).Result()
	if err != nil {
		return 0, false
	}
	progress, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return progress, true
}
