package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/pkg/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// HistoryRepo keeps a bounded per-driver location trail in Redis lists.
// Newest first; the list is trimmed on every append and expires when the
// driver goes quiet.
type HistoryRepo struct {
	rdb   *goredis.Client
	limit int64
	ttl   time.Duration
}

func NewHistoryRepo(rdb *goredis.Client, limit int64, ttl time.Duration) *HistoryRepo {
	return &HistoryRepo{
		rdb:   rdb,
		limit: limit,
		ttl:   ttl,
	}
}

func historyKey(driverID uuid.UUID) string {
	return "driver:history:" + driverID.String()
}

func (r *HistoryRepo) Append(ctx context.Context, upd models.LocationUpdate) error {
	const op = "HistoryRepo.Append"

	payload, err := json.Marshal(upd)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	key := historyKey(upd.DriverID)
	_, err = r.rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.LPush(ctx, key, payload)
		pipe.LTrim(ctx, key, 0, r.limit-1)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Recent returns up to n trail points, newest first.
func (r *HistoryRepo) Recent(ctx context.Context, driverID uuid.UUID, n int64) ([]models.LocationUpdate, error) {
	const op = "HistoryRepo.Recent"

	if n <= 0 || n > r.limit {
		n = r.limit
	}
	raw, err := r.rdb.LRange(ctx, historyKey(driverID), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	updates := make([]models.LocationUpdate, 0, len(raw))
	for _, item := range raw {
		var upd models.LocationUpdate
		if err := json.Unmarshal([]byte(item), &upd); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		updates = append(updates, upd)
	}
	return updates, nil
}
