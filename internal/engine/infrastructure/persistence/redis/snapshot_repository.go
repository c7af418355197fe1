// Package redis 订单簿快照的 Redis 读缓存。
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/tradingengine/internal/engine/domain"
)

type snapshotRepository struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewSnapshotRepository 创建快照缓存，TTL 防止停更后的陈旧快照被长期读取。
func NewSnapshotRepository(client redis.UniversalClient, ttl time.Duration) domain.BookSnapshotRepository {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &snapshotRepository{
		client: client,
		prefix: "engine:orderbook:",
		ttl:    ttl,
	}
}

func (r *snapshotRepository) key(symbol string) string {
	return fmt.Sprintf("%s%s", r.prefix, symbol)
}

func (r *snapshotRepository) Save(ctx context.Context, snapshot *domain.BookSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(snapshot.Symbol), data, r.ttl).Err()
}

func (r *snapshotRepository) Load(ctx context.Context, symbol string) (*domain.BookSnapshot, error) {
	data, err := r.client.Get(ctx, r.key(symbol)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snapshot domain.BookSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}
