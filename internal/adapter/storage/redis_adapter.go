package storage

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/vouch-desk/internal/core/domain"
	"github.com/rl1809/vouch-desk/internal/port"
)

const defaultNamespace = "inventory"

// Script results shared by the inventory scripts.
const (
	scriptNotFound  = -1
	scriptRejected  = 0
	scriptSucceeded = 1
)

// KEYS[1] stock hash, ARGV[1] item, ARGV[2] quantity
var reserveScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], ARGV[1])
if not current then
	return -1
end

current = tonumber(current)
local quantity = tonumber(ARGV[2])
if current >= quantity then
	redis.call('HINCRBY', KEYS[1], ARGV[1], -quantity)
	return 1
end

return 0
`)

// KEYS[1] stock hash, KEYS[2] order zset, KEYS[3] sequence, ARGV[1] old, ARGV[2] new
var renameScript = redis.NewScript(`
local quantity = redis.call('HGET', KEYS[1], ARGV[1])
if not quantity then
	return -1
end
if ARGV[1] == ARGV[2] then
	return 1
end
if redis.call('HEXISTS', KEYS[1], ARGV[2]) == 1 then
	return 0
end

redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1], ARGV[2], quantity)
redis.call('ZADD', KEYS[2], redis.call('INCR', KEYS[3]), ARGV[2])
return 1
`)

// KEYS[1] stock hash, KEYS[2] order zset, KEYS[3] sequence, ARGV[1] item, ARGV[2] quantity
var upsertScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then
	redis.call('ZADD', KEYS[2], redis.call('INCR', KEYS[3]), ARGV[1])
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// KEYS[1] stock hash, KEYS[2] order zset, ARGV[1] item
var removeScript = redis.NewScript(`
if redis.call('HDEL', KEYS[1], ARGV[1]) == 0 then
	return -1
end
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

// RedisAdapter is an InventoryStore for deployments that keep stock in
// Redis. Each mutation is a single Lua script, so it is atomic with respect
// to every other client of the same keys.
type RedisAdapter struct {
	client   *redis.Client
	stockKey string
	orderKey string
	seqKey   string
}

func NewRedisAdapter(client *redis.Client, namespace string) *RedisAdapter {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &RedisAdapter{
		client:   client,
		stockKey: namespace + ":stock",
		orderKey: namespace + ":order",
		seqKey:   namespace + ":seq",
	}
}

func (r *RedisAdapter) Reserve(ctx context.Context, name string, quantity int) error {
	if quantity <= 0 {
		return port.ErrInvalidQuantity
	}

	result, err := reserveScript.Run(ctx, r.client, []string{r.stockKey}, name, quantity).Int()
	if err != nil {
		return fmt.Errorf("%w: reserve: %v", port.ErrPersistence, err)
	}

	switch result {
	case scriptSucceeded:
		return nil
	case scriptNotFound:
		return port.ErrItemNotFound
	default:
		return port.ErrInsufficientStock
	}
}

func (r *RedisAdapter) Rename(ctx context.Context, oldName, newName string) error {
	keys := []string{r.stockKey, r.orderKey, r.seqKey}
	result, err := renameScript.Run(ctx, r.client, keys, oldName, newName).Int()
	if err != nil {
		return fmt.Errorf("%w: rename: %v", port.ErrPersistence, err)
	}

	switch result {
	case scriptSucceeded:
		return nil
	case scriptNotFound:
		return port.ErrItemNotFound
	default:
		return port.ErrNameCollision
	}
}

func (r *RedisAdapter) Upsert(ctx context.Context, name string, quantity int) error {
	if quantity < 0 {
		return port.ErrInvalidQuantity
	}

	keys := []string{r.stockKey, r.orderKey, r.seqKey}
	if err := upsertScript.Run(ctx, r.client, keys, name, quantity).Err(); err != nil {
		return fmt.Errorf("%w: upsert: %v", port.ErrPersistence, err)
	}
	return nil
}

func (r *RedisAdapter) Remove(ctx context.Context, name string) error {
	result, err := removeScript.Run(ctx, r.client, []string{r.stockKey, r.orderKey}, name).Int()
	if err != nil {
		return fmt.Errorf("%w: remove: %v", port.ErrPersistence, err)
	}
	if result == scriptNotFound {
		return port.ErrItemNotFound
	}
	return nil
}

func (r *RedisAdapter) Get(ctx context.Context, name string) (domain.Item, error) {
	quantity, err := r.client.HGet(ctx, r.stockKey, name).Int()
	if err == redis.Nil {
		return domain.Item{}, port.ErrItemNotFound
	}
	if err != nil {
		return domain.Item{}, fmt.Errorf("get item: %w", err)
	}
	return domain.Item{Name: name, Quantity: quantity}, nil
}

func (r *RedisAdapter) List(ctx context.Context) ([]domain.Item, error) {
	names, err := r.client.ZRange(ctx, r.orderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list order: %w", err)
	}
	if len(names) == 0 {
		return []domain.Item{}, nil
	}

	values, err := r.client.HMGet(ctx, r.stockKey, names...).Result()
	if err != nil {
		return nil, fmt.Errorf("list stock: %w", err)
	}

	items := make([]domain.Item, 0, len(names))
	for i, name := range names {
		raw, ok := values[i].(string)
		if !ok {
			// removed between the two reads
			continue
		}
		quantity, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", name, err)
		}
		items = append(items, domain.Item{Name: name, Quantity: quantity})
	}
	return items, nil
}

func (r *RedisAdapter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
