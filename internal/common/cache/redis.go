// Package cache 提供 Redis 缓存与分布式锁功能
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dumeirei/room-rental-backend/internal/common/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotAcquired 锁已被其他请求持有
var ErrLockNotAcquired = errors.New("lock not acquired")

// Init 初始化 Redis 连接
func Init(cfg *config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  time.Duration(cfg.DialTimeout) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect redis: %w", err)
	}

	return rdb, nil
}

// SetJSON 以 JSON 写入指定客户端
func SetJSON(ctx context.Context, client *redis.Client, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return client.Set(ctx, key, data, expiration).Err()
}

// GetJSON 从指定客户端读取 JSON，键不存在时返回 redis.Nil
func GetJSON(ctx context.Context, client *redis.Client, key string, dest interface{}) error {
	data, err := client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// DeleteByPattern 按模式删除缓存（SCAN 遍历，避免阻塞）
func DeleteByPattern(ctx context.Context, client *redis.Client, pattern string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			if err := client.Del(ctx, keys...).Err(); err != nil {
				return deleted, err
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// unlockScript 仅当持有者令牌一致时释放锁
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock 分布式锁
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// Key 返回锁的键
func (l *Lock) Key() string {
	return l.key
}

// Release 释放锁，锁已过期或被他人持有时不做任何事
func (l *Lock) Release(ctx context.Context) error {
	if l == nil || l.client == nil {
		return nil
	}
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}

// AcquireLock 获取分布式锁，未获取到时返回 ErrLockNotAcquired
func AcquireLock(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()
	ok, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}
	return &Lock{client: client, key: key, token: token}, nil
}

// CacheKey 常用缓存键前缀
const (
	KeyPrefixLock     = "lock:"
	KeyPrefixCalendar = "calendar:"
)

// BuildKey 构建缓存键
func BuildKey(prefix string, parts ...string) string {
	key := prefix
	for _, part := range parts {
		key += part + ":"
	}
	return key[:len(key)-1]
}

// RoomLockKey 房间下单锁
func RoomLockKey(roomID int64) string {
	return BuildKey(KeyPrefixLock, "room", strconv.FormatInt(roomID, 10))
}

// PaymentLockKey 支付流水号去重锁
func PaymentLockKey(transactionRef string) string {
	return BuildKey(KeyPrefixLock, "payment", transactionRef)
}

// CalendarKey 房间可用日历缓存键
func CalendarKey(roomID int64, start string, days int) string {
	return BuildKey(KeyPrefixCalendar, strconv.FormatInt(roomID, 10), start, strconv.Itoa(days))
}

// CalendarPattern 房间全部日历缓存的匹配模式
func CalendarPattern(roomID int64) string {
	return KeyPrefixCalendar + strconv.FormatInt(roomID, 10) + ":*"
}
