// Package cache Redis 缓存模块单元测试
package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dumeirei/room-rental-backend/internal/common/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMiniRedis 创建 miniredis 测试实例
func setupMiniRedis(t *testing.T) *miniredis.Miniredis {
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

// newClient 创建连接 miniredis 的客户端
func newClient(t *testing.T, s *miniredis.Miniredis) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

// ==================== Init 函数测试 ====================

func TestInit_Success(t *testing.T) {
	s := setupMiniRedis(t)

	cfg := &config.RedisConfig{
		Host:         s.Host(),
		Port:         s.Server().Addr().Port,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5,
		ReadTimeout:  3,
		WriteTimeout: 3,
	}

	client, err := Init(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
	})
	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestInit_ConnectionFailed(t *testing.T) {
	cfg := &config.RedisConfig{
		Host:        "invalid-host",
		Port:        9999,
		DialTimeout: 1,
	}

	client, err := Init(cfg)
	assert.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "failed to connect redis")
}

// ==================== JSON 读写测试 ====================

type calendarDay struct {
	Date      string `json:"date"`
	Available bool   `json:"available"`
}

func TestJSON(t *testing.T) {
	s := setupMiniRedis(t)
	client := newClient(t, s)
	ctx := context.Background()

	t.Run("写入与读取", func(t *testing.T) {
		data := []calendarDay{{"2025-01-01", true}, {"2025-01-02", false}}
		require.NoError(t, SetJSON(ctx, client, CalendarKey(5, "2025-01-01", 2), data, time.Minute))

		var got []calendarDay
		require.NoError(t, GetJSON(ctx, client, CalendarKey(5, "2025-01-01", 2), &got))
		assert.Equal(t, data, got)
		assert.Equal(t, time.Minute, s.TTL(CalendarKey(5, "2025-01-01", 2)))
	})

	t.Run("键不存在", func(t *testing.T) {
		var got []calendarDay
		err := GetJSON(ctx, client, "calendar:5:missing", &got)
		assert.ErrorIs(t, err, redis.Nil)
	})

	t.Run("无法序列化", func(t *testing.T) {
		err := SetJSON(ctx, client, "calendar:chan", make(chan int), time.Minute)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to marshal value")
	})
}

// ==================== DeleteByPattern 测试 ====================

func TestDeleteByPattern(t *testing.T) {
	s := setupMiniRedis(t)
	client := newClient(t, s)
	ctx := context.Background()

	t.Run("只删除同一房间的日历", func(t *testing.T) {
		require.NoError(t, SetJSON(ctx, client, CalendarKey(5, "2025-01-01", 30), "a", 0))
		require.NoError(t, SetJSON(ctx, client, CalendarKey(5, "2025-02-01", 60), "b", 0))
		require.NoError(t, SetJSON(ctx, client, CalendarKey(6, "2025-01-01", 30), "c", 0))
		require.NoError(t, SetJSON(ctx, client, CalendarKey(50, "2025-01-01", 30), "d", 0))

		n, err := DeleteByPattern(ctx, client, CalendarPattern(5))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		assert.False(t, s.Exists(CalendarKey(5, "2025-01-01", 30)))
		assert.True(t, s.Exists(CalendarKey(6, "2025-01-01", 30)))
		assert.True(t, s.Exists(CalendarKey(50, "2025-01-01", 30)))
	})

	t.Run("多批扫描", func(t *testing.T) {
		for i := 0; i < 250; i++ {
			require.NoError(t, SetJSON(ctx, client, CalendarKey(7, fmt.Sprintf("d%03d", i), 30), i, 0))
		}
		n, err := DeleteByPattern(ctx, client, CalendarPattern(7))
		require.NoError(t, err)
		assert.Equal(t, 250, n)
	})

	t.Run("无匹配", func(t *testing.T) {
		n, err := DeleteByPattern(ctx, client, CalendarPattern(99))
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

// ==================== 分布式锁测试 ====================

func TestAcquireLock(t *testing.T) {
	s := setupMiniRedis(t)
	client := newClient(t, s)
	ctx := context.Background()

	t.Run("获取与释放", func(t *testing.T) {
		lock, err := AcquireLock(ctx, client, RoomLockKey(5), time.Minute)
		require.NoError(t, err)
		assert.Equal(t, "lock:room:5", lock.Key())

		_, err = AcquireLock(ctx, client, RoomLockKey(5), time.Minute)
		assert.ErrorIs(t, err, ErrLockNotAcquired)

		require.NoError(t, lock.Release(ctx))
		assert.False(t, s.Exists("lock:room:5"))

		again, err := AcquireLock(ctx, client, RoomLockKey(5), time.Minute)
		require.NoError(t, err)
		require.NoError(t, again.Release(ctx))
	})

	t.Run("过期后被他人持有时释放不影响新持有者", func(t *testing.T) {
		lock, err := AcquireLock(ctx, client, PaymentLockKey("txn_1"), time.Second)
		require.NoError(t, err)

		s.FastForward(2 * time.Second)

		other, err := AcquireLock(ctx, client, PaymentLockKey("txn_1"), time.Minute)
		require.NoError(t, err)

		require.NoError(t, lock.Release(ctx))
		assert.True(t, s.Exists("lock:payment:txn_1"))
		require.NoError(t, other.Release(ctx))
	})

	t.Run("nil 锁释放", func(t *testing.T) {
		var lock *Lock
		assert.NoError(t, lock.Release(ctx))
	})
}

// ==================== BuildKey 测试 ====================

func TestBuildKey(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		parts    []string
		expected string
	}{
		{"single part", KeyPrefixCalendar, []string{"5"}, "calendar:5"},
		{"lock key", KeyPrefixLock, []string{"room", "12"}, "lock:room:12"},
		{"calendar key", KeyPrefixCalendar, []string{"5", "2025-01-01", "30"}, "calendar:5:2025-01-01:30"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BuildKey(tt.prefix, tt.parts...))
		})
	}
}

func TestDomainKeys(t *testing.T) {
	assert.Equal(t, "lock:room:7", RoomLockKey(7))
	assert.Equal(t, "lock:payment:abc", PaymentLockKey("abc"))
	assert.Equal(t, "calendar:7:2025-03-01:60", CalendarKey(7, "2025-03-01", 60))
	assert.Equal(t, "calendar:7:*", CalendarPattern(7))
}
