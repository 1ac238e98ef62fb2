package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type ledgerRow struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(conn, &ledgerRow{}))
	return conn
}

// openPostgresDryRun 不建立连接，仅用于生成 SQL
func openPostgresDryRun(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(postgres.Open("host=127.0.0.1 user=x dbname=x sslmode=disable"), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return conn
}

// ==================== 配置测试 ====================

func TestGetLogLevel(t *testing.T) {
	assert.Equal(t, logger.Info, getLogLevel(true))
	assert.Equal(t, logger.Silent, getLogLevel(false))
}

func TestClose_NotInitialized(t *testing.T) {
	saved := db
	db = nil
	defer func() { db = saved }()

	assert.NoError(t, Close())
}

func TestClose(t *testing.T) {
	saved := db
	defer func() { db = saved }()

	db = openSQLite(t)
	require.NoError(t, Close())

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Error(t, sqlDB.Ping())
}

// ==================== 行锁测试 ====================

func TestForUpdate(t *testing.T) {
	t.Run("PostgreSQL 加行锁", func(t *testing.T) {
		conn := openPostgresDryRun(t)
		assert.True(t, IsPostgres(conn))

		sql := conn.ToSQL(func(tx *gorm.DB) *gorm.DB {
			return ForUpdate(tx).Where("id IN ?", []int64{1, 2}).Find(&[]ledgerRow{})
		})
		assert.Contains(t, sql, "FOR UPDATE")
	})

	t.Run("SQLite 忽略行锁", func(t *testing.T) {
		conn := openSQLite(t)
		assert.False(t, IsPostgres(conn))
		assert.False(t, IsPostgres(&gorm.DB{Config: &gorm.Config{}}))

		sql := conn.ToSQL(func(tx *gorm.DB) *gorm.DB {
			return ForUpdate(tx).Where("id = ?", 1).Find(&[]ledgerRow{})
		})
		assert.NotContains(t, sql, "FOR UPDATE")

		require.NoError(t, conn.Create(&ledgerRow{ID: 1, Name: "A"}).Error)
		err := conn.Transaction(func(tx *gorm.DB) error {
			var rows []ledgerRow
			return ForUpdate(tx).Where("id = ?", 1).Find(&rows).Error
		})
		assert.NoError(t, err)
	})
}

// ==================== 分页与排序测试 ====================

func TestPaginateNewestFirst(t *testing.T) {
	conn := openSQLite(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := int64(1); i <= 25; i++ {
		// 每两行共用一个创建时间，按主键区分先后
		created := base.Add(time.Duration((i+1)/2) * time.Hour)
		require.NoError(t, conn.Create(&ledgerRow{ID: i, Name: "row", CreatedAt: created}).Error)
	}

	page := func(p, size int) []int64 {
		var rows []ledgerRow
		require.NoError(t, conn.Scopes(OrderByCreatedDesc, Paginate(p, size)).Find(&rows).Error)
		ids := make([]int64, 0, len(rows))
		for _, r := range rows {
			ids = append(ids, r.ID)
		}
		return ids
	}

	tests := []struct {
		name       string
		page, size int
		want       []int64
	}{
		{"第一页", 1, 4, []int64{25, 24, 23, 22}},
		{"第二页", 2, 4, []int64{21, 20, 19, 18}},
		{"最后一页不足", 7, 4, []int64{1}},
		{"超出范围", 8, 4, []int64{}},
		{"页码非法取第一页", -3, 2, []int64{25, 24}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, page(tt.page, tt.size))
		})
	}

	t.Run("每页默认 10 条", func(t *testing.T) {
		assert.Len(t, page(1, 0), 10)
	})

	t.Run("每页最多 100 条", func(t *testing.T) {
		for i := int64(26); i <= 130; i++ {
			require.NoError(t, conn.Create(&ledgerRow{ID: i, Name: "row", CreatedAt: base}).Error)
		}
		assert.Len(t, page(1, 500), 100)
	})
}
