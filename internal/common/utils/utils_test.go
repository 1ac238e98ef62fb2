// Package utils 通用工具函数单元测试
package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==================== GenerateOrderNo 测试 ====================

func TestGenerateOrderNo(t *testing.T) {
	tests := []string{"BK", "PY", ""}

	for _, prefix := range tests {
		t.Run("prefix_"+prefix, func(t *testing.T) {
			orderNo := GenerateOrderNo(prefix)
			assert.True(t, strings.HasPrefix(orderNo, prefix))
			// 前缀 + 14位时间戳 + 6位随机数
			assert.Equal(t, len(prefix)+20, len(orderNo))
		})
	}
}

func TestGenerateRandomNumber(t *testing.T) {
	for _, length := range []int{4, 6, 8} {
		number := GenerateRandomNumber(length)
		assert.Equal(t, length, len(number))
		for _, c := range number {
			assert.True(t, c >= '0' && c <= '9')
		}
	}
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		email string
		want  bool
	}{
		{"guest@example.com", true},
		{"first.last+tag@mail.co.uk", true},
		{"no-at-sign", false},
		{"a@b", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateEmail(tt.email))
		})
	}
}

// ==================== 日期测试 ====================

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), d)
	assert.Equal(t, "2025-03-01", FormatDate(d))

	_, err = ParseDate("01/03/2025")
	assert.Error(t, err)
}

func TestNormalizeDate(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	in := time.Date(2025, 1, 10, 3, 30, 0, 0, loc) // 2025-01-09 19:30 UTC
	assert.Equal(t, time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC), NormalizeDate(in))
}

func TestDaysBetween(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
		want     int
	}{
		{"同一天", "2025-01-01", "2025-01-01", 0},
		{"十晚", "2025-01-01", "2025-01-11", 10},
		{"跨闰年二月", "2024-02-01", "2024-03-01", 29},
		{"倒序", "2025-01-11", "2025-01-01", -10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, _ := ParseDate(tt.from)
			to, _ := ParseDate(tt.to)
			assert.Equal(t, tt.want, DaysBetween(from, to))
		})
	}
}

func TestAddMonths(t *testing.T) {
	tests := []struct {
		in     string
		months int
		want   string
	}{
		{"2025-01-15", 1, "2025-02-15"},
		{"2025-01-31", 1, "2025-02-28"},
		{"2024-01-31", 1, "2024-02-29"},
		{"2025-01-31", 2, "2025-03-31"},
		{"2025-11-30", 3, "2026-02-28"},
		{"2025-03-01", 0, "2025-03-01"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			in, _ := ParseDate(tt.in)
			assert.Equal(t, tt.want, FormatDate(AddMonths(in, tt.months)))
		})
	}
}

func TestAddDays(t *testing.T) {
	d, _ := ParseDate("2025-03-31")
	assert.Equal(t, "2025-03-24", FormatDate(AddDays(d, -7)))
	assert.Equal(t, "2025-04-30", FormatDate(AddDays(d, 30)))
}

// ==================== 金额测试 ====================

func TestRoundMoney(t *testing.T) {
	assert.True(t, decimal.RequireFromString("266.67").Equal(RoundMoney(decimal.RequireFromString("266.665"))))
	assert.True(t, decimal.RequireFromString("266.66").Equal(RoundMoney(decimal.RequireFromString("266.664"))))
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "GBP 800.00", FormatMoney("GBP", decimal.NewFromInt(800)))
	assert.Equal(t, "GBP 12.50", FormatMoney("GBP", decimal.RequireFromString("12.5")))
}

// ==================== 指针测试 ====================

func TestSafeString(t *testing.T) {
	method := "card"
	assert.Equal(t, "", SafeString(nil))
	assert.Equal(t, "card", SafeString(&method))
}

// ==================== 泛型函数测试 ====================

func TestUnique(t *testing.T) {
	t.Run("去重保持顺序", func(t *testing.T) {
		assert.Equal(t, []int64{5, 3, 9}, Unique([]int64{5, 3, 5, 9, 3}))
	})

	t.Run("空切片", func(t *testing.T) {
		assert.Empty(t, Unique([]string{}))
	})
}

// ==================== Pagination 测试 ====================

func TestPagination_Normalize(t *testing.T) {
	tests := []struct {
		name         string
		page         int
		pageSize     int
		expectedPage int
		expectedSize int
	}{
		{"Normal", 2, 20, 2, 20},
		{"Page too small", 0, 20, 1, 20},
		{"PageSize too small", 1, 0, 1, 10},
		{"PageSize too large", 1, 200, 1, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Pagination{Page: tt.page, PageSize: tt.pageSize}
			p.Normalize()
			assert.Equal(t, tt.expectedPage, p.Page)
			assert.Equal(t, tt.expectedSize, p.PageSize)
		})
	}
}
