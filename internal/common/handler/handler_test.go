package handler

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dumeirei/room-rental-backend/internal/common/errors"
	"github.com/dumeirei/room-rental-backend/internal/common/jwt"
	"github.com/dumeirei/room-rental-backend/internal/common/response"
	"github.com/dumeirei/room-rental-backend/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// 辅助函数：创建测试上下文
func createTestContext() (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, w
}

// 辅助函数：创建带路径参数的测试上下文
func createTestContextWithParam(paramName, paramValue string) (*gin.Context, *httptest.ResponseRecorder) {
	c, w := createTestContext()
	c.Params = gin.Params{{Key: paramName, Value: paramValue}}
	return c, w
}

// 辅助函数：创建带查询参数的测试上下文
func createTestContextWithQuery(query string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	return c, w
}

// 辅助函数：创建已登录的测试上下文
func createAuthenticatedContext(userID int64, userType string) (*gin.Context, *httptest.ResponseRecorder) {
	c, w := createTestContext()
	c.Set(middleware.ContextKeyUserID, userID)
	c.Set(middleware.ContextKeyUserType, userType)
	return c, w
}

// 辅助函数：解析响应
func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// ============================================================================
// 错误处理测试
// ============================================================================

func TestHandleError(t *testing.T) {
	t.Run("nil 错误不处理", func(t *testing.T) {
		c, _ := createTestContext()
		assert.False(t, HandleError(c, nil))
	})

	t.Run("AppError 返回业务码", func(t *testing.T) {
		c, w := createTestContext()
		assert.True(t, HandleError(c, errors.ErrInvalidRange))

		assert.Equal(t, http.StatusOK, w.Code)
		resp := parseResponse(t, w)
		assert.Equal(t, errors.ErrInvalidRange.Code, resp.Code)
		assert.Nil(t, resp.Data)
	})

	t.Run("携带冲突详情", func(t *testing.T) {
		c, w := createTestContext()
		err := errors.ErrBookingConflict.WithData([]map[string]interface{}{{"booking_id": 7}})
		assert.True(t, HandleError(c, err))

		resp := parseResponse(t, w)
		assert.Equal(t, errors.ErrBookingConflict.Code, resp.Code)
		require.NotNil(t, resp.Data)
		list, ok := resp.Data.([]interface{})
		require.True(t, ok)
		assert.Len(t, list, 1)
	})

	t.Run("被包装的 AppError", func(t *testing.T) {
		c, w := createTestContext()
		HandleError(c, stderrors.Join(stderrors.New("ctx"), errors.ErrStateTransition))
		assert.Equal(t, errors.ErrStateTransition.Code, parseResponse(t, w).Code)
	})

	t.Run("普通错误隐藏详情", func(t *testing.T) {
		c, w := createTestContext()
		assert.True(t, HandleError(c, stderrors.New("pq: connection refused")))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		resp := parseResponse(t, w)
		assert.NotContains(t, resp.Message, "pq")
	})
}

func TestMustSucceed(t *testing.T) {
	t.Run("成功", func(t *testing.T) {
		c, w := createTestContext()
		MustSucceed(c, nil, map[string]string{"status": "confirmed"})

		resp := parseResponse(t, w)
		assert.Equal(t, 0, resp.Code)
		assert.NotNil(t, resp.Data)
	})

	t.Run("失败", func(t *testing.T) {
		c, w := createTestContext()
		MustSucceed(c, errors.ErrBookingNotFound, nil)
		assert.Equal(t, errors.ErrBookingNotFound.Code, parseResponse(t, w).Code)
	})
}

func TestMustSucceedPage(t *testing.T) {
	c, w := createTestContext()
	MustSucceedPage(c, nil, []int{1, 2}, 12, 2, 2)

	resp := parseResponse(t, w)
	assert.Equal(t, 0, resp.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(12), data["total"])
	assert.Equal(t, float64(2), data["page"])
}

// ============================================================================
// 认证检查测试
// ============================================================================

func TestRequireUserID(t *testing.T) {
	t.Run("已登录", func(t *testing.T) {
		c, _ := createAuthenticatedContext(42, jwt.UserTypeUser)
		id, ok := RequireUserID(c)
		assert.True(t, ok)
		assert.Equal(t, int64(42), id)
	})

	t.Run("未登录", func(t *testing.T) {
		c, w := createTestContext()
		id, ok := RequireUserID(c)
		assert.False(t, ok)
		assert.Equal(t, int64(0), id)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequireAdminID(t *testing.T) {
	t.Run("管理员", func(t *testing.T) {
		c, _ := createAuthenticatedContext(1, jwt.UserTypeAdmin)
		id, ok := RequireAdminID(c)
		assert.True(t, ok)
		assert.Equal(t, int64(1), id)
	})

	t.Run("普通用户被拒绝", func(t *testing.T) {
		c, w := createAuthenticatedContext(42, jwt.UserTypeUser)
		_, ok := RequireAdminID(c)
		assert.False(t, ok)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

// ============================================================================
// ID 参数解析测试
// ============================================================================

func TestParseID(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		wantOK bool
		wantID int64
	}{
		{"有效", "123", true, 123},
		{"非数字", "abc", false, 0},
		{"零", "0", false, 0},
		{"负数", "-3", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := createTestContextWithParam("id", tt.value)
			id, ok := ParseID(c, "预订")
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
			if !tt.wantOK {
				assert.Equal(t, http.StatusBadRequest, w.Code)
				assert.Contains(t, parseResponse(t, w).Message, "预订")
			}
		})
	}
}

func TestParseQueryID(t *testing.T) {
	t.Run("为空", func(t *testing.T) {
		c, _ := createTestContextWithQuery("")
		id, ok := ParseQueryID(c, "room_id", "房间")
		assert.True(t, ok)
		assert.Nil(t, id)
	})

	t.Run("有效", func(t *testing.T) {
		c, _ := createTestContextWithQuery("room_id=5")
		id, ok := ParseQueryID(c, "room_id", "房间")
		assert.True(t, ok)
		require.NotNil(t, id)
		assert.Equal(t, int64(5), *id)
	})

	t.Run("无效", func(t *testing.T) {
		c, w := createTestContextWithQuery("room_id=x")
		_, ok := ParseQueryID(c, "room_id", "房间")
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

// ============================================================================
// 日期解析测试
// ============================================================================

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-01-08")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseDate("2025/01/08")
	assert.Error(t, err)
}

func TestParseRequiredQueryDateRange(t *testing.T) {
	t.Run("有效", func(t *testing.T) {
		c, _ := createTestContextWithQuery("from_date=2025-01-08&to_date=2025-01-12")
		from, to, ok := ParseRequiredQueryDateRange(c)
		assert.True(t, ok)
		assert.Equal(t, "2025-01-08", from.Format(DateFormat))
		assert.Equal(t, "2025-01-12", to.Format(DateFormat))
	})

	t.Run("缺少结束日期", func(t *testing.T) {
		c, w := createTestContextWithQuery("from_date=2025-01-08")
		_, _, ok := ParseRequiredQueryDateRange(c)
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("格式错误", func(t *testing.T) {
		c, w := createTestContextWithQuery("from_date=08-01-2025&to_date=2025-01-12")
		_, _, ok := ParseRequiredQueryDateRange(c)
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

// ============================================================================
// 分页测试
// ============================================================================

func TestBindPagination(t *testing.T) {
	tests := []struct {
		query    string
		page     int
		pageSize int
	}{
		{"", 1, 10},
		{"page=3&page_size=20", 3, 20},
		{"page=0&page_size=500", 1, 100},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			c, _ := createTestContextWithQuery(tt.query)
			p := BindPagination(c)
			assert.Equal(t, tt.page, p.Page)
			assert.Equal(t, tt.pageSize, p.PageSize)
		})
	}
}

// ============================================================================
// 组合辅助函数测试
// ============================================================================

func TestRequireUserAndParseID(t *testing.T) {
	t.Run("成功", func(t *testing.T) {
		c, _ := createAuthenticatedContext(42, jwt.UserTypeUser)
		c.Params = gin.Params{{Key: "id", Value: "9"}}
		userID, id, ok := RequireUserAndParseID(c, "预订")
		assert.True(t, ok)
		assert.Equal(t, int64(42), userID)
		assert.Equal(t, int64(9), id)
	})

	t.Run("未登录", func(t *testing.T) {
		c, w := createTestContextWithParam("id", "9")
		_, _, ok := RequireUserAndParseID(c, "预订")
		assert.False(t, ok)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequireAdminAndParseID(t *testing.T) {
	c, _ := createAuthenticatedContext(1, jwt.UserTypeAdmin)
	c.Params = gin.Params{{Key: "id", Value: "5"}}
	adminID, id, ok := RequireAdminAndParseID(c, "房间")
	assert.True(t, ok)
	assert.Equal(t, int64(1), adminID)
	assert.Equal(t, int64(5), id)
}
