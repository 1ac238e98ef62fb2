// Package handler 提供 API Handler 的通用辅助函数
// 用于减少 Handler 层的代码重复，统一错误处理、认证检查、参数解析等操作
package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dumeirei/room-rental-backend/internal/common/errors"
	"github.com/dumeirei/room-rental-backend/internal/common/response"
	"github.com/dumeirei/room-rental-backend/internal/common/utils"
	"github.com/dumeirei/room-rental-backend/internal/middleware"
)

// ============================================================================
// 统一错误处理
// ============================================================================

// HandleError 处理错误并发送适当的响应
// 如果 err 为 nil，返回 false（表示无错误需要处理）
// 如果 err 不为 nil，发送错误响应并返回 true（调用方应该 return）
// AppError 携带的 Data（如冲突预订列表）会一并返回
//
// 使用示例:
//
//	result, err := service.DoSomething()
//	if HandleError(c, err) {
//	    return
//	}
func HandleError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}
	if appErr := errors.GetAppError(err); appErr != nil {
		if appErr.Data != nil {
			response.ErrorWithData(c, appErr.Code, appErr.Message, appErr.Data)
		} else {
			response.Error(c, appErr.Code, appErr.Message)
		}
		return true
	}
	response.InternalError(c, "服务器内部错误")
	return true
}

// MustSucceed 便捷封装：如果有错误则返回错误响应，否则返回成功响应
//
// 使用示例:
//
//	result, err := service.GetData()
//	MustSucceed(c, err, result)
//	return  // 注意：调用 MustSucceed 后必须 return
func MustSucceed(c *gin.Context, err error, data interface{}) {
	if HandleError(c, err) {
		return
	}
	response.Success(c, data)
}

// MustSucceedPage 便捷封装：分页响应版本
func MustSucceedPage(c *gin.Context, err error, list interface{}, total int64, page, pageSize int) {
	if HandleError(c, err) {
		return
	}
	response.SuccessPage(c, list, total, page, pageSize)
}

// ============================================================================
// 用户认证检查
// ============================================================================

// RequireUserID 获取当前用户ID，如果未登录则返回401响应
// 返回 (0, false) 表示未登录（已发送响应，调用方应该 return）
func RequireUserID(c *gin.Context) (int64, bool) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		response.Abort(c, http.StatusUnauthorized, errors.ErrUnauthorized)
		return 0, false
	}
	return userID, true
}

// RequireAdminID 获取当前管理员ID，非管理员返回401响应
func RequireAdminID(c *gin.Context) (int64, bool) {
	adminID := middleware.GetAdminID(c)
	if adminID == 0 {
		response.Abort(c, http.StatusUnauthorized, errors.ErrUnauthorized)
		return 0, false
	}
	return adminID, true
}

// ============================================================================
// ID 参数解析
// ============================================================================

// ParseID 解析路径参数 "id" 为 int64
// 返回 (0, false) 表示解析失败（已发送400响应，调用方应该 return）
//
// 使用示例:
//
//	id, ok := handler.ParseID(c, "预订")
//	if !ok {
//	    return
//	}
func ParseID(c *gin.Context, resourceName string) (int64, bool) {
	return ParseParamID(c, "id", resourceName)
}

// ParseParamID 解析指定路径参数为 int64
func ParseParamID(c *gin.Context, paramName, resourceName string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(paramName), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "无效的"+resourceName+"ID")
		return 0, false
	}
	return id, true
}

// ParseQueryID 解析查询参数中的可选 ID
// 参数为空返回 (nil, true)，解析失败返回 (nil, false)（已发送400响应）
func ParseQueryID(c *gin.Context, paramName, resourceName string) (*int64, bool) {
	idStr := c.Query(paramName)
	if idStr == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		response.BadRequest(c, "无效的"+resourceName+"ID")
		return nil, false
	}
	return &id, true
}

// ============================================================================
// 日期解析
// ============================================================================

// DateFormat 日期格式
const DateFormat = utils.DateFormat

// ParseDate 解析日期字符串 (YYYY-MM-DD)，结果为 UTC 零点
func ParseDate(s string) (time.Time, error) {
	return utils.ParseDate(s)
}

// ParseRequiredQueryDate 从查询参数解析必填日期
func ParseRequiredQueryDate(c *gin.Context, paramName string) (time.Time, bool) {
	s := c.Query(paramName)
	if s == "" {
		response.BadRequest(c, "请指定"+paramName)
		return time.Time{}, false
	}
	t, err := ParseDate(s)
	if err != nil {
		response.BadRequest(c, "无效的日期格式: "+paramName)
		return time.Time{}, false
	}
	return t, true
}

// ParseRequiredQueryDateRange 从查询参数解析必填的入住区间（from_date, to_date）
// 返回 (zero, zero, false) 如果任一参数为空或解析失败（已发送400响应）
func ParseRequiredQueryDateRange(c *gin.Context) (time.Time, time.Time, bool) {
	from, ok := ParseRequiredQueryDate(c, "from_date")
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	to, ok := ParseRequiredQueryDate(c, "to_date")
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

// ============================================================================
// 分页处理
// ============================================================================

// BindPagination 从查询参数绑定并规范化分页参数
// 默认 page=1, pageSize=10, 最大 pageSize=100
func BindPagination(c *gin.Context) utils.Pagination {
	var p utils.Pagination
	p.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	p.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "10"))
	p.Normalize()
	return p
}

// ============================================================================
// 组合辅助函数
// ============================================================================

// RequireUserAndParseID 组合：检查用户登录 + 解析ID参数
//
// 使用示例:
//
//	userID, bookingID, ok := handler.RequireUserAndParseID(c, "预订")
//	if !ok {
//	    return
//	}
func RequireUserAndParseID(c *gin.Context, resourceName string) (userID, resourceID int64, ok bool) {
	userID, ok = RequireUserID(c)
	if !ok {
		return 0, 0, false
	}
	resourceID, ok = ParseID(c, resourceName)
	if !ok {
		return 0, 0, false
	}
	return userID, resourceID, true
}

// RequireAdminAndParseID 组合：检查管理员登录 + 解析ID参数
func RequireAdminAndParseID(c *gin.Context, resourceName string) (adminID, resourceID int64, ok bool) {
	adminID, ok = RequireAdminID(c)
	if !ok {
		return 0, 0, false
	}
	resourceID, ok = ParseID(c, resourceName)
	if !ok {
		return 0, 0, false
	}
	return adminID, resourceID, true
}
