// Package room 提供房间可用性查询的 HTTP Handler
package room

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dumeirei/room-rental-backend/internal/common/handler"
	"github.com/dumeirei/room-rental-backend/internal/common/response"
	"github.com/dumeirei/room-rental-backend/internal/service/availability"
)

const defaultCalendarDays = 30

// RoomHandler 房间处理器
type RoomHandler struct {
	checker *availability.Checker
}

// NewRoomHandler 创建房间处理器
func NewRoomHandler(checker *availability.Checker) *RoomHandler {
	return &RoomHandler{checker: checker}
}

// Availability 查询房间在区间内是否可用
// @Summary 查询房间可用性
// @Tags 房间
// @Produce json
// @Security Bearer
// @Param id path int true "房间ID"
// @Param from_date query string true "入住日期 YYYY-MM-DD"
// @Param to_date query string true "退房日期 YYYY-MM-DD"
// @Success 200 {object} response.Response{data=availability.Result}
// @Router /api/v1/rooms/{id}/availability [get]
func (h *RoomHandler) Availability(c *gin.Context) {
	roomID, ok := handler.ParseID(c, "房间")
	if !ok {
		return
	}
	from, to, ok := handler.ParseRequiredQueryDateRange(c)
	if !ok {
		return
	}

	result, err := h.checker.Check(c.Request.Context(), []int64{roomID}, from, to, nil)
	handler.MustSucceed(c, err, result)
}

// Calendar 房间可用日历
// @Summary 房间可用日历
// @Tags 房间
// @Produce json
// @Security Bearer
// @Param id path int true "房间ID"
// @Param start_date query string true "起始日期 YYYY-MM-DD"
// @Param days query int false "天数，默认 30"
// @Success 200 {object} response.Response{data=availability.Calendar}
// @Router /api/v1/rooms/{id}/calendar [get]
func (h *RoomHandler) Calendar(c *gin.Context) {
	roomID, ok := handler.ParseID(c, "房间")
	if !ok {
		return
	}
	start, ok := handler.ParseRequiredQueryDate(c, "start_date")
	if !ok {
		return
	}
	days, err := strconv.Atoi(c.DefaultQuery("days", strconv.Itoa(defaultCalendarDays)))
	if err != nil {
		response.BadRequest(c, "无效的天数")
		return
	}

	calendar, err := h.checker.Calendar(c.Request.Context(), roomID, start, days)
	handler.MustSucceed(c, err, calendar)
}

// RegisterRoutes 注册路由
func (h *RoomHandler) RegisterRoutes(r *gin.RouterGroup) {
	rooms := r.Group("/rooms")
	{
		rooms.GET("/:id/availability", h.Availability)
		rooms.GET("/:id/calendar", h.Calendar)
	}
}
