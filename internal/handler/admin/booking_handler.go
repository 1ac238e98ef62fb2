// Package admin 提供管理端 HTTP Handler
package admin

import (
	"github.com/gin-gonic/gin"

	"github.com/dumeirei/room-rental-backend/internal/common/handler"
	"github.com/dumeirei/room-rental-backend/internal/common/response"
	"github.com/dumeirei/room-rental-backend/internal/service/availability"
	bookingService "github.com/dumeirei/room-rental-backend/internal/service/booking"
)

// BookingHandler 预订管理处理器
type BookingHandler struct {
	bookingService *bookingService.BookingService
	checker        *availability.Checker
}

// NewBookingHandler 创建预订管理处理器
func NewBookingHandler(bookingSvc *bookingService.BookingService, checker *availability.Checker) *BookingHandler {
	return &BookingHandler{
		bookingService: bookingSvc,
		checker:        checker,
	}
}

// RejectRequest 拒绝请求
type RejectRequest struct {
	Reason string `json:"reason" binding:"required,max=255"`
}

// ListBookings 预订列表
// @Summary 预订列表
// @Tags 管理端-预订
// @Produce json
// @Security Bearer
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Param status query string false "状态"
// @Param booking_no query string false "预订号"
// @Param room_id query int false "房间ID"
// @Param from_date query string false "入住日期起"
// @Param to_date query string false "入住日期止"
// @Success 200 {object} response.Response{data=response.PageData{list=[]booking.BookingView}}
// @Router /api/admin/bookings [get]
func (h *BookingHandler) ListBookings(c *gin.Context) {
	adminID, ok := handler.RequireAdminID(c)
	if !ok {
		return
	}

	roomID, ok := handler.ParseQueryID(c, "room_id", "房间")
	if !ok {
		return
	}
	filter := bookingService.ListFilter{
		RoomID:    roomID,
		Status:    c.Query("status"),
		BookingNo: c.Query("booking_no"),
	}
	if s := c.Query("from_date"); s != "" {
		from, err := handler.ParseDate(s)
		if err != nil {
			response.BadRequest(c, "无效的日期格式: from_date")
			return
		}
		filter.FromDate = &from
	}
	if s := c.Query("to_date"); s != "" {
		to, err := handler.ParseDate(s)
		if err != nil {
			response.BadRequest(c, "无效的日期格式: to_date")
			return
		}
		filter.ToDate = &to
	}

	p := handler.BindPagination(c)
	list, total, err := h.bookingService.ListBookings(c.Request.Context(),
		bookingService.Actor{UserID: adminID, IsAdmin: true}, filter, p.Page, p.PageSize)
	handler.MustSucceedPage(c, err, list, total, p.Page, p.PageSize)
}

// GetBooking 预订详情
// @Summary 预订详情
// @Tags 管理端-预订
// @Produce json
// @Security Bearer
// @Param id path int true "预订ID"
// @Success 200 {object} response.Response{data=booking.BookingDetail}
// @Router /api/admin/bookings/{id} [get]
func (h *BookingHandler) GetBooking(c *gin.Context) {
	adminID, bookingID, ok := handler.RequireAdminAndParseID(c, "预订")
	if !ok {
		return
	}

	detail, err := h.bookingService.GetBooking(c.Request.Context(),
		bookingService.Actor{UserID: adminID, IsAdmin: true}, bookingID)
	handler.MustSucceed(c, err, detail)
}

// RejectBooking 拒绝预订
// @Summary 拒绝预订
// @Tags 管理端-预订
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path int true "预订ID"
// @Param request body RejectRequest true "拒绝原因"
// @Success 200 {object} response.Response{data=models.Booking}
// @Router /api/admin/bookings/{id}/reject [post]
func (h *BookingHandler) RejectBooking(c *gin.Context) {
	adminID, bookingID, ok := handler.RequireAdminAndParseID(c, "预订")
	if !ok {
		return
	}

	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请填写拒绝原因")
		return
	}

	booking, err := h.bookingService.RejectBooking(c.Request.Context(),
		bookingService.Actor{UserID: adminID, IsAdmin: true}, bookingID, req.Reason)
	handler.MustSucceed(c, err, booking)
}

// RoomConflicts 房间在区间内的冲突预订
// @Summary 房间冲突预订
// @Tags 管理端-预订
// @Produce json
// @Security Bearer
// @Param id path int true "房间ID"
// @Param from_date query string true "入住日期 YYYY-MM-DD"
// @Param to_date query string true "退房日期 YYYY-MM-DD"
// @Success 200 {object} response.Response{data=[]availability.BookingSummary}
// @Router /api/admin/rooms/{id}/conflicts [get]
func (h *BookingHandler) RoomConflicts(c *gin.Context) {
	_, roomID, ok := handler.RequireAdminAndParseID(c, "房间")
	if !ok {
		return
	}
	from, to, ok := handler.ParseRequiredQueryDateRange(c)
	if !ok {
		return
	}

	conflicts, err := h.checker.ConflictingBookings(c.Request.Context(), roomID, from, to)
	handler.MustSucceed(c, err, conflicts)
}

// RegisterRoutes 注册路由
func (h *BookingHandler) RegisterRoutes(r *gin.RouterGroup) {
	bookings := r.Group("/bookings")
	{
		bookings.GET("", h.ListBookings)
		bookings.GET("/:id", h.GetBooking)
		bookings.POST("/:id/reject", h.RejectBooking)
	}
	r.GET("/rooms/:id/conflicts", h.RoomConflicts)
}
