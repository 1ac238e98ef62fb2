// Package booking 提供租客预订相关的 HTTP Handler
package booking

import (
	"github.com/gin-gonic/gin"

	"github.com/dumeirei/room-rental-backend/internal/common/handler"
	"github.com/dumeirei/room-rental-backend/internal/common/response"
	"github.com/dumeirei/room-rental-backend/internal/middleware"
	bookingService "github.com/dumeirei/room-rental-backend/internal/service/booking"
	roomService "github.com/dumeirei/room-rental-backend/internal/service/room"
)

// BookingHandler 预订处理器
type BookingHandler struct {
	bookingService *bookingService.BookingService
	tierService    *roomService.PriceTierService
}

// NewBookingHandler 创建预订处理器
func NewBookingHandler(bookingSvc *bookingService.BookingService, tierSvc *roomService.PriceTierService) *BookingHandler {
	return &BookingHandler{
		bookingService: bookingSvc,
		tierService:    tierSvc,
	}
}

// QuoteRequest 报价请求
type QuoteRequest struct {
	RoomIDs  []int64 `json:"room_ids" binding:"required,min=1"`
	FromDate string  `json:"from_date" binding:"required"`
	ToDate   string  `json:"to_date" binding:"required"`
}

// CreateBookingRequest 创建预订请求
type CreateBookingRequest struct {
	RoomIDs       []int64 `json:"room_ids" binding:"required,min=1"`
	FromDate      string  `json:"from_date" binding:"required"`
	ToDate        string  `json:"to_date" binding:"required"`
	PaymentOption string  `json:"payment_option"`
	AutoRenewal   bool    `json:"auto_renewal"`
}

// CancelRequest 取消请求
type CancelRequest struct {
	Reason string `json:"reason"`
}

// AutoRenewalRequest 自动续租开关请求
type AutoRenewalRequest struct {
	Enable *bool `json:"enable" binding:"required"`
}

// VerifyRequest 核验请求
type VerifyRequest struct {
	Token string `json:"token" binding:"required"`
}

func actor(c *gin.Context, userID int64) bookingService.Actor {
	return bookingService.Actor{UserID: userID, IsAdmin: middleware.IsAdmin(c)}
}

// Quote 预订报价
// @Summary 预订报价
// @Tags 预订
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body QuoteRequest true "请求参数"
// @Success 200 {object} response.Response{data=pricing.Quote}
// @Router /api/v1/bookings/quote [post]
func (h *BookingHandler) Quote(c *gin.Context) {
	if _, ok := handler.RequireUserID(c); !ok {
		return
	}

	var req QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}
	from, err := handler.ParseDate(req.FromDate)
	if err != nil {
		response.BadRequest(c, "入住日期格式错误")
		return
	}
	to, err := handler.ParseDate(req.ToDate)
	if err != nil {
		response.BadRequest(c, "退房日期格式错误")
		return
	}

	quote, err := h.tierService.Quote(c.Request.Context(), req.RoomIDs, from, to)
	handler.MustSucceed(c, err, quote)
}

// CreateBooking 创建预订
// @Summary 创建预订
// @Tags 预订
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body CreateBookingRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.Booking}
// @Router /api/v1/bookings [post]
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}
	from, err := handler.ParseDate(req.FromDate)
	if err != nil {
		response.BadRequest(c, "入住日期格式错误")
		return
	}
	to, err := handler.ParseDate(req.ToDate)
	if err != nil {
		response.BadRequest(c, "退房日期格式错误")
		return
	}

	booking, err := h.bookingService.CreateBooking(c.Request.Context(), actor(c, userID), &bookingService.CreateBookingRequest{
		RoomIDs:       req.RoomIDs,
		FromDate:      from,
		ToDate:        to,
		PaymentOption: req.PaymentOption,
		AutoRenewal:   req.AutoRenewal,
	})
	handler.MustSucceed(c, err, booking)
}

// ListBookings 我的预订列表
// @Summary 我的预订列表
// @Tags 预订
// @Produce json
// @Security Bearer
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Param status query string false "状态"
// @Success 200 {object} response.Response{data=response.PageData{list=[]booking.BookingView}}
// @Router /api/v1/bookings [get]
func (h *BookingHandler) ListBookings(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	p := handler.BindPagination(c)
	filter := bookingService.ListFilter{Status: c.Query("status")}

	// 租客接口只返回本人预订，管理员走管理端列表
	list, total, err := h.bookingService.ListBookings(c.Request.Context(),
		bookingService.Actor{UserID: userID}, filter, p.Page, p.PageSize)
	handler.MustSucceedPage(c, err, list, total, p.Page, p.PageSize)
}

// GetBooking 预订详情
// @Summary 预订详情
// @Tags 预订
// @Produce json
// @Security Bearer
// @Param id path int true "预订ID"
// @Success 200 {object} response.Response{data=booking.BookingDetail}
// @Router /api/v1/bookings/{id} [get]
func (h *BookingHandler) GetBooking(c *gin.Context) {
	userID, bookingID, ok := handler.RequireUserAndParseID(c, "预订")
	if !ok {
		return
	}

	detail, err := h.bookingService.GetBooking(c.Request.Context(), actor(c, userID), bookingID)
	handler.MustSucceed(c, err, detail)
}

// GetMilestones 付款时间线
// @Summary 付款时间线
// @Tags 预订
// @Produce json
// @Security Bearer
// @Param id path int true "预订ID"
// @Success 200 {object} response.Response{data=[]booking.MilestoneView}
// @Router /api/v1/bookings/{id}/milestones [get]
func (h *BookingHandler) GetMilestones(c *gin.Context) {
	userID, bookingID, ok := handler.RequireUserAndParseID(c, "预订")
	if !ok {
		return
	}

	timeline, err := h.bookingService.GetMilestoneTimeline(c.Request.Context(), actor(c, userID), bookingID)
	handler.MustSucceed(c, err, timeline)
}

// CancelBooking 取消预订
// @Summary 取消预订
// @Tags 预订
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path int true "预订ID"
// @Param request body CancelRequest false "取消原因"
// @Success 200 {object} response.Response{data=models.Booking}
// @Router /api/v1/bookings/{id}/cancel [post]
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	userID, bookingID, ok := handler.RequireUserAndParseID(c, "预订")
	if !ok {
		return
	}

	var req CancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "参数错误")
			return
		}
	}

	booking, err := h.bookingService.CancelBooking(c.Request.Context(), actor(c, userID), bookingID, req.Reason)
	handler.MustSucceed(c, err, booking)
}

// ToggleAutoRenewal 开关自动续租
// @Summary 开关自动续租
// @Tags 预订
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path int true "预订ID"
// @Param request body AutoRenewalRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.Booking}
// @Router /api/v1/bookings/{id}/auto-renewal [post]
func (h *BookingHandler) ToggleAutoRenewal(c *gin.Context) {
	userID, bookingID, ok := handler.RequireUserAndParseID(c, "预订")
	if !ok {
		return
	}

	var req AutoRenewalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	booking, err := h.bookingService.ToggleAutoRenewal(c.Request.Context(), actor(c, userID), bookingID, *req.Enable)
	handler.MustSucceed(c, err, booking)
}

// VerifyBooking 核验预订，令牌可来自邮件链接的查询参数或请求体
// @Summary 核验预订
// @Tags 预订
// @Accept json
// @Produce json
// @Param token query string false "核验令牌"
// @Param request body VerifyRequest false "请求参数"
// @Success 200 {object} response.Response{data=models.Booking}
// @Router /api/v1/bookings/verify [get]
// @Router /api/v1/bookings/verify [post]
func (h *BookingHandler) VerifyBooking(c *gin.Context) {
	req := VerifyRequest{Token: c.Query("token")}
	if req.Token == "" {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "参数错误")
			return
		}
	}

	booking, err := h.bookingService.VerifyBooking(c.Request.Context(), req.Token)
	handler.MustSucceed(c, err, booking)
}

// RegisterRoutes 注册需要登录的路由
func (h *BookingHandler) RegisterRoutes(r *gin.RouterGroup) {
	bookings := r.Group("/bookings")
	{
		bookings.POST("/quote", h.Quote)
		bookings.POST("", h.CreateBooking)
		bookings.GET("", h.ListBookings)
		bookings.GET("/:id", h.GetBooking)
		bookings.GET("/:id/milestones", h.GetMilestones)
		bookings.POST("/:id/cancel", h.CancelBooking)
		bookings.POST("/:id/auto-renewal", h.ToggleAutoRenewal)
	}
}

// RegisterPublicRoutes 注册无需登录的路由（邮件中的核验链接）
func (h *BookingHandler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.GET("/bookings/verify", h.VerifyBooking)
	r.POST("/bookings/verify", h.VerifyBooking)
}
