// Package payment 提供支付网关回调的 HTTP Handler
package payment

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dumeirei/room-rental-backend/internal/common/errors"
	"github.com/dumeirei/room-rental-backend/internal/common/handler"
	"github.com/dumeirei/room-rental-backend/internal/common/response"
	paymentService "github.com/dumeirei/room-rental-backend/internal/service/payment"
	"github.com/dumeirei/room-rental-backend/pkg/gateway"
)

// 回调请求体上限
const maxCallbackBody = 64 << 10

// Handler 支付处理器
type Handler struct {
	paymentService *paymentService.PaymentService
	verifier       *gateway.Verifier
	logger         *zap.Logger
}

// NewHandler 创建支付处理器
func NewHandler(paymentSvc *paymentService.PaymentService, verifier *gateway.Verifier, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		paymentService: paymentSvc,
		verifier:       verifier,
		logger:         log,
	}
}

// GatewayCallback 支付网关回调
// 验签失败返回 401，数据库或锁冲突返回 503 让网关重试，业务错误返回 200 与错误码
// @Summary 支付网关回调
// @Tags 支付
// @Accept json
// @Produce json
// @Param X-Gateway-Signature header string true "HMAC-SHA256 签名"
// @Param X-Gateway-Timestamp header string true "Unix 时间戳（秒）"
// @Param request body gateway.Event true "回调数据"
// @Success 200 {object} response.Response{data=paymentService.ReconciliationResult}
// @Router /api/v1/payment/callback [post]
func (h *Handler) GatewayCallback(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		response.BadRequest(c, "读取请求体失败")
		return
	}

	sig := c.GetHeader(gateway.HeaderSignature)
	ts := c.GetHeader(gateway.HeaderTimestamp)
	if err := h.verifier.Verify(sig, ts, body); err != nil {
		h.logger.Warn("支付回调验签失败", zap.String("client_ip", c.ClientIP()), zap.Error(err))
		c.JSON(http.StatusUnauthorized, response.Response{
			Code:    errors.ErrSignatureInvalid.Code,
			Message: errors.ErrSignatureInvalid.Message,
		})
		return
	}

	event, err := gateway.ParseEvent(body)
	if err != nil {
		response.BadRequest(c, "回调数据格式错误")
		return
	}

	result, err := h.paymentService.HandleGatewayCallback(c.Request.Context(), event)
	if retryable(err) {
		h.logger.Error("支付回调处理失败",
			zap.String("transaction_ref", event.TransactionRef),
			zap.Int64("milestone_id", event.MilestoneID),
			zap.Error(err),
		)
		c.JSON(http.StatusServiceUnavailable, response.Response{
			Code:    errors.ErrOperationFailed.Code,
			Message: "暂时无法处理，请稍后重试",
		})
		return
	}
	handler.MustSucceed(c, err, result)
}

// ListAttempts 付款节点的支付记录（管理端）
// @Summary 付款节点支付记录
// @Tags 管理端-支付
// @Produce json
// @Security Bearer
// @Param id path int true "付款节点ID"
// @Success 200 {object} response.Response{data=[]models.Payment}
// @Router /api/admin/milestones/{id}/payments [get]
func (h *Handler) ListAttempts(c *gin.Context) {
	_, milestoneID, ok := handler.RequireAdminAndParseID(c, "付款节点")
	if !ok {
		return
	}

	payments, err := h.paymentService.ListAttempts(c.Request.Context(), milestoneID)
	handler.MustSucceed(c, err, payments)
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	if !errors.IsAppError(err) {
		return true
	}
	return errors.Is(err, errors.ErrDatabaseError) || errors.Is(err, errors.ErrOperationFailed)
}

// RegisterCallbackRoutes 注册回调路由（无需认证，依靠签名）
func (h *Handler) RegisterCallbackRoutes(r *gin.RouterGroup) {
	r.POST("/payment/callback", h.GatewayCallback)
}

// RegisterAdminRoutes 注册管理端路由
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/milestones/:id/payments", h.ListAttempts)
}
