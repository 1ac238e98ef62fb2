package admin

import (
	"github.com/gin-gonic/gin"

	"github.com/dumeirei/room-rental-backend/internal/common/handler"
	"github.com/dumeirei/room-rental-backend/internal/common/response"
	"github.com/dumeirei/room-rental-backend/internal/models"
	roomService "github.com/dumeirei/room-rental-backend/internal/service/room"
)

// PriceTierHandler 价格档位管理处理器
type PriceTierHandler struct {
	tierService *roomService.PriceTierService
}

// NewPriceTierHandler 创建价格档位管理处理器
func NewPriceTierHandler(tierSvc *roomService.PriceTierService) *PriceTierHandler {
	return &PriceTierHandler{tierService: tierSvc}
}

// ListTiers 房间价格档位
// @Summary 房间价格档位
// @Tags 管理端-价格
// @Produce json
// @Security Bearer
// @Param id path int true "房间ID"
// @Success 200 {object} response.Response{data=[]models.RoomPriceTier}
// @Router /api/admin/rooms/{id}/price-tiers [get]
func (h *PriceTierHandler) ListTiers(c *gin.Context) {
	_, roomID, ok := handler.RequireAdminAndParseID(c, "房间")
	if !ok {
		return
	}

	tiers, err := h.tierService.ListTiers(c.Request.Context(), roomID)
	handler.MustSucceed(c, err, tiers)
}

// UpsertTier 设置价格档位
// @Summary 设置价格档位
// @Tags 管理端-价格
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path int true "房间ID"
// @Param request body roomService.UpsertTierRequest true "档位"
// @Success 200 {object} response.Response{data=models.RoomPriceTier}
// @Router /api/admin/rooms/{id}/price-tiers [put]
func (h *PriceTierHandler) UpsertTier(c *gin.Context) {
	_, roomID, ok := handler.RequireAdminAndParseID(c, "房间")
	if !ok {
		return
	}

	var req roomService.UpsertTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	tier, err := h.tierService.UpsertTier(c.Request.Context(), roomID, &req)
	handler.MustSucceed(c, err, tier)
}

// DeleteTier 删除价格档位
// @Summary 删除价格档位
// @Tags 管理端-价格
// @Produce json
// @Security Bearer
// @Param id path int true "房间ID"
// @Param unit path string true "计价单位 day/week/month"
// @Success 200 {object} response.Response
// @Router /api/admin/rooms/{id}/price-tiers/{unit} [delete]
func (h *PriceTierHandler) DeleteTier(c *gin.Context) {
	_, roomID, ok := handler.RequireAdminAndParseID(c, "房间")
	if !ok {
		return
	}

	err := h.tierService.DeleteTier(c.Request.Context(), roomID, models.PriceUnit(c.Param("unit")))
	handler.MustSucceed(c, err, nil)
}

// RegisterRoutes 注册路由
func (h *PriceTierHandler) RegisterRoutes(r *gin.RouterGroup) {
	tiers := r.Group("/rooms/:id/price-tiers")
	{
		tiers.GET("", h.ListTiers)
		tiers.PUT("", h.UpsertTier)
		tiers.DELETE("/:unit", h.DeleteTier)
	}
}
