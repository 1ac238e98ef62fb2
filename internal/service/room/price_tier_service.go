// Package room 提供房间价格档位管理与报价
package room

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/room-rental-backend/internal/common/errors"
	"github.com/dumeirei/room-rental-backend/internal/common/logger"
	"github.com/dumeirei/room-rental-backend/internal/common/utils"
	"github.com/dumeirei/room-rental-backend/internal/models"
	"github.com/dumeirei/room-rental-backend/internal/repository"
	"github.com/dumeirei/room-rental-backend/internal/service/pricing"
)

// PriceTierService 价格档位服务
type PriceTierService struct {
	roomRepo *repository.RoomRepository
	tierRepo *repository.PriceTierRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewPriceTierService 创建价格档位服务
func NewPriceTierService(roomRepo *repository.RoomRepository, tierRepo *repository.PriceTierRepository, log *zap.Logger) *PriceTierService {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(logger.Module("room"))
	return &PriceTierService{roomRepo: roomRepo, tierRepo: tierRepo, logger: log, now: time.Now}
}

// UpsertTierRequest 设置档位请求
type UpsertTierRequest struct {
	Unit          models.PriceUnit `json:"unit" binding:"required"`
	FixedPrice    decimal.Decimal  `json:"fixed_price"`
	DiscountPrice *decimal.Decimal `json:"discount_price"`
	BookingPrice  decimal.Decimal  `json:"booking_price"`
}

// UpsertTier 新增或覆盖房间某个单位的档位，每个 (房间, 单位) 至多一档
func (s *PriceTierService) UpsertTier(ctx context.Context, roomID int64, req *UpsertTierRequest) (*models.RoomPriceTier, error) {
	if !req.Unit.Valid() {
		return nil, errors.ErrPriceTierInvalid.WithMessage("计价单位必须为 day、week 或 month")
	}
	if !req.FixedPrice.IsPositive() {
		return nil, errors.ErrPriceTierInvalid.WithMessage("原价必须大于 0")
	}
	if req.DiscountPrice != nil && (req.DiscountPrice.IsNegative() || req.DiscountPrice.GreaterThan(req.FixedPrice)) {
		return nil, errors.ErrPriceTierInvalid.WithMessage("折扣价必须介于 0 与原价之间")
	}
	if req.BookingPrice.IsNegative() {
		return nil, errors.ErrPriceTierInvalid.WithMessage("定金不能为负")
	}

	if err := s.ensureRoom(ctx, roomID); err != nil {
		return nil, err
	}

	tier := &models.RoomPriceTier{
		RoomID:       roomID,
		Unit:         req.Unit,
		FixedPrice:   utils.RoundMoney(req.FixedPrice),
		BookingPrice: utils.RoundMoney(req.BookingPrice),
	}
	if req.DiscountPrice != nil {
		d := utils.RoundMoney(*req.DiscountPrice)
		tier.DiscountPrice = &d
	}
	if err := s.tierRepo.Upsert(ctx, tier); err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	s.logger.Info("价格档位已更新", logger.RoomID(roomID), zap.String("unit", string(req.Unit)))
	return s.tierRepo.GetByRoomAndUnit(ctx, roomID, req.Unit)
}

// ListTiers 房间的全部档位
func (s *PriceTierService) ListTiers(ctx context.Context, roomID int64) ([]models.RoomPriceTier, error) {
	if err := s.ensureRoom(ctx, roomID); err != nil {
		return nil, err
	}
	tiers, err := s.tierRepo.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return tiers, nil
}

// DeleteTier 删除档位
func (s *PriceTierService) DeleteTier(ctx context.Context, roomID int64, unit models.PriceUnit) error {
	rows, err := s.tierRepo.Delete(ctx, roomID, unit)
	if err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}
	if rows == 0 {
		return errors.ErrNotFound.WithMessage("价格档位不存在")
	}
	return nil
}

// Quote 按房间当前档位报价，不占用房间
func (s *PriceTierService) Quote(ctx context.Context, roomIDs []int64, from, to time.Time) (*pricing.Quote, error) {
	roomIDs = utils.Unique(roomIDs)
	if len(roomIDs) == 0 {
		return nil, errors.ErrRoomsRequired
	}
	if utils.NormalizeDate(from).Before(utils.NormalizeDate(s.now())) {
		return nil, errors.ErrInvalidRange.WithMessage("入住日期不能早于今天")
	}

	rooms, err := s.roomRepo.ListByIDs(ctx, roomIDs)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if len(rooms) != len(roomIDs) {
		return nil, errors.ErrRoomNotFound
	}

	tiers, err := s.tierRepo.ListByRooms(ctx, roomIDs)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return pricing.ComputeQuote(tiers, roomIDs, from, to)
}

func (s *PriceTierService) ensureRoom(ctx context.Context, roomID int64) error {
	_, err := s.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrRoomNotFound
		}
		return errors.ErrDatabaseError.WithError(err)
	}
	return nil
}
