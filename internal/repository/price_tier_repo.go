package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dumeirei/room-rental-backend/internal/models"
)

// PriceTierRepository 价格档位仓储
type PriceTierRepository struct {
	db *gorm.DB
}

// NewPriceTierRepository 创建价格档位仓储
func NewPriceTierRepository(db *gorm.DB) *PriceTierRepository {
	return &PriceTierRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *PriceTierRepository) WithTx(tx *gorm.DB) *PriceTierRepository {
	return &PriceTierRepository{db: tx}
}

// Upsert 按 (room_id, unit) 新增或覆盖档位
func (r *PriceTierRepository) Upsert(ctx context.Context, tier *models.RoomPriceTier) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "unit"}},
		DoUpdates: clause.AssignmentColumns([]string{"fixed_price", "discount_price", "booking_price", "updated_at"}),
	}).Create(tier).Error
}

// GetByRoomAndUnit 获取房间指定单位的档位
func (r *PriceTierRepository) GetByRoomAndUnit(ctx context.Context, roomID int64, unit models.PriceUnit) (*models.RoomPriceTier, error) {
	var tier models.RoomPriceTier
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND unit = ?", roomID, unit).
		First(&tier).Error
	if err != nil {
		return nil, err
	}
	return &tier, nil
}

// ListByRoom 获取房间全部档位
func (r *PriceTierRepository) ListByRoom(ctx context.Context, roomID int64) ([]models.RoomPriceTier, error) {
	var tiers []models.RoomPriceTier
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("id ASC").
		Find(&tiers).Error
	return tiers, err
}

// ListByRooms 批量获取档位，按房间分组
func (r *PriceTierRepository) ListByRooms(ctx context.Context, roomIDs []int64) (map[int64][]models.RoomPriceTier, error) {
	var tiers []models.RoomPriceTier
	if err := r.db.WithContext(ctx).
		Where("room_id IN ?", roomIDs).
		Order("room_id ASC, id ASC").
		Find(&tiers).Error; err != nil {
		return nil, err
	}

	result := make(map[int64][]models.RoomPriceTier, len(roomIDs))
	for _, t := range tiers {
		result[t.RoomID] = append(result[t.RoomID], t)
	}
	return result, nil
}

// Delete 删除档位
func (r *PriceTierRepository) Delete(ctx context.Context, roomID int64, unit models.PriceUnit) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("room_id = ? AND unit = ?", roomID, unit).
		Delete(&models.RoomPriceTier{})
	return result.RowsAffected, result.Error
}
