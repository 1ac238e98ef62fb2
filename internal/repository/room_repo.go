// Package repository 提供数据访问层
package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dumeirei/room-rental-backend/internal/common/database"
	"github.com/dumeirei/room-rental-backend/internal/models"
)

// RoomRepository 房间仓储
type RoomRepository struct {
	db *gorm.DB
}

// NewRoomRepository 创建房间仓储
func NewRoomRepository(db *gorm.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *RoomRepository) WithTx(tx *gorm.DB) *RoomRepository {
	return &RoomRepository{db: tx}
}

// Create 创建房间
func (r *RoomRepository) Create(ctx context.Context, room *models.Room) error {
	return r.db.WithContext(ctx).Create(room).Error
}

// GetByID 根据 ID 获取房间
func (r *RoomRepository) GetByID(ctx context.Context, id int64) (*models.Room, error) {
	var room models.Room
	if err := r.db.WithContext(ctx).First(&room, id).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

// ListByIDs 批量获取房间，按 ID 升序
func (r *RoomRepository) ListByIDs(ctx context.Context, ids []int64) ([]*models.Room, error) {
	var rooms []*models.Room
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&rooms).Error
	return rooms, err
}

// LockByIDs 对房间行加排他锁，按 ID 升序加锁避免死锁
// 同一房间的并发预订在此处串行化
func (r *RoomRepository) LockByIDs(ctx context.Context, ids []int64) ([]*models.Room, error) {
	var rooms []*models.Room
	err := database.ForUpdate(r.db.WithContext(ctx)).
		Where("id IN ?", ids).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}}).
		Find(&rooms).Error
	return rooms, err
}

// Exists 房间是否存在
func (r *RoomRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Room{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}
