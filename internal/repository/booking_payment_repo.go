package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/dumeirei/room-rental-backend/internal/common/database"
	"github.com/dumeirei/room-rental-backend/internal/models"
)

// BookingPaymentRepository 付款节点仓储
type BookingPaymentRepository struct {
	db *gorm.DB
}

// NewBookingPaymentRepository 创建付款节点仓储
func NewBookingPaymentRepository(db *gorm.DB) *BookingPaymentRepository {
	return &BookingPaymentRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *BookingPaymentRepository) WithTx(tx *gorm.DB) *BookingPaymentRepository {
	return &BookingPaymentRepository{db: tx}
}

// Create 创建付款节点
func (r *BookingPaymentRepository) Create(ctx context.Context, milestone *models.BookingPayment) error {
	return r.db.WithContext(ctx).Create(milestone).Error
}

// GetByID 根据 ID 获取付款节点
func (r *BookingPaymentRepository) GetByID(ctx context.Context, id int64) (*models.BookingPayment, error) {
	var milestone models.BookingPayment
	if err := r.db.WithContext(ctx).First(&milestone, id).Error; err != nil {
		return nil, err
	}
	return &milestone, nil
}

// GetByIDForUpdate 加锁读取付款节点（仅 PostgreSQL 加行锁）
func (r *BookingPaymentRepository) GetByIDForUpdate(ctx context.Context, id int64) (*models.BookingPayment, error) {
	var milestone models.BookingPayment
	if err := database.ForUpdate(r.db.WithContext(ctx)).First(&milestone, id).Error; err != nil {
		return nil, err
	}
	return &milestone, nil
}

// ListByBooking 按序号获取预订的全部付款节点
func (r *BookingPaymentRepository) ListByBooking(ctx context.Context, bookingID int64) ([]models.BookingPayment, error) {
	var milestones []models.BookingPayment
	err := r.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("milestone_number ASC").
		Find(&milestones).Error
	return milestones, err
}

// MaxMilestoneNumber 预订当前最大的节点序号
func (r *BookingPaymentRepository) MaxMilestoneNumber(ctx context.Context, bookingID int64) (int, error) {
	var max *int
	err := r.db.WithContext(ctx).Model(&models.BookingPayment{}).
		Where("booking_id = ?", bookingID).
		Select("MAX(milestone_number)").
		Scan(&max).Error
	if err != nil || max == nil {
		return 0, err
	}
	return *max, nil
}

// MarkPaid 条件更新：仅当节点仍为待支付时标记已付，返回影响行数
func (r *BookingPaymentRepository) MarkPaid(ctx context.Context, id int64, method string, paidAt time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.BookingPayment{}).
		Where("id = ? AND payment_status = ?", id, models.MilestoneStatusPending).
		Updates(map[string]interface{}{
			"payment_status": models.MilestoneStatusPaid,
			"payment_method": method,
			"paid_at":        paidAt,
		})
	return result.RowsAffected, result.Error
}

// IDsByBooking 预订下全部付款节点 ID
func (r *BookingPaymentRepository) IDsByBooking(ctx context.Context, bookingID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&models.BookingPayment{}).
		Where("booking_id = ?", bookingID).
		Pluck("id", &ids).Error
	return ids, err
}
