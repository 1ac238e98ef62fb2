package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/dumeirei/room-rental-backend/internal/models"
)

// PaymentRepository 支付尝试仓储
type PaymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository 创建支付尝试仓储
func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *PaymentRepository) WithTx(tx *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: tx}
}

// Create 创建支付尝试
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

// GetByTransactionID 根据网关流水号获取支付尝试
func (r *PaymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// ListByMilestone 获取付款节点的全部支付尝试
func (r *PaymentRepository) ListByMilestone(ctx context.Context, milestoneID int64) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("booking_payment_id = ?", milestoneID).
		Order("id ASC").
		Find(&payments).Error
	return payments, err
}

// CountCompleted 统计付款节点已成功的支付尝试数
func (r *PaymentRepository) CountCompleted(ctx context.Context, milestoneID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("booking_payment_id = ? AND status = ?", milestoneID, models.PaymentStatusCompleted).
		Count(&count).Error
	return count, err
}

// DeletePendingByMilestones 删除指定付款节点上仍在处理中的支付尝试
func (r *PaymentRepository) DeletePendingByMilestones(ctx context.Context, milestoneIDs []int64) (int64, error) {
	if len(milestoneIDs) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Where("booking_payment_id IN ? AND status = ?", milestoneIDs, models.PaymentStatusPending).
		Delete(&models.Payment{})
	return result.RowsAffected, result.Error
}
