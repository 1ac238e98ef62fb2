package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/dumeirei/room-rental-backend/internal/common/database"
	"github.com/dumeirei/room-rental-backend/internal/models"
)

// BookingRepository 预订仓储
type BookingRepository struct {
	db *gorm.DB
}

// NewBookingRepository 创建预订仓储
func NewBookingRepository(db *gorm.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *BookingRepository) WithTx(tx *gorm.DB) *BookingRepository {
	return &BookingRepository{db: tx}
}

// BookingFilter 预订列表过滤条件
type BookingFilter struct {
	UserID    *int64
	RoomID    *int64
	Status    string
	BookingNo string
	FromDate  *time.Time // 入住日期下限
	ToDate    *time.Time // 入住日期上限
}

// Create 创建预订，同时写入房间关联和付款节点
func (r *BookingRepository) Create(ctx context.Context, booking *models.Booking) error {
	return r.db.WithContext(ctx).Create(booking).Error
}

// GetByID 根据 ID 获取预订
func (r *BookingRepository) GetByID(ctx context.Context, id int64) (*models.Booking, error) {
	var booking models.Booking
	if err := r.db.WithContext(ctx).Preload("Rooms").First(&booking, id).Error; err != nil {
		return nil, err
	}
	return &booking, nil
}

// GetByIDForUpdate 加锁读取预订（仅 PostgreSQL 加行锁）
func (r *BookingRepository) GetByIDForUpdate(ctx context.Context, id int64) (*models.Booking, error) {
	var booking models.Booking
	if err := database.ForUpdate(r.db.WithContext(ctx)).First(&booking, id).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Where("booking_id = ?", id).Find(&booking.Rooms).Error; err != nil {
		return nil, err
	}
	return &booking, nil
}

// GetByIDWithDetails 获取预订及房间、付款节点、用户
func (r *BookingRepository) GetByIDWithDetails(ctx context.Context, id int64) (*models.Booking, error) {
	var booking models.Booking
	err := r.db.WithContext(ctx).
		Preload("User").
		Preload("Rooms").
		Preload("Rooms.Room").
		Preload("Milestones", func(db *gorm.DB) *gorm.DB {
			return db.Order("milestone_number ASC")
		}).
		First(&booking, id).Error
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// GetByVerificationToken 根据核验令牌获取预订
func (r *BookingRepository) GetByVerificationToken(ctx context.Context, token string) (*models.Booking, error) {
	var booking models.Booking
	err := r.db.WithContext(ctx).
		Preload("Rooms").
		Where("verification_token = ?", token).
		First(&booking).Error
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// UpdateFields 更新指定字段
func (r *BookingRepository) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&models.Booking{}).Where("id = ?", id).Updates(fields).Error
}

// TransitionStatus 条件更新：仅当当前状态属于 from 时写入，返回影响行数
// 作为并发状态迁移的乐观锁
func (r *BookingRepository) TransitionStatus(ctx context.Context, id int64, from []string, fields map[string]interface{}) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ?", id).
		Where("status IN ?", from).
		Updates(fields)
	return result.RowsAffected, result.Error
}

// AdvanceRenewal 条件更新：仅当 next_renewal_date 仍为 expected 时写入续租结果
func (r *BookingRepository) AdvanceRenewal(ctx context.Context, id int64, expected time.Time, fields map[string]interface{}) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ?", id).
		Where("auto_renewal = ?", true).
		Where("next_renewal_date = ?", expected).
		Updates(fields)
	return result.RowsAffected, result.Error
}

// overlapping 与区间 [from, to]（两端包含）重叠且占用房间的预订
func (r *BookingRepository) overlapping(ctx context.Context, roomIDs []int64, from, to time.Time, excludeID *int64) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&models.Booking{}).
		Where("status NOT IN ?", models.InactiveBookingStatuses).
		Where("from_date IS NOT NULL AND to_date IS NOT NULL").
		Where("from_date <= ? AND to_date >= ?", to, from).
		Where("id IN (?)", r.db.Model(&models.BookingRoom{}).Select("booking_id").Where("room_id IN ?", roomIDs))
	if excludeID != nil {
		query = query.Where("id <> ?", *excludeID)
	}
	return query
}

// FindOverlapping 查询冲突预订（含房间与下单用户）
func (r *BookingRepository) FindOverlapping(ctx context.Context, roomIDs []int64, from, to time.Time, excludeID *int64) ([]*models.Booking, error) {
	var bookings []*models.Booking
	err := r.overlapping(ctx, roomIDs, from, to, excludeID).
		Preload("Rooms").
		Preload("User").
		Order("from_date ASC, id ASC").
		Find(&bookings).Error
	return bookings, err
}

// CountOverlapping 统计冲突预订数量
func (r *BookingRepository) CountOverlapping(ctx context.Context, roomIDs []int64, from, to time.Time, excludeID *int64) (int64, error) {
	var count int64
	err := r.overlapping(ctx, roomIDs, from, to, excludeID).Count(&count).Error
	return count, err
}

// List 获取预订列表，附带房间和付款节点；页码从 1 开始
func (r *BookingRepository) List(ctx context.Context, page, pageSize int, filter BookingFilter) ([]*models.Booking, int64, error) {
	var bookings []*models.Booking
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Booking{})

	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.RoomID != nil {
		query = query.Where("id IN (?)", r.db.Model(&models.BookingRoom{}).Select("booking_id").Where("room_id = ?", *filter.RoomID))
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.BookingNo != "" {
		query = query.Where("booking_no LIKE ?", "%"+filter.BookingNo+"%")
	}
	if filter.FromDate != nil {
		query = query.Where("from_date >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		query = query.Where("from_date <= ?", *filter.ToDate)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.
		Preload("Rooms").
		Preload("Milestones", func(db *gorm.DB) *gorm.DB {
			return db.Order("milestone_number ASC")
		}).
		Scopes(database.OrderByCreatedDesc, database.Paginate(page, pageSize)).
		Find(&bookings).Error; err != nil {
		return nil, 0, err
	}

	return bookings, total, nil
}

// ListExpiredUnverified 获取核验已过期的待验证预订
func (r *BookingRepository) ListExpiredUnverified(ctx context.Context, now time.Time, limit int) ([]*models.Booking, error) {
	var bookings []*models.Booking
	err := r.db.WithContext(ctx).
		Where("status = ?", models.BookingStatusPendingVerification).
		Where("verification_expires_at IS NOT NULL AND verification_expires_at < ?", now).
		Order("id ASC").
		Limit(limit).
		Find(&bookings).Error
	return bookings, err
}

// ListDueRenewals 获取到达续租日的预订
func (r *BookingRepository) ListDueRenewals(ctx context.Context, today time.Time, limit int) ([]*models.Booking, error) {
	var bookings []*models.Booking
	err := r.db.WithContext(ctx).
		Preload("Rooms").
		Where("auto_renewal = ?", true).
		Where("next_renewal_date IS NOT NULL AND next_renewal_date <= ?", today).
		Where("status IN ?", []string{
			models.BookingStatusPendingPayment,
			models.BookingStatusConfirmed,
			models.BookingStatusActive,
		}).
		Order("next_renewal_date ASC, id ASC").
		Limit(limit).
		Find(&bookings).Error
	return bookings, err
}

// ListForAdvance 获取需要按日期推进状态的预订（已确认已到入住日、入住中已过退房日）
func (r *BookingRepository) ListForAdvance(ctx context.Context, today time.Time, limit int) ([]*models.Booking, error) {
	var bookings []*models.Booking
	err := r.db.WithContext(ctx).
		Preload("Milestones").
		Where("(status = ? AND from_date <= ?) OR (status = ? AND to_date < ?)",
			models.BookingStatusConfirmed, today,
			models.BookingStatusActive, today).
		Order("id ASC").
		Limit(limit).
		Find(&bookings).Error
	return bookings, err
}
