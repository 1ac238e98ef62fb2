package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Booking 预订模型
// 取消后 from_date / to_date 清空，记录本身永久保留
type Booking struct {
	ID                    int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	BookingNo             string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"booking_no"`
	UserID                int64           `gorm:"index;not null" json:"user_id"`
	FromDate              *time.Time      `gorm:"type:date;index" json:"from_date"`
	ToDate                *time.Time      `gorm:"type:date;index" json:"to_date"`
	NumberOfDays          int             `gorm:"not null" json:"number_of_days"`
	Status                string          `gorm:"type:varchar(30);index;not null" json:"status"`
	PaymentStatus         string          `gorm:"type:varchar(20);not null;default:'unpaid'" json:"payment_status"`
	PaymentOption         string          `gorm:"type:varchar(20);not null" json:"payment_option"`
	PriceType             PriceUnit       `gorm:"type:varchar(10);not null" json:"price_type"`
	Price                 decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	BookingPrice          decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"booking_price"`
	TotalAmount           decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	Currency              string          `gorm:"type:varchar(3);not null;default:'GBP'" json:"currency"`
	AutoRenewal           bool            `gorm:"not null;default:false" json:"auto_renewal"`
	RenewalPeriodDays     *int            `json:"renewal_period_days,omitempty"`
	NextRenewalDate       *time.Time      `gorm:"type:date;index" json:"next_renewal_date,omitempty"`
	RenewalStatus         *string         `gorm:"type:varchar(20)" json:"renewal_status,omitempty"`
	RequiresVerification  bool            `gorm:"not null;default:false" json:"requires_booking_verification"`
	VerificationToken     *string         `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	VerificationExpiresAt *time.Time      `json:"verification_expires_at,omitempty"`
	VerifiedAt            *time.Time      `json:"booking_verified_at,omitempty"`
	ConfirmedAt           *time.Time      `json:"confirmed_at,omitempty"`
	CancelledAt           *time.Time      `json:"cancelled_at,omitempty"`
	CancelReason          *string         `gorm:"type:varchar(255)" json:"cancel_reason,omitempty"`
	RejectedAt            *time.Time      `json:"rejected_at,omitempty"`
	RejectReason          *string         `gorm:"type:varchar(255)" json:"reject_reason,omitempty"`
	CreatedAt             time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	// 关联
	User       *User            `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Rooms      []BookingRoom    `gorm:"foreignKey:BookingID" json:"rooms,omitempty"`
	Milestones []BookingPayment `gorm:"foreignKey:BookingID" json:"milestones,omitempty"`
}

// TableName 表名
func (Booking) TableName() string {
	return "bookings"
}

// BookingStatus 预订状态
const (
	BookingStatusPendingVerification = "pending_verification" // 待验证
	BookingStatusPendingPayment      = "pending_payment"      // 待支付定金
	BookingStatusConfirmed           = "confirmed"            // 已确认
	BookingStatusActive              = "active"               // 入住中
	BookingStatusFinished            = "finished"             // 已结束
	BookingStatusCancelled           = "cancelled"            // 已取消
	BookingStatusRejected            = "rejected"             // 已拒绝
)

// BookingPaymentStatus 预订维度的付款状态
const (
	BookingPaymentUnpaid  = "unpaid"
	BookingPaymentPartial = "partial"
	BookingPaymentPaid    = "paid"
	BookingPaymentOverdue = "overdue" // 只在读取时推导，不落库
)

// PaymentOption 付款方式
const (
	PaymentOptionBookingOnly = "booking_only" // 先付定金，租金分期
	PaymentOptionFull        = "full"         // 定金 + 一次性租金
)

// RenewalStatus 续租状态
const (
	RenewalStatusScheduled = "scheduled"
	RenewalStatusRenewed   = "renewed"
	RenewalStatusFailed    = "failed"
)

// InactiveBookingStatuses 不占用房间的状态
var InactiveBookingStatuses = []string{BookingStatusCancelled, BookingStatusRejected}

// IsTerminal 是否已处于终态
func (b *Booking) IsTerminal() bool {
	switch b.Status {
	case BookingStatusFinished, BookingStatusCancelled, BookingStatusRejected:
		return true
	}
	return false
}

// RoomIDs 预订包含的房间 ID
func (b *Booking) RoomIDs() []int64 {
	ids := make([]int64, 0, len(b.Rooms))
	for _, r := range b.Rooms {
		ids = append(ids, r.RoomID)
	}
	return ids
}

// BookingRoom 预订与房间的关联，一笔预订可包含多个房间
type BookingRoom struct {
	ID        int64 `gorm:"primaryKey;autoIncrement" json:"-"`
	BookingID int64 `gorm:"uniqueIndex:uk_booking_room;not null" json:"booking_id"`
	RoomID    int64 `gorm:"uniqueIndex:uk_booking_room;index;not null" json:"room_id"`

	// 关联
	Room *Room `gorm:"foreignKey:RoomID" json:"room,omitempty"`
}

// TableName 表名
func (BookingRoom) TableName() string {
	return "booking_rooms"
}
