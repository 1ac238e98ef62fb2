package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookingPayment 付款节点（定金或一期租金）
type BookingPayment struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	BookingID       int64           `gorm:"uniqueIndex:uk_booking_milestone;not null" json:"booking_id"`
	MilestoneType   string          `gorm:"type:varchar(20);not null" json:"milestone_type"`
	MilestoneNumber int             `gorm:"uniqueIndex:uk_booking_milestone;not null" json:"milestone_number"`
	DueDate         time.Time       `gorm:"type:date;not null;index" json:"due_date"`
	Amount          decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	PaymentStatus   string          `gorm:"type:varchar(20);not null;default:'pending'" json:"payment_status"`
	PaymentMethod   *string         `gorm:"type:varchar(20)" json:"payment_method,omitempty"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	IsBookingFee    bool            `gorm:"not null;default:false" json:"is_booking_fee"`
	StartDate       *time.Time      `gorm:"type:date" json:"start_date,omitempty"`
	EndDate         *time.Time      `gorm:"type:date" json:"end_date,omitempty"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	// 关联
	Payments []Payment `gorm:"foreignKey:BookingPaymentID" json:"payments,omitempty"`
}

// TableName 表名
func (BookingPayment) TableName() string {
	return "booking_payments"
}

// MilestoneType 付款节点类型
const (
	MilestoneTypeBookingFee = "booking_fee"
	MilestoneTypeRent       = "rent"
)

// MilestoneStatus 付款节点状态
const (
	MilestoneStatusPending = "pending"
	MilestoneStatusPaid    = "paid"
	MilestoneStatusOverdue = "overdue" // 只在读取时推导
)

// EffectiveStatus 推导付款节点状态：未付且到期日早于今天即为逾期
func (m *BookingPayment) EffectiveStatus(today time.Time) string {
	if m.PaymentStatus == MilestoneStatusPending && m.DueDate.Before(today) {
		return MilestoneStatusOverdue
	}
	return m.PaymentStatus
}

// IsPaid 是否已支付
func (m *BookingPayment) IsPaid() bool {
	return m.PaymentStatus == MilestoneStatusPaid
}

// Payment 支付尝试记录，一个付款节点可有多次尝试，至多一次成功
type Payment struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentNo        string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"payment_no"`
	BookingID        int64           `gorm:"index;not null" json:"booking_id"`
	BookingPaymentID int64           `gorm:"index;not null" json:"booking_payment_id"`
	PaymentMethod    string          `gorm:"type:varchar(20);not null" json:"payment_method"`
	PaymentType      string          `gorm:"type:varchar(20);not null" json:"payment_type"`
	Amount           decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	TransactionID    *string         `gorm:"type:varchar(128);uniqueIndex" json:"transaction_id,omitempty"`
	Status           string          `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	CallbackData     JSON            `gorm:"type:jsonb" json:"callback_data,omitempty"`
	ErrorMessage     *string         `gorm:"type:varchar(255)" json:"error_message,omitempty"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 表名
func (Payment) TableName() string {
	return "payments"
}

// PaymentMethod 支付方式
const (
	PaymentMethodCard         = "card"
	PaymentMethodBankTransfer = "bank_transfer"
)

// PaymentType 支付类型
const (
	PaymentTypeBooking = "booking"
	PaymentTypeRent    = "rent"
)

// PaymentStatus 支付尝试状态
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
)

// ValidPaymentMethod 校验支付方式
func ValidPaymentMethod(method string) bool {
	return method == PaymentMethodCard || method == PaymentMethodBankTransfer
}

// AllModels 需要迁移的全部模型
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Room{},
		&RoomPriceTier{},
		&Booking{},
		&BookingRoom{},
		&BookingPayment{},
		&Payment{},
	}
}
