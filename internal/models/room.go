package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Room 房间模型
type Room struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PartnerID   int64     `gorm:"index;not null" json:"partner_id"`
	PropertyID  *int64    `gorm:"index" json:"property_id,omitempty"`
	Name        string    `gorm:"type:varchar(100);not null" json:"name"`
	Description *string   `gorm:"type:text" json:"description,omitempty"`
	Status      int8      `gorm:"type:smallint;not null;default:1" json:"status"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// 关联
	PriceTiers []RoomPriceTier `gorm:"foreignKey:RoomID" json:"price_tiers,omitempty"`
}

// TableName 表名
func (Room) TableName() string {
	return "rooms"
}

// RoomStatus 房间状态
const (
	RoomStatusDisabled = 0 // 下架
	RoomStatusActive   = 1 // 可预订
)

// PriceUnit 计价单位
type PriceUnit string

// 计价单位，按跨度从小到大
const (
	PriceUnitDay   PriceUnit = "day"
	PriceUnitWeek  PriceUnit = "week"
	PriceUnitMonth PriceUnit = "month"
)

// Days 单位覆盖的天数（月按 30 天）
func (u PriceUnit) Days() int {
	switch u {
	case PriceUnitWeek:
		return 7
	case PriceUnitMonth:
		return 30
	default:
		return 1
	}
}

// Rank 单位大小次序，用于比较主计价单位
func (u PriceUnit) Rank() int {
	switch u {
	case PriceUnitDay:
		return 1
	case PriceUnitWeek:
		return 2
	case PriceUnitMonth:
		return 3
	default:
		return 0
	}
}

// Valid 是否为合法单位
func (u PriceUnit) Valid() bool {
	return u.Rank() > 0
}

// RoomPriceTier 房间价格档位，每个房间每种单位至多一档
type RoomPriceTier struct {
	ID            int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID        int64            `gorm:"uniqueIndex:uk_room_unit;not null" json:"room_id"`
	Unit          PriceUnit        `gorm:"type:varchar(10);uniqueIndex:uk_room_unit;not null" json:"unit"`
	FixedPrice    decimal.Decimal  `gorm:"type:decimal(12,2);not null" json:"fixed_price"`
	DiscountPrice *decimal.Decimal `gorm:"type:decimal(12,2)" json:"discount_price,omitempty"`
	BookingPrice  decimal.Decimal  `gorm:"type:decimal(12,2);not null;default:0" json:"booking_price"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 表名
func (RoomPriceTier) TableName() string {
	return "room_price_tiers"
}

// UnitPrice 单价：有折扣价取折扣价，否则取原价
func (t *RoomPriceTier) UnitPrice() decimal.Decimal {
	if t.DiscountPrice != nil {
		return *t.DiscountPrice
	}
	return t.FixedPrice
}
