package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dumeirei/room-rental-backend/internal/common/utils"
	"github.com/dumeirei/room-rental-backend/internal/models"
)

// Date 解析 YYYY-MM-DD，格式错误直接 panic
func Date(s string) time.Time {
	d, err := utils.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DatePtr 返回日期指针
func DatePtr(s string) *time.Time {
	d := Date(s)
	return &d
}

// Money 解析金额
func Money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// MoneyPtr 返回金额指针
func MoneyPtr(s string) *decimal.Decimal {
	d := Money(s)
	return &d
}

// Clock 返回固定时间的时钟函数
func Clock(s string) func() time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t }
}

// CreateUser 创建测试用户
func CreateUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	phone := "+447700900123"
	user := &models.User{
		Name:   "Guest " + email,
		Email:  email,
		Phone:  &phone,
		Role:   models.UserRoleGuest,
		Status: models.UserStatusActive,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// TierSpec 价格档位简写
type TierSpec struct {
	Unit     models.PriceUnit
	Fixed    string
	Discount string
	Booking  string
}

// CreateRoom 创建房间及其价格档位
func CreateRoom(t *testing.T, db *gorm.DB, name string, tiers ...TierSpec) *models.Room {
	t.Helper()

	room := &models.Room{PartnerID: 1, Name: name, Status: models.RoomStatusActive}
	require.NoError(t, db.Create(room).Error)

	for _, spec := range tiers {
		tier := models.RoomPriceTier{
			RoomID:       room.ID,
			Unit:         spec.Unit,
			FixedPrice:   Money(spec.Fixed),
			BookingPrice: decimal.Zero,
		}
		if spec.Discount != "" {
			tier.DiscountPrice = MoneyPtr(spec.Discount)
		}
		if spec.Booking != "" {
			tier.BookingPrice = Money(spec.Booking)
		}
		require.NoError(t, db.Create(&tier).Error)
		room.PriceTiers = append(room.PriceTiers, tier)
	}
	return room
}

// BookingSpec 预订简写
type BookingSpec struct {
	UserID  int64
	RoomIDs []int64
	From    string
	To      string
	Status  string
}

var bookingSeq int

// CreateBooking 直接落库一笔预订（不生成付款节点）
func CreateBooking(t *testing.T, db *gorm.DB, spec BookingSpec) *models.Booking {
	t.Helper()

	bookingSeq++
	if spec.Status == "" {
		spec.Status = models.BookingStatusConfirmed
	}
	if spec.UserID == 0 {
		spec.UserID = 1
	}

	from, to := Date(spec.From), Date(spec.To)
	booking := &models.Booking{
		BookingNo:     fmt.Sprintf("BKTEST%06d", bookingSeq),
		UserID:        spec.UserID,
		FromDate:      &from,
		ToDate:        &to,
		NumberOfDays:  utils.DaysBetween(from, to),
		Status:        spec.Status,
		PaymentStatus: models.BookingPaymentUnpaid,
		PaymentOption: models.PaymentOptionBookingOnly,
		PriceType:     models.PriceUnitDay,
		Price:         decimal.Zero,
		BookingPrice:  decimal.Zero,
		TotalAmount:   decimal.Zero,
		Currency:      "GBP",
	}
	for _, id := range spec.RoomIDs {
		booking.Rooms = append(booking.Rooms, models.BookingRoom{RoomID: id})
	}
	require.NoError(t, db.Create(booking).Error)
	return booking
}
