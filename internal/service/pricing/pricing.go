// Package pricing 根据房间价格档位计算租金明细
package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dumeirei/room-rental-backend/internal/common/errors"
	"github.com/dumeirei/room-rental-backend/internal/common/utils"
	"github.com/dumeirei/room-rental-backend/internal/models"
)

// 月单位的最少剩余天数
const minDaysForMonth = 28

// LineItem 类型
const (
	ItemKindRent       = "rent"
	ItemKindBookingFee = "booking_fee"
)

// LineItem 明细行
type LineItem struct {
	Kind        string           `json:"kind"`
	Unit        models.PriceUnit `json:"unit,omitempty"`
	Quantity    int              `json:"quantity"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	LineTotal   decimal.Decimal  `json:"line_total"`
	Description string           `json:"description"`
}

// Breakdown 单个房间的价格明细
// Total 只含租金，定金单独记录在 BookingPrice
type Breakdown struct {
	Items        []LineItem       `json:"items"`
	Total        decimal.Decimal  `json:"total"`
	BookingPrice decimal.Decimal  `json:"booking_price"`
	PriceType    models.PriceUnit `json:"price_type"`
	NumberOfDays int              `json:"number_of_days"`
}

// Quantity 指定单位的数量
func (b *Breakdown) Quantity(unit models.PriceUnit) int {
	for _, item := range b.Items {
		if item.Kind == ItemKindRent && item.Unit == unit {
			return item.Quantity
		}
	}
	return 0
}

// NumberOfNights 日期区间的晚数，区间非法时返回 ErrInvalidRange
func NumberOfNights(from, to time.Time) (int, error) {
	days := utils.DaysBetween(from, to)
	if days <= 0 {
		return 0, errors.ErrInvalidRange
	}
	return days, nil
}

// ComputeBreakdown 计算单个房间在 [from, to) 内的租金明细
func ComputeBreakdown(tiers []models.RoomPriceTier, from, to time.Time) (*Breakdown, error) {
	days, err := NumberOfNights(from, to)
	if err != nil {
		return nil, err
	}

	byUnit := make(map[models.PriceUnit]*models.RoomPriceTier, len(tiers))
	for i := range tiers {
		if tiers[i].Unit.Valid() {
			byUnit[tiers[i].Unit] = &tiers[i]
		}
	}
	if len(byUnit) == 0 {
		return nil, errors.ErrNoPricingAvailable
	}

	qty := decompose(days, byUnit)

	b := &Breakdown{
		Total:        decimal.Zero,
		NumberOfDays: days,
	}
	for _, unit := range []models.PriceUnit{models.PriceUnitMonth, models.PriceUnitWeek, models.PriceUnitDay} {
		n := qty[unit]
		if n == 0 {
			continue
		}
		tier := byUnit[unit]
		price := tier.UnitPrice()
		lineTotal := utils.RoundMoney(price.Mul(decimal.NewFromInt(int64(n))))
		b.Items = append(b.Items, LineItem{
			Kind:        ItemKindRent,
			Unit:        unit,
			Quantity:    n,
			UnitPrice:   price,
			LineTotal:   lineTotal,
			Description: fmt.Sprintf("%d x %s @ %s", n, unit, price.StringFixed(2)),
		})
		b.Total = b.Total.Add(lineTotal)
		if unit.Rank() > b.PriceType.Rank() {
			b.PriceType = unit
		}
	}

	dominant := byUnit[b.PriceType]
	b.BookingPrice = dominant.BookingPrice
	b.Items = append(b.Items, LineItem{
		Kind:        ItemKindBookingFee,
		Unit:        b.PriceType,
		Quantity:    1,
		UnitPrice:   dominant.BookingPrice,
		LineTotal:   dominant.BookingPrice,
		Description: "booking fee",
	})
	return b, nil
}

// decompose 将晚数分解为各单位数量
// 月单位在剩余不少于 28 天时使用，每个月最多覆盖 30 天；其后是周，最后是天。
// 缺少较小单位时余数向上取整为可用的较小单位，再用上一级单位的价格封顶。
func decompose(days int, tiers map[models.PriceUnit]*models.RoomPriceTier) map[models.PriceUnit]int {
	month, hasMonth := tiers[models.PriceUnitMonth]
	week, hasWeek := tiers[models.PriceUnitWeek]
	day, hasDay := tiers[models.PriceUnitDay]

	qty := map[models.PriceUnit]int{}
	rem := days

	if hasMonth {
		for rem >= minDaysForMonth {
			qty[models.PriceUnitMonth]++
			if rem > models.PriceUnitMonth.Days() {
				rem -= models.PriceUnitMonth.Days()
			} else {
				rem = 0
			}
		}
	}
	if hasWeek {
		qty[models.PriceUnitWeek] += rem / 7
		rem %= 7
	}
	if rem > 0 {
		switch {
		case hasDay:
			qty[models.PriceUnitDay] = rem
		case hasWeek:
			qty[models.PriceUnitWeek]++
		default:
			qty[models.PriceUnitMonth]++
		}
	}

	// 天数合计贵于一周时按一周计
	if hasDay && hasWeek && qty[models.PriceUnitDay] > 0 {
		dayCost := day.UnitPrice().Mul(decimal.NewFromInt(int64(qty[models.PriceUnitDay])))
		if week.UnitPrice().LessThan(dayCost) {
			qty[models.PriceUnitWeek]++
			qty[models.PriceUnitDay] = 0
		}
	}

	// 月之后的零头贵于一个月时按一个月计
	if hasMonth && (qty[models.PriceUnitWeek] > 0 || qty[models.PriceUnitDay] > 0) {
		tail := decimal.Zero
		if hasWeek {
			tail = tail.Add(week.UnitPrice().Mul(decimal.NewFromInt(int64(qty[models.PriceUnitWeek]))))
		}
		if hasDay {
			tail = tail.Add(day.UnitPrice().Mul(decimal.NewFromInt(int64(qty[models.PriceUnitDay]))))
		}
		if month.UnitPrice().LessThan(tail) {
			qty[models.PriceUnitMonth]++
			qty[models.PriceUnitWeek] = 0
			qty[models.PriceUnitDay] = 0
		}
	}

	return qty
}

// RoomBreakdown 房间维度的明细
type RoomBreakdown struct {
	RoomID int64 `json:"room_id"`
	Breakdown
}

// Quote 多房间报价
type Quote struct {
	Rooms          []RoomBreakdown  `json:"rooms"`
	Price          decimal.Decimal  `json:"price"`
	BookingPrice   decimal.Decimal  `json:"booking_price"`
	TotalAmount    decimal.Decimal  `json:"total_amount"`
	PriceType      models.PriceUnit `json:"price_type"`
	NumberOfDays   int              `json:"number_of_days"`
	NumberOfMonths int              `json:"number_of_months"`
}

// ComputeQuote 计算多房间报价：租金与定金逐房累加，计价类型取各房间最大的主单位
func ComputeQuote(tiersByRoom map[int64][]models.RoomPriceTier, roomIDs []int64, from, to time.Time) (*Quote, error) {
	if len(roomIDs) == 0 {
		return nil, errors.ErrRoomsRequired
	}

	q := &Quote{
		Price:        decimal.Zero,
		BookingPrice: decimal.Zero,
	}
	for _, roomID := range roomIDs {
		b, err := ComputeBreakdown(tiersByRoom[roomID], from, to)
		if err != nil {
			if errors.Is(err, errors.ErrNoPricingAvailable) {
				return nil, errors.ErrNoPricingAvailable.WithMessage(fmt.Sprintf("房间 %d 未配置价格", roomID))
			}
			return nil, err
		}
		q.Rooms = append(q.Rooms, RoomBreakdown{RoomID: roomID, Breakdown: *b})
		q.Price = q.Price.Add(b.Total)
		q.BookingPrice = q.BookingPrice.Add(b.BookingPrice)
		q.NumberOfDays = b.NumberOfDays
		if b.PriceType.Rank() > q.PriceType.Rank() {
			q.PriceType = b.PriceType
		}
		if n := b.Quantity(models.PriceUnitMonth); n > q.NumberOfMonths {
			q.NumberOfMonths = n
		}
	}
	q.TotalAmount = q.Price.Add(q.BookingPrice)
	return q, nil
}
