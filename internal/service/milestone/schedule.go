// Package milestone 生成预订的付款计划并汇总付款状态
package milestone

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dumeirei/room-rental-backend/internal/common/errors"
	"github.com/dumeirei/room-rental-backend/internal/common/utils"
	"github.com/dumeirei/room-rental-backend/internal/models"
)

// ScheduleInput 付款计划参数
type ScheduleInput struct {
	TotalAmount    decimal.Decimal
	BookingPrice   decimal.Decimal
	PaymentOption  string
	PriceType      models.PriceUnit
	FromDate       time.Time
	ToDate         time.Time
	NumberOfMonths int
	Now            time.Time
}

// BuildSchedule 生成付款节点：1 号节点固定为定金且立即到期，其后为租金节点
// 节点金额之和必须等于总金额，否则返回 ErrScheduleImbalance
func BuildSchedule(in ScheduleInput) ([]models.BookingPayment, error) {
	from := utils.NormalizeDate(in.FromDate)
	to := utils.NormalizeDate(in.ToDate)
	if !to.After(from) {
		return nil, errors.ErrInvalidRange
	}
	if in.PaymentOption != models.PaymentOptionFull && in.PaymentOption != models.PaymentOptionBookingOnly {
		return nil, errors.ErrPaymentOptionInvalid
	}

	rent := in.TotalAmount.Sub(in.BookingPrice)
	if rent.IsNegative() {
		return nil, errors.ErrScheduleImbalance.WithMessage("定金大于总金额")
	}

	schedule := []models.BookingPayment{{
		MilestoneType:   models.MilestoneTypeBookingFee,
		MilestoneNumber: 1,
		DueDate:         utils.NormalizeDate(in.Now),
		Amount:          in.BookingPrice,
		PaymentStatus:   models.MilestoneStatusPending,
		IsBookingFee:    true,
	}}

	if in.PaymentOption == models.PaymentOptionBookingOnly && in.PriceType == models.PriceUnitMonth {
		schedule = append(schedule, monthlyInstallments(rent, from, to, in.NumberOfMonths)...)
	} else {
		schedule = append(schedule, RentMilestone(2, rent, from, to))
	}

	if err := CheckBalance(schedule, in.TotalAmount); err != nil {
		return nil, err
	}
	return schedule, nil
}

// monthlyInstallments 按月分期，每期四舍五入到分，余数并入最后一期，任何一期都不为负
func monthlyInstallments(rent decimal.Decimal, from, to time.Time, months int) []models.BookingPayment {
	if months < 1 {
		months = 1
	}

	n := decimal.NewFromInt(int64(months))
	per := utils.RoundMoney(rent.Div(n))
	last := rent.Sub(per.Mul(decimal.NewFromInt(int64(months - 1))))
	if last.IsNegative() {
		// 金额过小时进位会透支最后一期，改为向下取整
		per = rent.Div(n).RoundFloor(2)
		last = rent.Sub(per.Mul(decimal.NewFromInt(int64(months - 1))))
	}

	items := make([]models.BookingPayment, 0, months)
	for k := 1; k <= months; k++ {
		start := clampDate(utils.AddMonths(from, k-1), to)
		end := to
		if k < months {
			end = clampDate(utils.AddDays(utils.AddMonths(from, k), -1), to)
		}
		amount := per
		if k == months {
			amount = last
		}
		items = append(items, RentMilestone(k+1, amount, start, end))
	}
	return items
}

// RentMilestone 构造租金节点，在覆盖区间的首日到期
func RentMilestone(number int, amount decimal.Decimal, start, end time.Time) models.BookingPayment {
	start = utils.NormalizeDate(start)
	end = utils.NormalizeDate(end)
	return models.BookingPayment{
		MilestoneType:   models.MilestoneTypeRent,
		MilestoneNumber: number,
		DueDate:         start,
		Amount:          amount,
		PaymentStatus:   models.MilestoneStatusPending,
		IsBookingFee:    false,
		StartDate:       &start,
		EndDate:         &end,
	}
}

// CheckBalance 校验节点金额之和等于总金额
func CheckBalance(schedule []models.BookingPayment, total decimal.Decimal) error {
	sum := decimal.Zero
	for _, m := range schedule {
		sum = sum.Add(m.Amount)
	}
	if !sum.Equal(total) {
		return errors.ErrScheduleImbalance.WithMessage(
			fmt.Sprintf("付款节点合计 %s 与总金额 %s 不一致", sum.StringFixed(2), total.StringFixed(2)))
	}
	return nil
}

func clampDate(d, max time.Time) time.Time {
	if d.After(max) {
		return max
	}
	return d
}
