package milestone

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/dumeirei/room-rental-backend/internal/models"
)

// Summary 预订维度的付款汇总
type Summary struct {
	MilestoneCount    int             `json:"milestone_count"`
	PaidCount         int             `json:"paid_count"`
	OverdueCount      int             `json:"overdue_count"`
	PaidAmount        decimal.Decimal `json:"paid_amount"`
	OutstandingAmount decimal.Decimal `json:"outstanding_amount"`
	PaymentStatus     string          `json:"payment_status"`
}

// StoredStatus 可落库的付款状态，不含逾期
func StoredStatus(milestones []models.BookingPayment) string {
	paid := 0
	for i := range milestones {
		if milestones[i].IsPaid() {
			paid++
		}
	}
	switch {
	case len(milestones) > 0 && paid == len(milestones):
		return models.BookingPaymentPaid
	case paid > 0:
		return models.BookingPaymentPartial
	default:
		return models.BookingPaymentUnpaid
	}
}

// Summarize 汇总付款节点，任一节点逾期时整体视为逾期
func Summarize(milestones []models.BookingPayment, today time.Time) Summary {
	s := Summary{
		MilestoneCount:    len(milestones),
		PaidAmount:        decimal.Zero,
		OutstandingAmount: decimal.Zero,
	}
	for i := range milestones {
		m := &milestones[i]
		switch m.EffectiveStatus(today) {
		case models.MilestoneStatusPaid:
			s.PaidCount++
			s.PaidAmount = s.PaidAmount.Add(m.Amount)
			continue
		case models.MilestoneStatusOverdue:
			s.OverdueCount++
		}
		s.OutstandingAmount = s.OutstandingAmount.Add(m.Amount)
	}

	s.PaymentStatus = StoredStatus(milestones)
	if s.OverdueCount > 0 {
		s.PaymentStatus = models.BookingPaymentOverdue
	}
	return s
}

// AllPaid 是否全部结清
func AllPaid(milestones []models.BookingPayment) bool {
	return len(milestones) > 0 && StoredStatus(milestones) == models.BookingPaymentPaid
}

// BookingFeePaid 定金节点是否已付
func BookingFeePaid(milestones []models.BookingPayment) bool {
	for i := range milestones {
		if milestones[i].IsBookingFee {
			return milestones[i].IsPaid()
		}
	}
	return false
}
