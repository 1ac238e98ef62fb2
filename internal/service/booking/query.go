package booking

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dumeirei/room-rental-backend/internal/common/errors"
	"github.com/dumeirei/room-rental-backend/internal/common/utils"
	"github.com/dumeirei/room-rental-backend/internal/models"
	"github.com/dumeirei/room-rental-backend/internal/repository"
	"github.com/dumeirei/room-rental-backend/internal/service/milestone"
)

// BookingView 预订列表项，付款状态在读取时推导（含逾期）
type BookingView struct {
	ID                   int64             `json:"id"`
	BookingNo            string            `json:"booking_no"`
	UserID               int64             `json:"user_id"`
	RoomIDs              []int64           `json:"room_ids"`
	FromDate             *string           `json:"from_date"`
	ToDate               *string           `json:"to_date"`
	NumberOfDays         int               `json:"number_of_days"`
	Status               string            `json:"status"`
	PaymentStatus        string            `json:"payment_status"`
	PaymentOption        string            `json:"payment_option"`
	PriceType            models.PriceUnit  `json:"price_type"`
	Price                decimal.Decimal   `json:"price"`
	BookingPrice         decimal.Decimal   `json:"booking_price"`
	TotalAmount          decimal.Decimal   `json:"total_amount"`
	Currency             string            `json:"currency"`
	AutoRenewal          bool              `json:"auto_renewal"`
	NextRenewalDate      *string           `json:"next_renewal_date,omitempty"`
	RenewalStatus        *string           `json:"renewal_status,omitempty"`
	RequiresVerification bool              `json:"requires_booking_verification"`
	VerifiedAt           *time.Time        `json:"booking_verified_at,omitempty"`
	Stats                milestone.Summary `json:"stats"`
	CreatedAt            time.Time         `json:"created_at"`
}

// MilestoneView 付款时间线中的一个节点
type MilestoneView struct {
	ID              int64           `json:"id"`
	MilestoneNumber int             `json:"milestone_number"`
	MilestoneType   string          `json:"milestone_type"`
	IsBookingFee    bool            `json:"is_booking_fee"`
	DueDate         string          `json:"due_date"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentStatus   string          `json:"payment_status"`
	PaymentMethod   *string         `json:"payment_method,omitempty"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	StartDate       *string         `json:"start_date,omitempty"`
	EndDate         *string         `json:"end_date,omitempty"`
}

// BookingDetail 预订详情
type BookingDetail struct {
	BookingView
	UserName   string          `json:"user_name,omitempty"`
	UserEmail  string          `json:"user_email,omitempty"`
	Milestones []MilestoneView `json:"milestones"`
}

// ListFilter 列表过滤条件
type ListFilter struct {
	RoomID    *int64
	Status    string
	BookingNo string
	FromDate  *time.Time
	ToDate    *time.Time
}

// ListBookings 预订列表；租客只能看到自己的预订，管理员可看到全部
func (s *BookingService) ListBookings(ctx context.Context, actor Actor, filter ListFilter, page, pageSize int) ([]*BookingView, int64, error) {
	repoFilter := repository.BookingFilter{
		RoomID:    filter.RoomID,
		Status:    filter.Status,
		BookingNo: filter.BookingNo,
		FromDate:  filter.FromDate,
		ToDate:    filter.ToDate,
	}
	if !actor.IsAdmin {
		userID := actor.UserID
		repoFilter.UserID = &userID
	}

	bookings, total, err := s.bookingRepo.List(ctx, page, pageSize, repoFilter)
	if err != nil {
		return nil, 0, errors.ErrDatabaseError.WithError(err)
	}

	today := utils.NormalizeDate(s.now())
	list := make([]*BookingView, 0, len(bookings))
	for _, b := range bookings {
		view := toView(b, b.Milestones, today)
		list = append(list, &view)
	}
	return list, total, nil
}

// GetBooking 预订详情（本人或管理员）
func (s *BookingService) GetBooking(ctx context.Context, actor Actor, id int64) (*BookingDetail, error) {
	b, err := s.bookingRepo.GetByIDWithDetails(ctx, id)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrBookingNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if !actor.CanAccess(b) {
		return nil, errors.ErrPermissionDenied
	}

	today := utils.NormalizeDate(s.now())
	detail := &BookingDetail{
		BookingView: toView(b, b.Milestones, today),
		Milestones:  toTimeline(b.Milestones, today),
	}
	if b.User != nil {
		detail.UserName = b.User.Name
		detail.UserEmail = b.User.Email
	}
	return detail, nil
}

// GetMilestoneTimeline 预订的付款时间线，按节点序号升序
func (s *BookingService) GetMilestoneTimeline(ctx context.Context, actor Actor, id int64) ([]MilestoneView, error) {
	b, err := s.bookingRepo.GetByID(ctx, id)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrBookingNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if !actor.CanAccess(b) {
		return nil, errors.ErrPermissionDenied
	}

	milestones, err := s.milestoneRepo.ListByBooking(ctx, id)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return toTimeline(milestones, utils.NormalizeDate(s.now())), nil
}

func toView(b *models.Booking, milestones []models.BookingPayment, today time.Time) BookingView {
	stats := milestone.Summarize(milestones, today)
	return BookingView{
		ID:                   b.ID,
		BookingNo:            b.BookingNo,
		UserID:               b.UserID,
		RoomIDs:              b.RoomIDs(),
		FromDate:             formatDatePtr(b.FromDate),
		ToDate:               formatDatePtr(b.ToDate),
		NumberOfDays:         b.NumberOfDays,
		Status:               b.Status,
		PaymentStatus:        stats.PaymentStatus,
		PaymentOption:        b.PaymentOption,
		PriceType:            b.PriceType,
		Price:                b.Price,
		BookingPrice:         b.BookingPrice,
		TotalAmount:          b.TotalAmount,
		Currency:             b.Currency,
		AutoRenewal:          b.AutoRenewal,
		NextRenewalDate:      formatDatePtr(b.NextRenewalDate),
		RenewalStatus:        b.RenewalStatus,
		RequiresVerification: b.RequiresVerification,
		VerifiedAt:           b.VerifiedAt,
		Stats:                stats,
		CreatedAt:            b.CreatedAt,
	}
}

func toTimeline(milestones []models.BookingPayment, today time.Time) []MilestoneView {
	list := make([]MilestoneView, 0, len(milestones))
	for i := range milestones {
		m := &milestones[i]
		list = append(list, MilestoneView{
			ID:              m.ID,
			MilestoneNumber: m.MilestoneNumber,
			MilestoneType:   m.MilestoneType,
			IsBookingFee:    m.IsBookingFee,
			DueDate:         utils.FormatDate(m.DueDate),
			Amount:          m.Amount,
			PaymentStatus:   m.EffectiveStatus(today),
			PaymentMethod:   m.PaymentMethod,
			PaidAt:          m.PaidAt,
			StartDate:       formatDatePtr(m.StartDate),
			EndDate:         formatDatePtr(m.EndDate),
		})
	}
	return list
}

func formatDatePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := utils.FormatDate(*t)
	return &s
}
