package booking

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/room-rental-backend/internal/common/errors"
	"github.com/dumeirei/room-rental-backend/internal/common/logger"
	"github.com/dumeirei/room-rental-backend/internal/common/tracing"
	"github.com/dumeirei/room-rental-backend/internal/common/utils"
	"github.com/dumeirei/room-rental-backend/internal/models"
	"github.com/dumeirei/room-rental-backend/internal/repository"
	"github.com/dumeirei/room-rental-backend/internal/service/milestone"
	"github.com/dumeirei/room-rental-backend/internal/service/notify"
)

// 可取消、可拒绝的状态（结束前的全部状态）
var openStatuses = []string{
	models.BookingStatusPendingVerification,
	models.BookingStatusPendingPayment,
	models.BookingStatusConfirmed,
	models.BookingStatusActive,
}

// CancelBooking 取消预订：清空入住区间，删除未完成的支付尝试，已完成的支付不受影响
func (s *BookingService) CancelBooking(ctx context.Context, actor Actor, id int64, reason string) (*models.Booking, error) {
	now := s.now()
	fields := map[string]interface{}{
		"status":              models.BookingStatusCancelled,
		"from_date":           nil,
		"to_date":             nil,
		"cancelled_at":        now,
		"auto_renewal":        false,
		"renewal_period_days": nil,
		"next_renewal_date":   nil,
		"renewal_status":      nil,
	}
	if reason != "" {
		fields["cancel_reason"] = reason
	}
	return s.terminate(ctx, id, "booking.cancel", func(b *models.Booking) error {
		if !actor.CanAccess(b) {
			return errors.ErrPermissionDenied
		}
		return nil
	}, fields, reason)
}

// RejectBooking 管理员拒绝预订，保留入住区间用于追溯
func (s *BookingService) RejectBooking(ctx context.Context, actor Actor, id int64, reason string) (*models.Booking, error) {
	if !actor.IsAdmin {
		return nil, errors.ErrPermissionDenied
	}
	fields := map[string]interface{}{
		"status":              models.BookingStatusRejected,
		"rejected_at":         s.now(),
		"auto_renewal":        false,
		"renewal_period_days": nil,
		"next_renewal_date":   nil,
		"renewal_status":      nil,
	}
	if reason != "" {
		fields["reject_reason"] = reason
	}
	return s.terminate(ctx, id, "booking.reject", nil, fields, reason)
}

// terminate 将预订置为取消或拒绝
func (s *BookingService) terminate(
	ctx context.Context,
	id int64,
	op string,
	authorize func(b *models.Booking) error,
	fields map[string]interface{},
	reason string,
) (booking *models.Booking, err error) {
	ctx, span := tracing.Start(ctx, op, tracing.WithBookingID(id))
	defer func() { tracing.End(span, err) }()

	var deleted int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bookingRepo := s.bookingRepo.WithTx(tx)
		b, err := bookingRepo.GetByIDForUpdate(ctx, id)
		if err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return errors.ErrBookingNotFound
			}
			return err
		}
		if authorize != nil {
			if err := authorize(b); err != nil {
				return err
			}
		}
		if b.IsTerminal() {
			return errors.ErrStateTransition.WithMessage("预订已结束，无法操作")
		}

		ids, err := s.milestoneRepo.WithTx(tx).IDsByBooking(ctx, id)
		if err != nil {
			return err
		}
		if deleted, err = s.paymentRepo.WithTx(tx).DeletePendingByMilestones(ctx, ids); err != nil {
			return err
		}

		rows, err := bookingRepo.TransitionStatus(ctx, id, openStatuses, fields)
		if err != nil {
			return err
		}
		if rows == 0 {
			return errors.ErrStateTransition
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, dbError(err)
	}

	status := fields["status"].(string)
	roomIDs := booking.RoomIDs()
	s.checker.InvalidateCalendar(ctx, roomIDs...)
	s.metrics.RecordBooking(status)
	s.logger.Info("预订已终止",
		logger.BookingID(id),
		logger.BookingNo(booking.BookingNo),
		zap.String("status", status),
		zap.Int64("deleted_attempts", deleted),
	)

	s.notify(ctx, notify.EventBookingCancelled, booking, func(e *notify.Event) {
		e.Reason = reason
	})

	updated, err := s.bookingRepo.GetByID(ctx, id)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return updated, nil
}

// ToggleAutoRenewal 开启或关闭自动续租
// 开启要求按月计价、预订未结束且退房日在今天之后；关闭随时允许
func (s *BookingService) ToggleAutoRenewal(ctx context.Context, actor Actor, id int64, enable bool) (*models.Booking, error) {
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

	if !enable {
		if !b.AutoRenewal {
			return b, nil
		}
		err = s.bookingRepo.UpdateFields(ctx, id, map[string]interface{}{
			"auto_renewal":        false,
			"renewal_period_days": nil,
			"next_renewal_date":   nil,
			"renewal_status":      nil,
		})
		if err != nil {
			return nil, errors.ErrDatabaseError.WithError(err)
		}
		s.logger.Info("自动续租已关闭", logger.BookingID(id))
		return s.bookingRepo.GetByID(ctx, id)
	}

	if b.AutoRenewal {
		return b, nil
	}
	today := utils.NormalizeDate(s.now())
	if b.PriceType != models.PriceUnitMonth || b.IsTerminal() || b.ToDate == nil || !b.ToDate.After(today) {
		return nil, errors.ErrAutoRenewalNotAllowed
	}

	s.applyRenewalSchedule(b, utils.NormalizeDate(*b.ToDate))
	rows, err := s.bookingRepo.TransitionStatus(ctx, id, openStatuses, map[string]interface{}{
		"auto_renewal":        true,
		"renewal_period_days": *b.RenewalPeriodDays,
		"next_renewal_date":   *b.NextRenewalDate,
		"renewal_status":      *b.RenewalStatus,
	})
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if rows == 0 {
		return nil, errors.ErrAutoRenewalNotAllowed
	}

	s.logger.Info("自动续租已开启",
		logger.BookingID(id),
		zap.String("next_renewal_date", utils.FormatDate(*b.NextRenewalDate)),
	)
	return s.bookingRepo.GetByID(ctx, id)
}

// NextStatus 根据付款节点和日期推导下一个状态，无需迁移时返回空串
//   - 待支付且定金已付 -> 已确认
//   - 已确认且全部结清且 from <= today <= to -> 入住中
//   - 已确认或入住中、全部结清且 to < today -> 已结束
func NextStatus(b *models.Booking, milestones []models.BookingPayment, today time.Time) string {
	switch b.Status {
	case models.BookingStatusPendingPayment:
		if milestone.BookingFeePaid(milestones) {
			return models.BookingStatusConfirmed
		}
	case models.BookingStatusConfirmed, models.BookingStatusActive:
		if b.FromDate == nil || b.ToDate == nil || !milestone.AllPaid(milestones) {
			return ""
		}
		from, to := utils.NormalizeDate(*b.FromDate), utils.NormalizeDate(*b.ToDate)
		if to.Before(today) {
			return models.BookingStatusFinished
		}
		if b.Status == models.BookingStatusConfirmed && !today.Before(from) {
			return models.BookingStatusActive
		}
	}
	return ""
}

// EvaluateStatus 按付款和日期推进预订状态，返回最终状态
func (s *BookingService) EvaluateStatus(ctx context.Context, bookingID int64) (string, error) {
	var status string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		status, err = s.EvaluateStatusTx(ctx, tx, bookingID)
		return err
	})
	if err != nil {
		return "", dbError(err)
	}
	return status, nil
}

// EvaluateStatusTx 在调用方事务内推进预订状态
func (s *BookingService) EvaluateStatusTx(ctx context.Context, tx *gorm.DB, bookingID int64) (string, error) {
	bookingRepo := s.bookingRepo.WithTx(tx)
	b, err := bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return "", errors.ErrBookingNotFound
		}
		return "", err
	}
	milestones, err := s.milestoneRepo.WithTx(tx).ListByBooking(ctx, bookingID)
	if err != nil {
		return "", err
	}
	return s.advance(ctx, bookingRepo, b, milestones)
}

// advance 连续迁移直到状态稳定，条件更新失败说明已被并发修改，停止推进
func (s *BookingService) advance(ctx context.Context, repo *repository.BookingRepository, b *models.Booking, milestones []models.BookingPayment) (string, error) {
	today := utils.NormalizeDate(s.now())
	for {
		next := NextStatus(b, milestones, today)
		if next == "" {
			return b.Status, nil
		}

		fields := map[string]interface{}{"status": next}
		if next == models.BookingStatusConfirmed {
			fields["confirmed_at"] = s.now()
		}
		rows, err := repo.TransitionStatus(ctx, b.ID, []string{b.Status}, fields)
		if err != nil {
			return "", err
		}
		if rows == 0 {
			return b.Status, nil
		}

		s.metrics.RecordBooking(next)
		s.logger.Info("预订状态迁移",
			logger.BookingID(b.ID),
			zap.String("from", b.Status),
			zap.String("to", next),
		)
		b.Status = next
	}
}
