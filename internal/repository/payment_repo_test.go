// Package repository 付款节点与支付尝试仓储单元测试
package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dumeirei/room-rental-backend/internal/common/utils"
	"github.com/dumeirei/room-rental-backend/internal/models"
	"github.com/dumeirei/room-rental-backend/internal/testutil"
)

func createMilestone(t *testing.T, repo *BookingPaymentRepository, bookingID int64, number int, amount string) *models.BookingPayment {
	t.Helper()
	m := &models.BookingPayment{
		BookingID:       bookingID,
		MilestoneType:   models.MilestoneTypeRent,
		MilestoneNumber: number,
		DueDate:         testutil.Date("2025-01-01"),
		Amount:          testutil.Money(amount),
		PaymentStatus:   models.MilestoneStatusPending,
	}
	require.NoError(t, repo.Create(context.Background(), m))
	return m
}

// ==================== BookingPaymentRepository 测试 ====================

func TestBookingPaymentRepository_MarkPaid(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewBookingPaymentRepository(db)
	ctx := context.Background()

	room := testutil.CreateRoom(t, db, "Room")
	booking := testutil.CreateBooking(t, db, testutil.BookingSpec{RoomIDs: []int64{room.ID}, From: "2025-01-01", To: "2025-01-05"})
	m := createMilestone(t, repo, booking.ID, 1, "50.00")

	paidAt := testutil.Clock("2025-01-01T09:00:00Z")()

	t.Run("待支付节点标记已付", func(t *testing.T) {
		n, err := repo.MarkPaid(ctx, m.ID, models.PaymentMethodCard, paidAt)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := repo.GetByID(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, models.MilestoneStatusPaid, got.PaymentStatus)
		assert.Equal(t, models.PaymentMethodCard, utils.SafeString(got.PaymentMethod))
		require.NotNil(t, got.PaidAt)
	})

	t.Run("重复标记不生效", func(t *testing.T) {
		n, err := repo.MarkPaid(ctx, m.ID, models.PaymentMethodBankTransfer, paidAt)
		require.NoError(t, err)
		assert.Zero(t, n)

		got, err := repo.GetByID(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentMethodCard, utils.SafeString(got.PaymentMethod))
	})
}

func TestBookingPaymentRepository_ListAndMax(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewBookingPaymentRepository(db)
	ctx := context.Background()

	room := testutil.CreateRoom(t, db, "Room")
	booking := testutil.CreateBooking(t, db, testutil.BookingSpec{RoomIDs: []int64{room.ID}, From: "2025-01-01", To: "2025-03-01"})

	max, err := repo.MaxMilestoneNumber(ctx, booking.ID)
	require.NoError(t, err)
	assert.Zero(t, max)

	createMilestone(t, repo, booking.ID, 3, "10.00")
	createMilestone(t, repo, booking.ID, 1, "10.00")
	createMilestone(t, repo, booking.ID, 2, "10.00")

	max, err = repo.MaxMilestoneNumber(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, max)

	list, err := repo.ListByBooking(ctx, booking.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, m := range list {
		assert.Equal(t, i+1, m.MilestoneNumber)
	}

	ids, err := repo.IDsByBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	t.Run("同一预订节点序号唯一", func(t *testing.T) {
		err := repo.Create(ctx, &models.BookingPayment{
			BookingID: booking.ID, MilestoneType: models.MilestoneTypeRent, MilestoneNumber: 2,
			DueDate: testutil.Date("2025-01-01"), Amount: testutil.Money("1.00"),
		})
		assert.Error(t, err)
	})
}

// ==================== PaymentRepository 测试 ====================

func TestPaymentRepository(t *testing.T) {
	db := testutil.NewTestDB(t)
	milestones := NewBookingPaymentRepository(db)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	room := testutil.CreateRoom(t, db, "Room")
	booking := testutil.CreateBooking(t, db, testutil.BookingSpec{RoomIDs: []int64{room.ID}, From: "2025-01-01", To: "2025-01-05"})
	m := createMilestone(t, milestones, booking.ID, 1, "50.00")

	txRef := func(s string) *string { return &s }
	newPayment := func(no, status string, txn *string) *models.Payment {
		return &models.Payment{
			PaymentNo:        no,
			BookingID:        booking.ID,
			BookingPaymentID: m.ID,
			PaymentMethod:    models.PaymentMethodCard,
			PaymentType:      models.PaymentTypeBooking,
			Amount:           testutil.Money("50.00"),
			TransactionID:    txn,
			Status:           status,
		}
	}

	require.NoError(t, repo.Create(ctx, newPayment("P1", models.PaymentStatusFailed, txRef("txn-1"))))
	require.NoError(t, repo.Create(ctx, newPayment("P2", models.PaymentStatusPending, nil)))
	require.NoError(t, repo.Create(ctx, newPayment("P3", models.PaymentStatusCompleted, txRef("txn-3"))))

	t.Run("流水号唯一", func(t *testing.T) {
		err := repo.Create(ctx, newPayment("P4", models.PaymentStatusCompleted, txRef("txn-3")))
		assert.Error(t, err)
	})

	t.Run("按流水号查询", func(t *testing.T) {
		got, err := repo.GetByTransactionID(ctx, "txn-1")
		require.NoError(t, err)
		assert.Equal(t, "P1", got.PaymentNo)
	})

	t.Run("统计成功次数", func(t *testing.T) {
		count, err := repo.CountCompleted(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("只删除处理中的尝试", func(t *testing.T) {
		n, err := repo.DeletePendingByMilestones(ctx, []int64{m.ID})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		list, err := repo.ListByMilestone(ctx, m.ID)
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})

	t.Run("空列表不执行删除", func(t *testing.T) {
		n, err := repo.DeletePendingByMilestones(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
