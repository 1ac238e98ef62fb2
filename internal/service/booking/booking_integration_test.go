//go:build integration

package booking

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dumeirei/room-rental-backend/internal/common/errors"
	"github.com/dumeirei/room-rental-backend/internal/common/utils"
	"github.com/dumeirei/room-rental-backend/internal/models"
	"github.com/dumeirei/room-rental-backend/internal/repository"
	"github.com/dumeirei/room-rental-backend/internal/service/availability"
	"github.com/dumeirei/room-rental-backend/internal/service/notify"
	"github.com/dumeirei/room-rental-backend/internal/testutil"
)

func newPostgresService(db *gorm.DB, rdb *redis.Client) *BookingService {
	bookingRepo := repository.NewBookingRepository(db)
	roomRepo := repository.NewRoomRepository(db)
	checker := availability.NewChecker(bookingRepo, roomRepo, rdb, nil, availability.Config{}, nil)
	return NewBookingService(db,
		bookingRepo,
		repository.NewBookingPaymentRepository(db),
		repository.NewPaymentRepository(db),
		roomRepo,
		repository.NewPriceTierRepository(db),
		checker, rdb, notify.NopNotifier{}, nil,
		Config{Currency: "GBP", RoomLockTTL: 10 * time.Second}, nil)
}

// ==================== 并发预订集成测试 ====================

func TestCreateBooking_ConcurrentSameRoom(t *testing.T) {
	db := testutil.NewPostgresDB(t)

	cases := []struct {
		name  string
		redis *redis.Client
	}{
		{"仅数据库行锁", nil},
		{"Redis 房间锁", testutil.NewRedisClient(t)},
	}

	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newPostgresService(db, tc.redis)
			room := testutil.CreateRoom(t, db, fmt.Sprintf("Concurrent Room %d", i),
				testutil.TierSpec{Unit: models.PriceUnitDay, Fixed: "40"})

			const guests = 8
			users := make([]*models.User, guests)
			for n := range users {
				users[n] = testutil.CreateUser(t, db, fmt.Sprintf("guest-%d-%d@example.com", i, n))
			}

			from := utils.AddDays(utils.NormalizeDate(time.Now()), 30)
			to := utils.AddDays(from, 5)

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				succeeded int
				conflicts int
				others    []error
			)
			start := make(chan struct{})
			for _, u := range users {
				wg.Add(1)
				go func(userID int64) {
					defer wg.Done()
					<-start
					_, err := svc.CreateBooking(context.Background(), Actor{UserID: userID}, &CreateBookingRequest{
						RoomIDs:  []int64{room.ID},
						FromDate: from,
						ToDate:   to,
					})
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						succeeded++
					case errors.Is(err, errors.ErrBookingConflict):
						conflicts++
					default:
						others = append(others, err)
					}
				}(u.ID)
			}
			close(start)
			wg.Wait()

			require.Empty(t, others)
			assert.Equal(t, 1, succeeded)
			assert.Equal(t, guests-1, conflicts)

			var count int64
			require.NoError(t, db.Model(&models.BookingRoom{}).Where("room_id = ?", room.ID).Count(&count).Error)
			assert.Equal(t, int64(1), count)
		})
	}
}

func TestCreateBooking_ConcurrentDisjointRanges(t *testing.T) {
	db := testutil.NewPostgresDB(t)
	svc := newPostgresService(db, nil)
	room := testutil.CreateRoom(t, db, "Disjoint Room",
		testutil.TierSpec{Unit: models.PriceUnitDay, Fixed: "40"})
	user := testutil.CreateUser(t, db, "disjoint@example.com")

	base := utils.AddDays(utils.NormalizeDate(time.Now()), 30)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for n := range errs {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			// 相邻区间间隔一天，闭区间不重叠
			from := utils.AddDays(base, n*4)
			_, errs[n] = svc.CreateBooking(context.Background(), Actor{UserID: user.ID}, &CreateBookingRequest{
				RoomIDs:  []int64{room.ID},
				FromDate: from,
				ToDate:   utils.AddDays(from, 2),
			})
		}(n)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}
