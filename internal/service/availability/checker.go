// Package availability 提供房间可用性检查与可用日历
package availability

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/room-rental-backend/internal/common/cache"
	"github.com/dumeirei/room-rental-backend/internal/common/errors"
	"github.com/dumeirei/room-rental-backend/internal/common/logger"
	"github.com/dumeirei/room-rental-backend/internal/common/metrics"
	"github.com/dumeirei/room-rental-backend/internal/common/utils"
	"github.com/dumeirei/room-rental-backend/internal/models"
	"github.com/dumeirei/room-rental-backend/internal/repository"
)

const cacheName = "calendar"

// Config 可用性检查配置
type Config struct {
	CalendarMaxDays  int
	CalendarCacheTTL time.Duration
}

// Checker 房间可用性检查
// 两个闭区间 [a1,a2] 与 [b1,b2] 在 a1 <= b2 且 a2 >= b1 时冲突，取消和拒绝的预订不占用房间
type Checker struct {
	bookingRepo *repository.BookingRepository
	roomRepo    *repository.RoomRepository
	redis       *redis.Client
	metrics     *metrics.Metrics
	config      Config
	logger      *zap.Logger
}

// NewChecker 创建可用性检查，redis 为空时日历不走缓存
func NewChecker(
	bookingRepo *repository.BookingRepository,
	roomRepo *repository.RoomRepository,
	rdb *redis.Client,
	m *metrics.Metrics,
	cfg Config,
	log *zap.Logger,
) *Checker {
	if cfg.CalendarMaxDays <= 0 {
		cfg.CalendarMaxDays = 60
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(logger.Module("availability"))
	return &Checker{
		bookingRepo: bookingRepo,
		roomRepo:    roomRepo,
		redis:       rdb,
		metrics:     m,
		config:      cfg,
		logger:      log,
	}
}

// WithTx 返回在事务内查询的检查器
func (c *Checker) WithTx(tx *gorm.DB) *Checker {
	clone := *c
	clone.bookingRepo = c.bookingRepo.WithTx(tx)
	clone.roomRepo = c.roomRepo.WithTx(tx)
	return &clone
}

// Result 面向房客的检查结果，只含是否可用和冲突数量
type Result struct {
	Available     bool  `json:"available"`
	ConflictCount int64 `json:"conflict_count"`
}

// BookingSummary 冲突预订详情，供管理端展示
type BookingSummary struct {
	ID        int64   `json:"id"`
	BookingNo string  `json:"booking_no"`
	FromDate  string  `json:"from_date"`
	ToDate    string  `json:"to_date"`
	Status    string  `json:"status"`
	UserID    int64   `json:"user_id"`
	UserName  string  `json:"user_name,omitempty"`
	UserEmail string  `json:"user_email,omitempty"`
	RoomIDs   []int64 `json:"room_ids"`
}

func validRange(from, to time.Time) (time.Time, time.Time, error) {
	from, to = utils.NormalizeDate(from), utils.NormalizeDate(to)
	if to.Before(from) {
		return from, to, errors.ErrInvalidRange
	}
	return from, to, nil
}

// Check 检查房间集合在 [from, to] 内是否可用
func (c *Checker) Check(ctx context.Context, roomIDs []int64, from, to time.Time, excludeBookingID *int64) (*Result, error) {
	if len(roomIDs) == 0 {
		return nil, errors.ErrRoomsRequired
	}
	from, to, err := validRange(from, to)
	if err != nil {
		return nil, err
	}

	count, err := c.bookingRepo.CountOverlapping(ctx, roomIDs, from, to, excludeBookingID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return &Result{Available: count == 0, ConflictCount: count}, nil
}

// IsAvailable 单个房间是否可用
func (c *Checker) IsAvailable(ctx context.Context, roomID int64, from, to time.Time, excludeBookingID *int64) (bool, error) {
	result, err := c.Check(ctx, []int64{roomID}, from, to, excludeBookingID)
	if err != nil {
		return false, err
	}
	return result.Available, nil
}

// Conflicts 房间集合的冲突预订详情
func (c *Checker) Conflicts(ctx context.Context, roomIDs []int64, from, to time.Time, excludeBookingID *int64) ([]BookingSummary, error) {
	from, to, err := validRange(from, to)
	if err != nil {
		return nil, err
	}

	bookings, err := c.bookingRepo.FindOverlapping(ctx, roomIDs, from, to, excludeBookingID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	list := make([]BookingSummary, 0, len(bookings))
	for _, b := range bookings {
		list = append(list, toSummary(b))
	}
	return list, nil
}

// ConflictingBookings 单个房间的冲突预订详情
func (c *Checker) ConflictingBookings(ctx context.Context, roomID int64, from, to time.Time) ([]BookingSummary, error) {
	return c.Conflicts(ctx, []int64{roomID}, from, to, nil)
}

func toSummary(b *models.Booking) BookingSummary {
	s := BookingSummary{
		ID:        b.ID,
		BookingNo: b.BookingNo,
		Status:    b.Status,
		UserID:    b.UserID,
		RoomIDs:   b.RoomIDs(),
	}
	if b.FromDate != nil {
		s.FromDate = utils.FormatDate(*b.FromDate)
	}
	if b.ToDate != nil {
		s.ToDate = utils.FormatDate(*b.ToDate)
	}
	if b.User != nil {
		s.UserName = b.User.Name
		s.UserEmail = b.User.Email
	}
	return s
}

// CalendarDay 日历中的一天
type CalendarDay struct {
	Date      string `json:"date"`
	Available bool   `json:"available"`
}

// Calendar 房间可用日历
type Calendar struct {
	RoomID    int64         `json:"room_id"`
	StartDate string        `json:"start_date"`
	Days      []CalendarDay `json:"days"`
}

// Calendar 生成从 start 起 days 天的逐日可用视图，天数超过上限时截断
func (c *Checker) Calendar(ctx context.Context, roomID int64, start time.Time, days int) (*Calendar, error) {
	if days <= 0 {
		return nil, errors.ErrInvalidParams.WithMessage("天数必须大于 0")
	}
	if days > c.config.CalendarMaxDays {
		days = c.config.CalendarMaxDays
	}
	start = utils.NormalizeDate(start)
	key := cache.CalendarKey(roomID, utils.FormatDate(start), days)

	if c.redis != nil {
		var cached Calendar
		err := cache.GetJSON(ctx, c.redis, key, &cached)
		switch {
		case err == nil:
			c.metrics.RecordCacheHit(cacheName)
			return &cached, nil
		case stderrors.Is(err, redis.Nil):
			c.metrics.RecordCacheMiss(cacheName)
		default:
			c.logger.Warn("读取日历缓存失败", logger.RoomID(roomID), zap.Error(err))
		}
	}

	exists, err := c.roomRepo.Exists(ctx, roomID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if !exists {
		return nil, errors.ErrRoomNotFound
	}

	end := utils.AddDays(start, days-1)
	bookings, err := c.bookingRepo.FindOverlapping(ctx, []int64{roomID}, start, end, nil)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	cal := &Calendar{
		RoomID:    roomID,
		StartDate: utils.FormatDate(start),
		Days:      make([]CalendarDay, 0, days),
	}
	for i := 0; i < days; i++ {
		day := utils.AddDays(start, i)
		cal.Days = append(cal.Days, CalendarDay{
			Date:      utils.FormatDate(day),
			Available: !occupied(bookings, day),
		})
	}

	if c.redis != nil {
		if err := cache.SetJSON(ctx, c.redis, key, cal, c.config.CalendarCacheTTL); err != nil {
			c.logger.Warn("写入日历缓存失败", logger.RoomID(roomID), zap.Error(err))
		}
	}
	return cal, nil
}

// occupied 预订占用 [from_date, to_date] 内的每一天
func occupied(bookings []*models.Booking, day time.Time) bool {
	for _, b := range bookings {
		if b.FromDate == nil || b.ToDate == nil {
			continue
		}
		from, to := utils.NormalizeDate(*b.FromDate), utils.NormalizeDate(*b.ToDate)
		if !day.Before(from) && !day.After(to) {
			return true
		}
	}
	return false
}

// InvalidateCalendar 清除房间的日历缓存，失败只记录日志
func (c *Checker) InvalidateCalendar(ctx context.Context, roomIDs ...int64) {
	if c.redis == nil {
		return
	}
	for _, id := range roomIDs {
		if _, err := cache.DeleteByPattern(ctx, c.redis, cache.CalendarPattern(id)); err != nil {
			c.logger.Warn("清除日历缓存失败", logger.RoomID(id), zap.Error(err))
		}
	}
}
