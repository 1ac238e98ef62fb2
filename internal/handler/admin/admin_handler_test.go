package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dumeirei/room-rental-backend/internal/common/errors"
	"github.com/dumeirei/room-rental-backend/internal/common/jwt"
	"github.com/dumeirei/room-rental-backend/internal/middleware"
	"github.com/dumeirei/room-rental-backend/internal/models"
	"github.com/dumeirei/room-rental-backend/internal/repository"
	"github.com/dumeirei/room-rental-backend/internal/service/availability"
	bookingService "github.com/dumeirei/room-rental-backend/internal/service/booking"
	"github.com/dumeirei/room-rental-backend/internal/service/notify"
	roomService "github.com/dumeirei/room-rental-backend/internal/service/room"
	"github.com/dumeirei/room-rental-backend/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	router *gin.Engine
	db     *gorm.DB
	room   *models.Room
}

// asRole 以请求头指定的身份访问
func asRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		if role := c.GetHeader("X-Test-Role"); role != "" {
			c.Set(middleware.ContextKeyUserID, int64(1))
			c.Set(middleware.ContextKeyUserType, role)
		}
		c.Next()
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db := testutil.NewTestDB(t)
	bookingRepo := repository.NewBookingRepository(db)
	roomRepo := repository.NewRoomRepository(db)
	tierRepo := repository.NewPriceTierRepository(db)
	checker := availability.NewChecker(bookingRepo, roomRepo, nil, nil, availability.Config{}, nil)
	bookingSvc := bookingService.NewBookingService(db, bookingRepo,
		repository.NewBookingPaymentRepository(db), repository.NewPaymentRepository(db),
		roomRepo, tierRepo, checker, nil, notify.NopNotifier{}, nil, bookingService.Config{}, nil)
	tierSvc := roomService.NewPriceTierService(roomRepo, tierRepo, nil)

	router := gin.New()
	admin := router.Group("/api/admin", asRole())
	NewBookingHandler(bookingSvc, checker).RegisterRoutes(admin)
	NewPriceTierHandler(tierSvc).RegisterRoutes(admin)

	return &testServer{router: router, db: db, room: testutil.CreateRoom(t, db, "Room 1")}
}

func (s *testServer) do(t *testing.T, method, path, role string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("X-Test-Role", role)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

// ==================== 预订管理测试 ====================

func TestBookingHandler_ListAndReject(t *testing.T) {
	s := newTestServer(t)
	b1 := testutil.CreateBooking(t, s.db, testutil.BookingSpec{
		RoomIDs: []int64{s.room.ID}, From: "2025-03-01", To: "2025-03-10", Status: models.BookingStatusPendingPayment,
	})
	testutil.CreateBooking(t, s.db, testutil.BookingSpec{
		RoomIDs: []int64{s.room.ID}, From: "2025-05-01", To: "2025-05-10",
	})

	t.Run("非管理员", func(t *testing.T) {
		w, _ := s.do(t, http.MethodGet, "/api/admin/bookings", jwt.UserTypeUser, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("全部与过滤", func(t *testing.T) {
		_, resp := s.do(t, http.MethodGet, "/api/admin/bookings", jwt.UserTypeAdmin, nil)
		require.Equal(t, 0, resp.Code, resp.Message)
		var page struct {
			Total int64 `json:"total"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &page))
		assert.Equal(t, int64(2), page.Total)

		_, resp = s.do(t, http.MethodGet, "/api/admin/bookings?status="+models.BookingStatusPendingPayment, jwt.UserTypeAdmin, nil)
		require.NoError(t, json.Unmarshal(resp.Data, &page))
		assert.Equal(t, int64(1), page.Total)
	})

	t.Run("无效日期过滤", func(t *testing.T) {
		w, _ := s.do(t, http.MethodGet, "/api/admin/bookings?from_date=03-01", jwt.UserTypeAdmin, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	path := "/api/admin/bookings/" + strconv.FormatInt(b1.ID, 10)

	t.Run("拒绝需要原因", func(t *testing.T) {
		w, _ := s.do(t, http.MethodPost, path+"/reject", jwt.UserTypeAdmin, gin.H{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("拒绝", func(t *testing.T) {
		_, resp := s.do(t, http.MethodPost, path+"/reject", jwt.UserTypeAdmin, gin.H{"reason": "documents missing"})
		require.Equal(t, 0, resp.Code, resp.Message)
		var b models.Booking
		require.NoError(t, json.Unmarshal(resp.Data, &b))
		assert.Equal(t, models.BookingStatusRejected, b.Status)

		_, resp = s.do(t, http.MethodGet, path, jwt.UserTypeAdmin, nil)
		require.Equal(t, 0, resp.Code)
		var detail bookingService.BookingDetail
		require.NoError(t, json.Unmarshal(resp.Data, &detail))
		assert.Equal(t, models.BookingStatusRejected, detail.Status)
	})
}

func TestBookingHandler_RoomConflicts(t *testing.T) {
	s := newTestServer(t)
	b := testutil.CreateBooking(t, s.db, testutil.BookingSpec{
		RoomIDs: []int64{s.room.ID}, From: "2025-03-01", To: "2025-03-10",
	})
	testutil.CreateBooking(t, s.db, testutil.BookingSpec{
		RoomIDs: []int64{s.room.ID}, From: "2025-03-05", To: "2025-03-06", Status: models.BookingStatusCancelled,
	})
	base := "/api/admin/rooms/" + strconv.FormatInt(s.room.ID, 10) + "/conflicts"

	_, resp := s.do(t, http.MethodGet, base+"?from_date=2025-03-10&to_date=2025-03-12", jwt.UserTypeAdmin, nil)
	require.Equal(t, 0, resp.Code, resp.Message)
	var conflicts []availability.BookingSummary
	require.NoError(t, json.Unmarshal(resp.Data, &conflicts))
	require.Len(t, conflicts, 1)
	assert.Equal(t, b.ID, conflicts[0].ID)
	assert.Equal(t, "2025-03-01", conflicts[0].FromDate)

	_, resp = s.do(t, http.MethodGet, base+"?from_date=2025-03-11&to_date=2025-03-12", jwt.UserTypeAdmin, nil)
	require.NoError(t, json.Unmarshal(resp.Data, &conflicts))
	assert.Empty(t, conflicts)
}

// ==================== 价格档位测试 ====================

func TestPriceTierHandler(t *testing.T) {
	s := newTestServer(t)
	base := "/api/admin/rooms/" + strconv.FormatInt(s.room.ID, 10) + "/price-tiers"

	_, resp := s.do(t, http.MethodPut, base, jwt.UserTypeAdmin, gin.H{
		"unit": "month", "fixed_price": "900", "discount_price": "850", "booking_price": "100",
	})
	require.Equal(t, 0, resp.Code, resp.Message)
	var tier models.RoomPriceTier
	require.NoError(t, json.Unmarshal(resp.Data, &tier))
	assert.Equal(t, models.PriceUnitMonth, tier.Unit)
	assert.Equal(t, "850.00", tier.UnitPrice().StringFixed(2))

	_, resp = s.do(t, http.MethodPut, base, jwt.UserTypeAdmin, gin.H{"unit": "day", "fixed_price": "35"})
	require.Equal(t, 0, resp.Code, resp.Message)

	_, resp = s.do(t, http.MethodGet, base, jwt.UserTypeAdmin, nil)
	var tiers []models.RoomPriceTier
	require.NoError(t, json.Unmarshal(resp.Data, &tiers))
	assert.Len(t, tiers, 2)

	t.Run("无效档位", func(t *testing.T) {
		_, resp := s.do(t, http.MethodPut, base, jwt.UserTypeAdmin, gin.H{"unit": "year", "fixed_price": "1"})
		assert.Equal(t, errors.ErrPriceTierInvalid.Code, resp.Code)
	})

	t.Run("缺少单位", func(t *testing.T) {
		w, _ := s.do(t, http.MethodPut, base, jwt.UserTypeAdmin, gin.H{"fixed_price": "1"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("删除", func(t *testing.T) {
		_, resp := s.do(t, http.MethodDelete, base+"/day", jwt.UserTypeAdmin, nil)
		require.Equal(t, 0, resp.Code, resp.Message)
		_, resp = s.do(t, http.MethodDelete, base+"/day", jwt.UserTypeAdmin, nil)
		assert.Equal(t, errors.ErrNotFound.Code, resp.Code)
	})

	t.Run("房间不存在", func(t *testing.T) {
		_, resp := s.do(t, http.MethodGet, "/api/admin/rooms/9999/price-tiers", jwt.UserTypeAdmin, nil)
		assert.Equal(t, errors.ErrRoomNotFound.Code, resp.Code)
	})
}
