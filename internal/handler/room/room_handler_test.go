package room

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dumeirei/room-rental-backend/internal/common/errors"
	"github.com/dumeirei/room-rental-backend/internal/repository"
	"github.com/dumeirei/room-rental-backend/internal/service/availability"
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

func setupRouter(t *testing.T) (*gin.Engine, int64) {
	t.Helper()

	db := testutil.NewTestDB(t)
	checker := availability.NewChecker(repository.NewBookingRepository(db), repository.NewRoomRepository(db),
		nil, nil, availability.Config{CalendarMaxDays: 14}, nil)
	room := testutil.CreateRoom(t, db, "Room 1")
	testutil.CreateBooking(t, db, testutil.BookingSpec{RoomIDs: []int64{room.ID}, From: "2025-03-10", To: "2025-03-15"})

	router := gin.New()
	NewRoomHandler(checker).RegisterRoutes(router.Group("/api/v1"))
	return router, room.ID
}

func get(t *testing.T, router *gin.Engine, path string) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

// ==================== Availability 测试 ====================

func TestRoomHandler_Availability(t *testing.T) {
	router, roomID := setupRouter(t)
	base := "/api/v1/rooms/" + strconv.FormatInt(roomID, 10) + "/availability"

	tests := []struct {
		name      string
		query     string
		available bool
	}{
		{"区间之前", "?from_date=2025-03-01&to_date=2025-03-09", true},
		{"首日重叠", "?from_date=2025-03-01&to_date=2025-03-10", false},
		{"末日重叠", "?from_date=2025-03-15&to_date=2025-03-20", false},
		{"区间之后", "?from_date=2025-03-16&to_date=2025-03-20", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp := get(t, router, base+tt.query)
			require.Equal(t, 0, resp.Code, resp.Message)
			var result availability.Result
			require.NoError(t, json.Unmarshal(resp.Data, &result))
			assert.Equal(t, tt.available, result.Available)
		})
	}

	t.Run("缺少日期", func(t *testing.T) {
		w, _ := get(t, router, base+"?from_date=2025-03-01")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("区间颠倒", func(t *testing.T) {
		_, resp := get(t, router, base+"?from_date=2025-03-20&to_date=2025-03-01")
		assert.Equal(t, errors.ErrInvalidRange.Code, resp.Code)
	})

	t.Run("无效房间ID", func(t *testing.T) {
		w, _ := get(t, router, "/api/v1/rooms/0/availability?from_date=2025-03-01&to_date=2025-03-02")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

// ==================== Calendar 测试 ====================

func TestRoomHandler_Calendar(t *testing.T) {
	router, roomID := setupRouter(t)
	base := "/api/v1/rooms/" + strconv.FormatInt(roomID, 10) + "/calendar"

	_, resp := get(t, router, base+"?start_date=2025-03-08&days=5")
	require.Equal(t, 0, resp.Code, resp.Message)
	var cal availability.Calendar
	require.NoError(t, json.Unmarshal(resp.Data, &cal))
	require.Len(t, cal.Days, 5)
	assert.True(t, cal.Days[0].Available)
	assert.True(t, cal.Days[1].Available)
	assert.False(t, cal.Days[2].Available)
	assert.Equal(t, "2025-03-10", cal.Days[2].Date)

	t.Run("天数超过上限截断", func(t *testing.T) {
		_, resp := get(t, router, base+"?start_date=2025-03-01&days=90")
		var cal availability.Calendar
		require.NoError(t, json.Unmarshal(resp.Data, &cal))
		assert.Len(t, cal.Days, 14)
	})

	t.Run("默认天数", func(t *testing.T) {
		_, resp := get(t, router, base+"?start_date=2025-03-01")
		var cal availability.Calendar
		require.NoError(t, json.Unmarshal(resp.Data, &cal))
		assert.Len(t, cal.Days, 14)
	})

	t.Run("无效天数", func(t *testing.T) {
		w, _ := get(t, router, base+"?start_date=2025-03-01&days=abc")
		assert.Equal(t, http.StatusBadRequest, w.Code)

		_, resp := get(t, router, base+"?start_date=2025-03-01&days=0")
		assert.Equal(t, errors.ErrInvalidParams.Code, resp.Code)
	})
}
