package notify

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dumeirei/room-rental-backend/internal/common/metrics"
	"github.com/dumeirei/room-rental-backend/internal/repository"
	"github.com/dumeirei/room-rental-backend/internal/testutil"
	"github.com/dumeirei/room-rental-backend/pkg/mail"
	"github.com/dumeirei/room-rental-backend/pkg/sms"
)

type stubResolver struct {
	recipient *Recipient
	err       error
}

func (r *stubResolver) Resolve(context.Context, int64) (*Recipient, error) {
	return r.recipient, r.err
}

// flakyMailer 前 failures 次发送失败
type flakyMailer struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyMailer) Send(context.Context, *mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("temporary failure")
	}
	return nil
}

func (f *flakyMailer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func guest() *Recipient {
	return &Recipient{Name: "Alice", Email: "alice@example.com", Phone: "+447700900123"}
}

func newTestDispatcher(resolver RecipientResolver, mailer mail.Sender, smsSender sms.Sender) *Dispatcher {
	return NewDispatcher(resolver, mailer, smsSender, metrics.New("test"), Config{
		Workers:     1,
		QueueSize:   8,
		MaxRetries:  2,
		BaseBackoff: time.Millisecond,
		PublicURL:   "https://rooms.example.com/",
	}, nil)
}

// ==================== 投递测试 ====================

func TestDispatcher_Deliver(t *testing.T) {
	t.Run("预订创建发送邮件和短信", func(t *testing.T) {
		mailer := mail.NewMockSender()
		smsSender := sms.NewMockSender()
		d := newTestDispatcher(&stubResolver{recipient: guest()}, mailer, smsSender)

		d.Notify(context.Background(), Event{
			Type:      EventBookingCreated,
			UserID:    1,
			BookingID: 10,
			BookingNo: "BK001",
			FromDate:  testutil.DatePtr("2025-01-01"),
			ToDate:    testutil.DatePtr("2025-01-29"),
			Amount:    testutil.Money("900"),
			Currency:  "GBP",
		})
		d.Close()

		sent := mailer.Sent()
		require.Len(t, sent, 1)
		assert.Equal(t, "alice@example.com", sent[0].ToEmail)
		assert.Contains(t, sent[0].Subject, "BK001")
		assert.Contains(t, sent[0].PlainText, "2025-01-01 to 2025-01-29")
		assert.Contains(t, sent[0].HTML, "Hi Alice")
		assert.Empty(t, sent[0].Attachments)

		msgs := smsSender.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, sms.TemplateBookingCreated, msgs[0].Template)
		assert.Equal(t, "BK001", msgs[0].Params["booking_no"])
	})

	t.Run("核验邮件附带二维码", func(t *testing.T) {
		mailer := mail.NewMockSender()
		d := newTestDispatcher(&stubResolver{recipient: guest()}, mailer, nil)

		d.Notify(context.Background(), Event{
			Type:              EventVerificationRequired,
			BookingNo:         "BK002",
			VerificationToken: "tok-123",
		})
		d.Close()

		sent := mailer.Sent()
		require.Len(t, sent, 1)
		link := "https://rooms.example.com/api/v1/bookings/verify?token=tok-123"
		assert.Contains(t, sent[0].PlainText, link)
		assert.Contains(t, sent[0].HTML, "cid:verification-qr")

		require.Len(t, sent[0].Attachments, 1)
		att := sent[0].Attachments[0]
		assert.Equal(t, "verification-qr", att.ContentID)
		assert.Equal(t, "image/png", att.ContentType)
		// PNG 文件头
		assert.True(t, strings.HasPrefix(string(att.Content), "\x89PNG"))
		img, err := png.Decode(bytes.NewReader(att.Content))
		require.NoError(t, err)
		assert.Equal(t, 256, img.Bounds().Dx())
	})

	t.Run("无手机号跳过短信", func(t *testing.T) {
		mailer := mail.NewMockSender()
		smsSender := sms.NewMockSender()
		r := guest()
		r.Phone = ""
		d := newTestDispatcher(&stubResolver{recipient: r}, mailer, smsSender)

		d.Notify(context.Background(), Event{Type: EventBookingCancelled, BookingNo: "BK003", Reason: "plans changed"})
		d.Close()

		require.Len(t, mailer.Sent(), 1)
		assert.Contains(t, mailer.Sent()[0].PlainText, "Reason: plans changed")
		assert.Empty(t, smsSender.Messages())
	})

	t.Run("邮箱格式无效只发短信", func(t *testing.T) {
		mailer := mail.NewMockSender()
		smsSender := sms.NewMockSender()
		r := guest()
		r.Email = "alice@localhost"
		d := newTestDispatcher(&stubResolver{recipient: r}, mailer, smsSender)

		d.Notify(context.Background(), Event{Type: EventBookingCancelled, BookingNo: "BK008"})
		d.Close()

		assert.Empty(t, mailer.Sent())
		assert.Len(t, smsSender.Messages(), 1)
	})

	t.Run("接收人查找失败不发送", func(t *testing.T) {
		mailer := mail.NewMockSender()
		d := newTestDispatcher(&stubResolver{err: errors.New("not found")}, mailer, nil)

		d.Notify(context.Background(), Event{Type: EventMilestonePaid, BookingNo: "BK004"})
		d.Close()

		assert.Empty(t, mailer.Sent())
	})

	t.Run("未知事件类型不发送", func(t *testing.T) {
		mailer := mail.NewMockSender()
		d := newTestDispatcher(&stubResolver{recipient: guest()}, mailer, nil)

		d.Notify(context.Background(), Event{Type: "unknown"})
		d.Close()

		assert.Empty(t, mailer.Sent())
	})
}

// ==================== 重试测试 ====================

func TestDispatcher_Retry(t *testing.T) {
	t.Run("失败后重试成功", func(t *testing.T) {
		mailer := &flakyMailer{failures: 2}
		d := newTestDispatcher(&stubResolver{recipient: guest()}, mailer, nil)

		d.Notify(context.Background(), Event{Type: EventMilestonePaid, BookingNo: "BK005", MilestoneNumber: 2})
		d.Close()

		assert.Equal(t, 3, mailer.Calls())
	})

	t.Run("超过重试次数后放弃", func(t *testing.T) {
		mailer := &flakyMailer{failures: 10}
		d := newTestDispatcher(&stubResolver{recipient: guest()}, mailer, nil)

		d.Notify(context.Background(), Event{Type: EventMilestonePaid, BookingNo: "BK006"})
		d.Close()

		// 首次 + 2 次重试
		assert.Equal(t, 3, mailer.Calls())
	})

	t.Run("邮件失败不影响短信", func(t *testing.T) {
		mailer := mail.NewMockSender()
		mailer.Err = errors.New("sendgrid down")
		smsSender := sms.NewMockSender()
		d := newTestDispatcher(&stubResolver{recipient: guest()}, mailer, smsSender)

		d.Notify(context.Background(), Event{Type: EventBookingRenewed, BookingNo: "BK007",
			FromDate: testutil.DatePtr("2025-02-01"), ToDate: testutil.DatePtr("2025-03-31")})
		d.Close()

		msgs := smsSender.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "2025-03-31", msgs[0].Params["to_date"])
	})
}

// ==================== 关闭测试 ====================

func TestDispatcher_Close(t *testing.T) {
	t.Run("关闭时处理完队列", func(t *testing.T) {
		mailer := mail.NewMockSender()
		d := newTestDispatcher(&stubResolver{recipient: guest()}, mailer, nil)

		for i := 0; i < 5; i++ {
			d.Notify(context.Background(), Event{Type: EventBookingCancelled, BookingNo: "BK"})
		}
		d.Close()

		assert.Len(t, mailer.Sent(), 5)
	})

	t.Run("关闭后丢弃事件且可重复关闭", func(t *testing.T) {
		mailer := mail.NewMockSender()
		d := newTestDispatcher(&stubResolver{recipient: guest()}, mailer, nil)
		d.Close()

		d.Notify(context.Background(), Event{Type: EventBookingCancelled})
		d.Close()

		assert.Empty(t, mailer.Sent())
	})
}

// ==================== 接收人解析测试 ====================

func TestUserResolver_Resolve(t *testing.T) {
	db := testutil.NewTestDB(t)
	user := testutil.CreateUser(t, db, "bob@example.com")
	resolver := NewUserResolver(repository.NewUserRepository(db))

	t.Run("解析用户联系方式", func(t *testing.T) {
		r, err := resolver.Resolve(context.Background(), user.ID)
		require.NoError(t, err)
		assert.Equal(t, "bob@example.com", r.Email)
		assert.Equal(t, "+447700900123", r.Phone)
	})

	t.Run("用户不存在", func(t *testing.T) {
		_, err := resolver.Resolve(context.Background(), 9999)
		assert.Error(t, err)
	})
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder(2)
	rec.Notify(context.Background(), Event{Type: EventBookingCreated})
	rec.Notify(context.Background(), Event{Type: EventMilestonePaid})
	rec.Notify(context.Background(), Event{Type: EventBookingCancelled})

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventBookingCreated, events[0].Type)
	assert.Empty(t, rec.Events())
}
