// Package notify 异步分发预订相关的邮件和短信通知
package notify

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventType 通知事件类型
type EventType string

const (
	EventBookingCreated       EventType = "booking_created"
	EventVerificationRequired EventType = "verification_required"
	EventMilestonePaid        EventType = "milestone_paid"
	EventBookingCancelled     EventType = "booking_cancelled"
	EventBookingRenewed       EventType = "booking_renewed"
)

// Event 通知事件，由业务在提交事务后发出
type Event struct {
	Type              EventType
	UserID            int64
	BookingID         int64
	BookingNo         string
	FromDate          *time.Time
	ToDate            *time.Time
	MilestoneID       int64
	MilestoneNumber   int
	Amount            decimal.Decimal
	Currency          string
	VerificationToken string
	Reason            string
	OccurredAt        time.Time
}

// Notifier 通知出口，实现不得阻塞调用方，也不向调用方返回投递错误
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// NopNotifier 丢弃所有事件
type NopNotifier struct{}

// Notify 实现 Notifier
func (NopNotifier) Notify(context.Context, Event) {}

// Recorder 记录事件，用于测试
type Recorder struct {
	ch chan Event
}

// NewRecorder 创建事件记录器
func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Event, size)}
}

// Notify 实现 Notifier，缓冲满时丢弃
func (r *Recorder) Notify(_ context.Context, event Event) {
	select {
	case r.ch <- event:
	default:
	}
}

// Events 取出已记录的事件
func (r *Recorder) Events() []Event {
	var out []Event
	for {
		select {
		case e := <-r.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}
