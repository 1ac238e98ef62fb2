package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dumeirei/room-rental-backend/internal/common/logger"
	"github.com/dumeirei/room-rental-backend/internal/common/metrics"
	"github.com/dumeirei/room-rental-backend/internal/common/qrcode"
	"github.com/dumeirei/room-rental-backend/internal/common/utils"
	"github.com/dumeirei/room-rental-backend/internal/repository"
	"github.com/dumeirei/room-rental-backend/pkg/mail"
	"github.com/dumeirei/room-rental-backend/pkg/sms"
)

// 渠道名
const (
	ChannelMail = "mail"
	ChannelSMS  = "sms"
)

// RecipientResolver 根据用户 ID 查找通知接收人
type RecipientResolver interface {
	Resolve(ctx context.Context, userID int64) (*Recipient, error)
}

// UserResolver 从用户表查找接收人
type UserResolver struct {
	repo *repository.UserRepository
}

// NewUserResolver 创建用户接收人解析器
func NewUserResolver(repo *repository.UserRepository) *UserResolver {
	return &UserResolver{repo: repo}
}

// Resolve 实现 RecipientResolver
func (r *UserResolver) Resolve(ctx context.Context, userID int64) (*Recipient, error) {
	user, err := r.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Recipient{
		Name:  user.Name,
		Email: user.Email,
		Phone: utils.SafeString(user.Phone),
	}, nil
}

// Config 分发器配置
type Config struct {
	Workers     int
	QueueSize   int
	MaxRetries  int
	BaseBackoff time.Duration
	SendTimeout time.Duration
	PublicURL   string
}

// Dispatcher 通知分发器：事件进入缓冲队列，由后台 worker 渲染并投递
// 投递失败按指数退避重试，最终失败只记录日志
type Dispatcher struct {
	queue    chan Event
	resolver RecipientResolver
	mailer   mail.Sender
	sms      sms.Sender
	qr       *qrcode.Generator
	cfg      Config
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher 创建并启动分发器，mailer 或 smsSender 为空时跳过对应渠道
func NewDispatcher(
	resolver RecipientResolver,
	mailer mail.Sender,
	smsSender sms.Sender,
	m *metrics.Metrics,
	cfg Config,
	log *zap.Logger,
) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(logger.Module("notify"))

	d := &Dispatcher{
		queue:    make(chan Event, cfg.QueueSize),
		resolver: resolver,
		mailer:   mailer,
		sms:      smsSender,
		qr:       qrcode.NewGenerator(qrcode.WithSize(256), qrcode.WithRecoveryLevel(qrcode.High)),
		cfg:      cfg,
		metrics:  m,
		logger:   log,
	}

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Notify 入队，不阻塞；队列已满或已关闭时丢弃并记录
func (d *Dispatcher) Notify(_ context.Context, event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("通知分发器已关闭，丢弃事件",
			zap.String("event", string(event.Type)), logger.BookingID(event.BookingID))
		return
	}

	select {
	case d.queue <- event:
	default:
		d.metrics.RecordNotification("queue", "dropped")
		d.logger.Warn("通知队列已满，丢弃事件",
			zap.String("event", string(event.Type)), logger.BookingID(event.BookingID))
	}
}

// Close 停止接收新事件并等待队列中的事件投递完成
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for event := range d.queue {
		d.deliver(event)
	}
}

// deliver 投递单个事件，panic 不影响 worker
func (d *Dispatcher) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("通知投递 panic",
				zap.String("event", string(event.Type)), logger.BookingID(event.BookingID), zap.Any("panic", r))
		}
	}()

	ctx := context.Background()
	log := d.logger.With(zap.String("event", string(event.Type)), logger.BookingID(event.BookingID))

	recipient, err := d.resolver.Resolve(ctx, event.UserID)
	if err != nil {
		log.Warn("查找通知接收人失败", logger.UserID(event.UserID), zap.Error(err))
		return
	}

	content, err := d.render(event, recipient)
	if err != nil {
		log.Error("渲染通知失败", zap.Error(err))
		return
	}

	if d.mailer != nil && recipient.Email != "" {
		if utils.ValidateEmail(recipient.Email) {
			d.withRetry(ctx, ChannelMail, log, func(ctx context.Context) error {
				return d.mailer.Send(ctx, content.mail)
			})
		} else {
			log.Warn("收件邮箱格式无效，跳过邮件", logger.UserID(event.UserID))
		}
	}
	if d.sms != nil && recipient.Phone != "" {
		d.withRetry(ctx, ChannelSMS, log, func(ctx context.Context) error {
			return d.sms.Send(ctx, recipient.Phone, content.smsTemplate, content.smsParams)
		})
	}
}

// withRetry 按 base * 2^n 退避重试
func (d *Dispatcher) withRetry(ctx context.Context, channel string, log *zap.Logger, send func(ctx context.Context) error) {
	var err error
	backoff := d.cfg.BaseBackoff
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}

		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		err = send(sendCtx)
		cancel()
		if err == nil {
			d.metrics.RecordNotification(channel, "sent")
			return
		}
		log.Debug("通知发送失败，准备重试", zap.String("channel", channel), zap.Int("attempt", attempt+1), zap.Error(err))
	}

	d.metrics.RecordNotification(channel, "failed")
	log.Warn("通知发送失败", zap.String("channel", channel), zap.Int("attempts", d.cfg.MaxRetries+1), zap.Error(err))
}
