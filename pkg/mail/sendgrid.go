// Package mail 提供邮件发送（SendGrid）
package mail

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Attachment 邮件附件，ContentID 非空时作为内嵌图片
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
	ContentID   string
}

// Message 邮件
type Message struct {
	ToEmail     string
	ToName      string
	Subject     string
	PlainText   string
	HTML        string
	Attachments []Attachment
}

// Sender 邮件发送接口
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// Config SendGrid 配置
type Config struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// SendGridSender SendGrid 发送器
type SendGridSender struct {
	client *sendgrid.Client
	from   *sgmail.Email
}

// NewSendGridSender 创建 SendGrid 发送器
func NewSendGridSender(cfg *Config) *SendGridSender {
	return &SendGridSender{
		client: sendgrid.NewSendClient(cfg.APIKey),
		from:   sgmail.NewEmail(cfg.FromName, cfg.FromEmail),
	}
}

// Build 构造 SendGrid 邮件
func (s *SendGridSender) Build(msg *Message) *sgmail.SGMailV3 {
	to := sgmail.NewEmail(msg.ToName, msg.ToEmail)
	m := sgmail.NewSingleEmail(s.from, msg.Subject, to, msg.PlainText, msg.HTML)

	for _, att := range msg.Attachments {
		a := sgmail.NewAttachment()
		a.SetContent(base64.StdEncoding.EncodeToString(att.Content))
		a.SetType(att.ContentType)
		a.SetFilename(att.Filename)
		if att.ContentID != "" {
			a.SetDisposition("inline")
			a.SetContentID(att.ContentID)
		} else {
			a.SetDisposition("attachment")
		}
		m.AddAttachment(a)
	}
	return m
}

// Send 发送邮件，状态码 >= 400 视为失败
func (s *SendGridSender) Send(ctx context.Context, msg *Message) error {
	resp, err := s.client.SendWithContext(ctx, s.Build(msg))
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d, body: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// MockSender 模拟邮件发送器（用于开发/测试）
type MockSender struct {
	mu   sync.Mutex
	sent []SentMessage
	// Err 非空时每次发送都返回该错误
	Err error
}

// SentMessage 已发送的邮件
type SentMessage struct {
	Message
	SentAt time.Time
}

// NewMockSender 创建模拟发送器
func NewMockSender() *MockSender {
	return &MockSender{}
}

// Send 记录邮件
func (s *MockSender) Send(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.sent = append(s.sent, SentMessage{Message: *msg, SentAt: time.Now()})
	return nil
}

// Sent 已发送邮件的副本
func (s *MockSender) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}
