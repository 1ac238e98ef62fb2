// Package sms 短信服务
package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	dysmsapi "github.com/alibabacloud-go/dysmsapi-20170525/v3/client"
	"github.com/alibabacloud-go/tea/tea"
)

// Sender 短信发送器接口，template 为模板键，由实现映射到服务商模板编码
type Sender interface {
	Send(ctx context.Context, phone, template string, params map[string]string) error
}

// 模板键
const (
	TemplateBookingCreated       = "booking_created"
	TemplateVerificationRequired = "verification_required"
	TemplateMilestonePaid        = "milestone_paid"
	TemplateBookingCancelled     = "booking_cancelled"
	TemplateBookingRenewed       = "booking_renewed"
)

// DefaultTemplates 默认模板编码
var DefaultTemplates = map[string]string{
	TemplateBookingCreated:       "SMS_BOOKING_CREATED",
	TemplateVerificationRequired: "SMS_BOOKING_VERIFY",
	TemplateMilestonePaid:        "SMS_MILESTONE_PAID",
	TemplateBookingCancelled:     "SMS_BOOKING_CANCELLED",
	TemplateBookingRenewed:       "SMS_BOOKING_RENEWED",
}

// AliyunConfig 阿里云短信配置
type AliyunConfig struct {
	AccessKeyID     string
	AccessKeySecret string
	SignName        string
	Endpoint        string            // 默认 dysmsapi.aliyuncs.com
	Templates       map[string]string // 覆盖默认模板编码
}

// AliyunSender 阿里云短信发送器
type AliyunSender struct {
	client    *dysmsapi.Client
	signName  string
	templates map[string]string
}

// NewAliyunSender 创建阿里云短信发送器
func NewAliyunSender(cfg *AliyunConfig) (*AliyunSender, error) {
	config := &openapi.Config{
		AccessKeyId:     tea.String(cfg.AccessKeyID),
		AccessKeySecret: tea.String(cfg.AccessKeySecret),
	}
	if cfg.Endpoint != "" {
		config.Endpoint = tea.String(cfg.Endpoint)
	} else {
		config.Endpoint = tea.String("dysmsapi.aliyuncs.com")
	}

	client, err := dysmsapi.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("创建阿里云短信客户端失败: %w", err)
	}

	return &AliyunSender{
		client:    client,
		signName:  cfg.SignName,
		templates: MergeTemplates(cfg.Templates),
	}, nil
}

// MergeTemplates 在默认模板上覆盖配置的模板编码
func MergeTemplates(overrides map[string]string) map[string]string {
	templates := make(map[string]string, len(DefaultTemplates)+len(overrides))
	for k, v := range DefaultTemplates {
		templates[k] = v
	}
	for k, v := range overrides {
		templates[k] = v
	}
	return templates
}

// BuildRequest 构造发送请求
func (s *AliyunSender) BuildRequest(phone, template string, params map[string]string) (*dysmsapi.SendSmsRequest, error) {
	code, ok := s.templates[template]
	if !ok {
		return nil, fmt.Errorf("短信模板未配置: %s", template)
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("序列化参数失败: %w", err)
	}

	return &dysmsapi.SendSmsRequest{
		PhoneNumbers:  tea.String(phone),
		SignName:      tea.String(s.signName),
		TemplateCode:  tea.String(code),
		TemplateParam: tea.String(string(paramsJSON)),
	}, nil
}

// Send 发送短信
func (s *AliyunSender) Send(ctx context.Context, phone, template string, params map[string]string) error {
	req, err := s.BuildRequest(phone, template, params)
	if err != nil {
		return err
	}

	resp, err := s.client.SendSms(req)
	if err != nil {
		return fmt.Errorf("发送短信失败: %w", err)
	}

	if resp.Body == nil || tea.StringValue(resp.Body.Code) != "OK" {
		msg := "未知错误"
		if resp.Body != nil && resp.Body.Message != nil {
			msg = *resp.Body.Message
		}
		return fmt.Errorf("发送短信失败: %s", msg)
	}
	return nil
}

// MockSender 模拟短信发送器（用于开发/测试）
type MockSender struct {
	mu           sync.Mutex
	SentMessages []MockMessage
	// Err 非空时每次发送都返回该错误
	Err error
}

// MockMessage 模拟消息
type MockMessage struct {
	Phone    string
	Template string
	Params   map[string]string
	SentAt   time.Time
}

// NewMockSender 创建模拟发送器
func NewMockSender() *MockSender {
	return &MockSender{
		SentMessages: make([]MockMessage, 0),
	}
}

// Send 模拟发送
func (s *MockSender) Send(ctx context.Context, phone, template string, params map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.SentMessages = append(s.SentMessages, MockMessage{
		Phone:    phone,
		Template: template,
		Params:   params,
		SentAt:   time.Now(),
	})
	return nil
}

// Messages 已发送消息的副本
func (s *MockSender) Messages() []MockMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MockMessage, len(s.SentMessages))
	copy(out, s.SentMessages)
	return out
}
