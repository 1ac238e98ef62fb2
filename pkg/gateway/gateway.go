// Package gateway 提供支付网关回调的签名校验与解析
package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// 回调请求头
const (
	HeaderSignature = "X-Gateway-Signature"
	HeaderTimestamp = "X-Gateway-Timestamp"
)

// 支付结果
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

var (
	ErrMissingSignature = errors.New("gateway: missing signature or timestamp")
	ErrTimestampSkew    = errors.New("gateway: timestamp outside tolerance")
	ErrSignatureInvalid = errors.New("gateway: signature mismatch")
)

// Event 网关回调事件
type Event struct {
	TransactionRef string          `json:"transaction_ref"`
	BookingID      int64           `json:"booking_id"`
	MilestoneID    int64           `json:"milestone_id"`
	Method         string          `json:"method"`
	Outcome        string          `json:"outcome"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency,omitempty"`
}

// Verifier 回调签名校验器
type Verifier struct {
	secret []byte
	skew   time.Duration
	now    func() time.Time
}

// NewVerifier 创建校验器，skew 为 0 时不校验时间偏差
func NewVerifier(secret string, skew time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), skew: skew, now: time.Now}
}

// Sign 计算签名：hex(HMAC-SHA256(secret, timestamp + "." + body))
func (v *Verifier) Sign(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify 校验回调签名与时间戳
func (v *Verifier) Verify(signature, timestamp string, body []byte) error {
	if signature == "" || timestamp == "" {
		return ErrMissingSignature
	}

	if v.skew > 0 {
		sec, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return fmt.Errorf("gateway: invalid timestamp %q: %w", timestamp, err)
		}
		diff := v.now().Sub(time.Unix(sec, 0))
		if diff < 0 {
			diff = -diff
		}
		if diff > v.skew {
			return ErrTimestampSkew
		}
	}

	expected, err := hex.DecodeString(v.Sign(timestamp, body))
	if err != nil {
		return err
	}
	got, err := hex.DecodeString(signature)
	if err != nil || !hmac.Equal(expected, got) {
		return ErrSignatureInvalid
	}
	return nil
}

// ParseEvent 解析回调事件
func ParseEvent(body []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("parse gateway event error: %w", err)
	}
	if event.TransactionRef == "" {
		return nil, errors.New("gateway: transaction_ref is required")
	}
	if event.MilestoneID == 0 {
		return nil, errors.New("gateway: milestone_id is required")
	}
	return &event, nil
}
