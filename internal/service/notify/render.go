package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"github.com/dumeirei/room-rental-backend/internal/common/utils"
	"github.com/dumeirei/room-rental-backend/pkg/mail"
	"github.com/dumeirei/room-rental-backend/pkg/sms"
)

// 核验邮件内嵌二维码的 Content-ID
const verificationQRContentID = "verification-qr"

// Recipient 通知接收人
type Recipient struct {
	Name  string
	Email string
	Phone string
}

// rendered 一个事件渲染后的各渠道内容
type rendered struct {
	mail        *mail.Message
	smsTemplate string
	smsParams   map[string]string
}

var htmlLayout = template.Must(template.New("mail").Parse(`<html><body>
<p>Hi {{.Name}},</p>
{{range .Lines}}<p>{{.}}</p>
{{end}}{{if .Link}}<p><a href="{{.Link}}">{{.LinkText}}</a></p>
{{end}}{{if .QRContentID}}<p><img src="cid:{{.QRContentID}}" alt="verification QR code" width="200" height="200"></p>
{{end}}</body></html>`))

type layoutData struct {
	Name        string
	Lines       []string
	Link        string
	LinkText    string
	QRContentID string
}

// verificationLink 核验链接
func verificationLink(publicURL, token string) string {
	return strings.TrimRight(publicURL, "/") + "/api/v1/bookings/verify?token=" + url.QueryEscape(token)
}

func dateRange(e Event) string {
	if e.FromDate == nil || e.ToDate == nil {
		return ""
	}
	return utils.FormatDate(*e.FromDate) + " to " + utils.FormatDate(*e.ToDate)
}

// render 渲染事件
func (d *Dispatcher) render(e Event, r *Recipient) (*rendered, error) {
	data := layoutData{Name: r.Name}
	params := map[string]string{"booking_no": e.BookingNo}
	var subject, tpl string

	switch e.Type {
	case EventBookingCreated:
		subject = fmt.Sprintf("Booking %s received", e.BookingNo)
		data.Lines = []string{
			fmt.Sprintf("We have received your booking %s for %s.", e.BookingNo, dateRange(e)),
			fmt.Sprintf("Total amount: %s.", utils.FormatMoney(e.Currency, e.Amount)),
		}
		tpl = sms.TemplateBookingCreated
		params["amount"] = utils.FormatMoney(e.Currency, e.Amount)
	case EventVerificationRequired:
		link := verificationLink(d.cfg.PublicURL, e.VerificationToken)
		subject = fmt.Sprintf("Please verify booking %s", e.BookingNo)
		data.Lines = []string{
			fmt.Sprintf("Please confirm booking %s for %s.", e.BookingNo, dateRange(e)),
			"The link expires in 24 hours. You can also scan the QR code below.",
		}
		data.Link = link
		data.LinkText = "Verify booking"
		data.QRContentID = verificationQRContentID
		tpl = sms.TemplateVerificationRequired
		params["link"] = link
	case EventMilestonePaid:
		subject = fmt.Sprintf("Payment received for booking %s", e.BookingNo)
		data.Lines = []string{
			fmt.Sprintf("We received %s for payment #%d of booking %s.",
				utils.FormatMoney(e.Currency, e.Amount), e.MilestoneNumber, e.BookingNo),
		}
		tpl = sms.TemplateMilestonePaid
		params["amount"] = utils.FormatMoney(e.Currency, e.Amount)
		params["milestone"] = fmt.Sprintf("%d", e.MilestoneNumber)
	case EventBookingCancelled:
		subject = fmt.Sprintf("Booking %s cancelled", e.BookingNo)
		data.Lines = []string{fmt.Sprintf("Your booking %s has been cancelled.", e.BookingNo)}
		if e.Reason != "" {
			data.Lines = append(data.Lines, "Reason: "+e.Reason)
		}
		tpl = sms.TemplateBookingCancelled
	case EventBookingRenewed:
		subject = fmt.Sprintf("Booking %s renewed", e.BookingNo)
		data.Lines = []string{
			fmt.Sprintf("Your booking %s has been renewed and now runs %s.", e.BookingNo, dateRange(e)),
			fmt.Sprintf("A new payment of %s has been scheduled.", utils.FormatMoney(e.Currency, e.Amount)),
		}
		tpl = sms.TemplateBookingRenewed
		if e.ToDate != nil {
			params["to_date"] = utils.FormatDate(*e.ToDate)
		}
		params["amount"] = utils.FormatMoney(e.Currency, e.Amount)
	default:
		return nil, fmt.Errorf("unknown event type: %s", e.Type)
	}

	var html bytes.Buffer
	if err := htmlLayout.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("render mail: %w", err)
	}

	plain := strings.Join(data.Lines, "\n")
	if data.Link != "" {
		plain += "\n" + data.Link
	}

	msg := &mail.Message{
		ToEmail:   r.Email,
		ToName:    r.Name,
		Subject:   subject,
		PlainText: plain,
		HTML:      html.String(),
	}

	if data.QRContentID != "" {
		png, err := d.qr.GeneratePNG(data.Link)
		if err != nil {
			return nil, fmt.Errorf("generate qr code: %w", err)
		}
		msg.Attachments = append(msg.Attachments, mail.Attachment{
			Filename:    "verify.png",
			ContentType: "image/png",
			Content:     png,
			ContentID:   data.QRContentID,
		})
	}

	return &rendered{mail: msg, smsTemplate: tpl, smsParams: params}, nil
}
