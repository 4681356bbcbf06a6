package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/jordan-wright/email"

	"github.com/donaldgifford/price-watch/internal/metrics"
)

// SMTPConfig holds the settings for sending alert mail.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	StartTLS bool
}

// sendFunc delivers a composed message.
type sendFunc func(e *email.Email, addr string, auth smtp.Auth, startTLS bool, host string) error

func smtpSend(e *email.Email, addr string, auth smtp.Auth, startTLS bool, host string) error {
	if startTLS {
		return e.SendWithStartTLS(addr, auth, &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12})
	}
	err := e.Send(addr, auth)
	// Local relays often refuse AUTH; retry unauthenticated.
	if err != nil && auth != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		return e.Send(addr, nil)
	}
	return err
}

// EmailNotifier implements Notifier over SMTP.
type EmailNotifier struct {
	cfg  SMTPConfig
	send sendFunc
}

// EmailOption configures an EmailNotifier.
type EmailOption func(*EmailNotifier)

func withSender(fn sendFunc) EmailOption {
	return func(n *EmailNotifier) {
		n.send = fn
	}
}

// NewEmailNotifier creates an EmailNotifier.
func NewEmailNotifier(cfg SMTPConfig, opts ...EmailOption) *EmailNotifier {
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	n := &EmailNotifier{cfg: cfg, send: smtpSend}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

var alertTemplate = template.Must(template.New("alert").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"></head>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
{{range .}}<div style="background: #f5f5f5; padding: 20px; border-radius: 10px; margin-bottom: 12px;">
<h2 style="color: #333;">{{.Title}}</h2>
<p style="color: #666;">Previous price: <s>{{.Old}}</s></p>
<p style="font-size: 24px; font-weight: bold;">New price: {{.New}}</p>
{{if .Change}}<p>Change: {{.Change}}</p>{{end}}
{{if .Target}}<p>Target price: {{.Target}}</p>{{end}}
<p><a href="{{.URL}}">View product</a></p>
</div>
{{end}}<p style="font-size: 12px; color: #999;">Sent by price-watch.</p>
</body></html>`))

type alertView struct {
	Title  string
	Old    string
	New    string
	Change string
	Target string
	URL    string
}

func viewOf(a *AlertPayload) alertView {
	v := alertView{
		Title:  a.Title(),
		Old:    FormatPrice(a.OldPrice, a.Currency),
		New:    FormatPrice(a.NewPrice, a.Currency),
		Change: a.Change(),
		URL:    a.ProductURL,
	}
	if a.TargetPrice != nil {
		v.Target = FormatPrice(a.TargetPrice, a.Currency)
		if a.TargetReached {
			v.Target += " (reached)"
		}
	}
	return v
}

// SendAlert mails a single alert.
func (n *EmailNotifier) SendAlert(ctx context.Context, alert *AlertPayload) error {
	return n.deliver(ctx, alert.Title(), []alertView{viewOf(alert)})
}

// SendBatchAlert mails every alert for one product in a single message.
func (n *EmailNotifier) SendBatchAlert(ctx context.Context, alerts []AlertPayload, productName string) error {
	views := make([]alertView, len(alerts))
	for i := range alerts {
		views[i] = viewOf(&alerts[i])
	}
	return n.deliver(ctx, fmt.Sprintf("%d price changes: %s", len(alerts), productName), views)
}

// SendTest mails a fixed message to verify the SMTP settings.
func (n *EmailNotifier) SendTest(ctx context.Context) error {
	e := n.compose("price-watch test")
	e.Text = []byte("This is a test message. Email notifications are working.")
	return n.transmit(ctx, e)
}

func (n *EmailNotifier) compose(subject string) *email.Email {
	e := email.NewEmail()
	e.From = fmt.Sprintf("price-watch <%s>", n.cfg.From)
	e.To = n.cfg.To
	e.Subject = subject
	return e
}

func (n *EmailNotifier) deliver(ctx context.Context, subject string, views []alertView) error {
	var body bytes.Buffer
	if err := alertTemplate.Execute(&body, views); err != nil {
		return fmt.Errorf("rendering alert email: %w", err)
	}
	e := n.compose(subject)
	e.HTML = body.Bytes()
	return n.transmit(ctx, e)
}

func (n *EmailNotifier) transmit(ctx context.Context, e *email.Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	defer func() {
		metrics.NotificationDuration.WithLabelValues("email").Observe(time.Since(start).Seconds())
	}()

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	if err := n.send(e, addr, auth, n.cfg.StartTLS, n.cfg.Host); err != nil {
		return fmt.Errorf("sending email via %s: %w", addr, err)
	}
	return nil
}
