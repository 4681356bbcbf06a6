package notify

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/donaldgifford/price-watch/pkg/types"
)

type capturedMail struct {
	mail     *email.Email
	addr     string
	auth     bool
	startTLS bool
}

func captureSender(out *[]capturedMail, err error) sendFunc {
	return func(e *email.Email, addr string, auth smtp.Auth, startTLS bool, _ string) error {
		*out = append(*out, capturedMail{mail: e, addr: addr, auth: auth != nil, startTLS: startTLS})
		return err
	}
}

func testSMTP() SMTPConfig {
	return SMTPConfig{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "alerts@example.com",
		Password: "secret",
		To:       []string{"me@example.com"},
		StartTLS: true,
	}
}

func TestEmailNotifier_SendAlert(t *testing.T) {
	t.Parallel()

	var sent []capturedMail
	n := NewEmailNotifier(testSMTP(), withSender(captureSender(&sent, nil)))

	alert := testAlert(domain.ChangePriceDrop)
	require.NoError(t, n.SendAlert(context.Background(), &alert))

	require.Len(t, sent, 1)
	got := sent[0]
	assert.Equal(t, "smtp.example.com:587", got.addr)
	assert.True(t, got.auth)
	assert.True(t, got.startTLS)
	assert.Equal(t, "price-watch <alerts@example.com>", got.mail.From)
	assert.Equal(t, []string{"me@example.com"}, got.mail.To)
	assert.Equal(t, "Price drop: Espresso grinder (-10.0%)", got.mail.Subject)

	body := string(got.mail.HTML)
	assert.Contains(t, body, "200.00 BGN")
	assert.Contains(t, body, "180.00 BGN")
	assert.Contains(t, body, "https://shop.example/grinder")
}

func TestEmailNotifier_EscapesProductName(t *testing.T) {
	t.Parallel()

	var sent []capturedMail
	n := NewEmailNotifier(testSMTP(), withSender(captureSender(&sent, nil)))

	alert := testAlert(domain.ChangePriceDrop)
	alert.ProductName = "<script>alert(1)</script>"
	require.NoError(t, n.SendAlert(context.Background(), &alert))

	require.Len(t, sent, 1)
	assert.NotContains(t, string(sent[0].mail.HTML), "<script>")
}

func TestEmailNotifier_SendBatchAlert(t *testing.T) {
	t.Parallel()

	var sent []capturedMail
	n := NewEmailNotifier(testSMTP(), withSender(captureSender(&sent, nil)))

	alerts := []AlertPayload{testAlert(domain.ChangePriceDrop), testAlert(domain.ChangeBackInStock)}
	require.NoError(t, n.SendBatchAlert(context.Background(), alerts, "Espresso grinder"))

	require.Len(t, sent, 1)
	assert.Equal(t, "2 price changes: Espresso grinder", sent[0].mail.Subject)
	assert.Contains(t, string(sent[0].mail.HTML), "Back in stock: Espresso grinder")
}

func TestEmailNotifier_Errors(t *testing.T) {
	t.Parallel()

	var sent []capturedMail
	n := NewEmailNotifier(testSMTP(), withSender(captureSender(&sent, errors.New("connection refused"))))

	err := n.SendTest(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sending email via smtp.example.com:587")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, n.SendTest(ctx), context.Canceled)
	assert.Len(t, sent, 1, "cancelled context never reaches the server")
}

func TestEmailNotifier_NoAuthWithoutUsername(t *testing.T) {
	t.Parallel()

	cfg := testSMTP()
	cfg.Username = ""
	cfg.From = "pw@localhost"

	var sent []capturedMail
	n := NewEmailNotifier(cfg, withSender(captureSender(&sent, nil)))
	require.NoError(t, n.SendTest(context.Background()))
	require.Len(t, sent, 1)
	assert.False(t, sent[0].auth)
}

type failingNotifier struct{ err error }

func (f failingNotifier) SendAlert(context.Context, *AlertPayload) error              { return f.err }
func (f failingNotifier) SendBatchAlert(context.Context, []AlertPayload, string) error { return f.err }
func (f failingNotifier) SendTest(context.Context) error                               { return f.err }

func TestMulti(t *testing.T) {
	t.Parallel()

	var sent []capturedMail
	okEmail := NewEmailNotifier(testSMTP(), withSender(captureSender(&sent, nil)))
	boom := errors.New("boom")

	m := Multi{failingNotifier{err: boom}, okEmail}
	alert := testAlert(domain.ChangePriceDrop)

	err := m.SendAlert(context.Background(), &alert)
	require.ErrorIs(t, err, boom)
	assert.Len(t, sent, 1, "a failing backend does not stop the others")

	require.NoError(t, Multi{okEmail}.SendBatchAlert(context.Background(), []AlertPayload{alert}, "x"))
	require.NoError(t, Multi(nil).SendTest(context.Background()))
}

func TestAlertPayload_Change(t *testing.T) {
	t.Parallel()

	rise := testAlert(domain.ChangePriceRise)
	rise.OldPrice, rise.NewPrice = dec("100"), dec("125.5")
	assert.Equal(t, "+25.50 BGN (+25.5%)", rise.Change())
	assert.Equal(t, "Price change: Espresso grinder", rise.Title())

	base := testAlert(domain.ChangeBaseline)
	base.OldPrice = nil
	assert.Empty(t, base.Change())
}

func TestNewAlertPayload(t *testing.T) {
	t.Parallel()

	p := &domain.TrackedProduct{ID: "p1", URL: "https://shop.example/x", TargetPrice: dec("10")}
	e := &domain.ChangeEvent{ID: "e1", ProductID: "p1", Kind: domain.ChangePriceDrop, NewAmount: dec("9"), Currency: "EUR", TargetReached: true}

	a := NewAlertPayload(p, e)
	assert.Equal(t, "https://shop.example/x", a.ProductName, "falls back to the URL when unnamed")
	assert.Equal(t, "e1", a.EventID)
	assert.True(t, a.TargetReached)
	assert.Equal(t, "10.00 EUR", FormatPrice(a.TargetPrice, a.Currency))
}
