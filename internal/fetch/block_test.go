package fetch_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/donaldgifford/price-watch/internal/fetch"
)

func TestIsBlockPage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		header http.Header
		body   string
		want   bool
	}{
		{name: "ordinary page", status: 200, body: "<html><span>9.99</span></html>"},
		{name: "login form captcha on 200", status: 200, body: `<div class="g-recaptcha captcha"></div>`},
		{name: "challenge platform", status: 200, body: `<script src="/cdn-cgi/challenge-platform/h/b"></script>`, want: true},
		{name: "mitigated header", status: 200, header: http.Header{"Cf-Mitigated": {"challenge"}}, want: true},
		{name: "forbidden with captcha", status: 403, body: "Please solve the CAPTCHA", want: true},
		{name: "forbidden plain", status: 403, body: "forbidden"},
		{name: "unavailable access denied", status: 503, body: "Access Denied", want: true},
		{name: "too many requests", status: 429, want: true},
		{name: "amazon robot check", status: 200, body: "<title>Robot Check</title>", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, fetch.IsBlockPage(tt.status, tt.header, []byte(tt.body)))
		})
	}
}
