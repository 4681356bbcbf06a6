package fetch

import (
	"bytes"
	"net/http"
	"strings"
)

// scanLimit bounds how much of a body is searched for challenge markers.
const scanLimit = 256 << 10

// strongMarkers only appear on bot-challenge interstitials, so they flag a
// page as blocked whatever its status.
var strongMarkers = [][]byte{
	[]byte("cf-browser-verification"),
	[]byte("/cdn-cgi/challenge-platform"),
	[]byte("cf-chl-"),
	[]byte("px-captcha"),
	[]byte("captcha-delivery.com"),
	[]byte("_incapsula_resource"),
	[]byte("/errors/validatecaptcha"),
	[]byte("are you a robot"),
	[]byte("verify you are human"),
	[]byte("pardon our interruption"),
	[]byte("robot check"),
}

// weakMarkers also show up on ordinary pages (login forms carry
// captchas) and only count together with a refusal status.
var weakMarkers = [][]byte{
	[]byte("captcha"),
	[]byte("access denied"),
	[]byte("request blocked"),
	[]byte("too many requests"),
	[]byte("unusual traffic"),
}

// IsBlockPage reports whether a response looks like an anti-bot wall
// rather than the product page.
func IsBlockPage(status int, header http.Header, body []byte) bool {
	if header != nil && strings.EqualFold(header.Get("cf-mitigated"), "challenge") {
		return true
	}

	if len(body) > scanLimit {
		body = body[:scanLimit]
	}
	lower := bytes.ToLower(body)

	for _, m := range strongMarkers {
		if bytes.Contains(lower, m) {
			return true
		}
	}

	switch status {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden, http.StatusServiceUnavailable:
		for _, m := range weakMarkers {
			if bytes.Contains(lower, m) {
				return true
			}
		}
	}
	return false
}
