package musicservice

import (
	"net/http"
	"strconv"
	"time"

	"github.com/snarg/motion-engine/internal/errs"
)

// ClassifyStatus maps an HTTP response status (and, for 429, a
// Retry-After header) onto the core's error taxonomy, per spec §6.3:
// 401 -> AuthExpired, 429 -> RateLimited (with Retry-After), 5xx ->
// Transient.
func ClassifyStatus(status int, header http.Header) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return errs.New(errs.AuthExpired, "music service rejected the access token")
	case status == http.StatusTooManyRequests:
		e := errs.New(errs.RateLimited, "music service rate limited the request")
		if d, ok := parseRetryAfter(header.Get("Retry-After")); ok {
			e = e.WithDetails(map[string]any{"retry_after": d})
		}
		return e
	case status >= 500:
		return errs.New(errs.Transient, "music service returned a server error")
	case status == http.StatusBadRequest, status == http.StatusNotFound:
		return errs.New(errs.Validation, "music service rejected the request")
	default:
		return errs.New(errs.Fatal, "unexpected music service response: "+strconv.Itoa(status))
	}
}

func parseRetryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t), true
	}
	return 0, false
}
