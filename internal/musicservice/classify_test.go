package musicservice

import (
	"net/http"
	"testing"

	"github.com/snarg/motion-engine/internal/errs"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header http.Header
		want   errs.Kind
		wantOK bool
	}{
		{name: "ok", status: 200, wantOK: true},
		{name: "no_content", status: 204, wantOK: true},
		{name: "unauthorized", status: 401, want: errs.AuthExpired},
		{name: "rate_limited", status: 429, header: http.Header{"Retry-After": []string{"30"}}, want: errs.RateLimited},
		{name: "server_error", status: 503, want: errs.Transient},
		{name: "bad_request", status: 400, want: errs.Validation},
		{name: "not_found", status: 404, want: errs.Validation},
		{name: "teapot", status: 418, want: errs.Fatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyStatus(tt.status, tt.header)
			if tt.wantOK {
				if err != nil {
					t.Fatalf("expected nil error for status %d, got %v", tt.status, err)
				}
				return
			}
			if !errs.Is(err, tt.want) {
				t.Fatalf("ClassifyStatus(%d) = %v, want kind %s", tt.status, err, tt.want)
			}
		})
	}
}

func TestClassifyStatusRateLimitedCarriesRetryAfter(t *testing.T) {
	err := ClassifyStatus(429, http.Header{"Retry-After": []string{"12"}})
	var e *errs.Error
	if ae, ok := err.(*errs.Error); ok {
		e = ae
	} else {
		t.Fatalf("expected *errs.Error")
	}
	if e.Details == nil || e.Details["retry_after"] == nil {
		t.Fatalf("expected retry_after detail, got %+v", e.Details)
	}
}
