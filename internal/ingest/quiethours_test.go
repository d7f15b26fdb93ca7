package ingest

import (
	"testing"
	"time"

	"github.com/snarg/motion-engine/internal/store"
)

func TestInQuietHoursNilWindowNeverSuppresses(t *testing.T) {
	in, err := InQuietHours(nil, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in {
		t.Fatalf("expected nil window to never suppress")
	}
}

func TestInQuietHoursSameDayWindow(t *testing.T) {
	qh := &store.QuietHours{StartHHMM: "13:00", EndHHMM: "15:00", Timezone: "UTC"}

	inside := time.Date(2026, 7, 30, 14, 0, 0, 0, time.UTC)
	in, err := InQuietHours(qh, inside)
	if err != nil || !in {
		t.Fatalf("expected inside window, got in=%v err=%v", in, err)
	}

	outside := time.Date(2026, 7, 30, 16, 0, 0, 0, time.UTC)
	in, err = InQuietHours(qh, outside)
	if err != nil || in {
		t.Fatalf("expected outside window, got in=%v err=%v", in, err)
	}

	atStart := time.Date(2026, 7, 30, 13, 0, 0, 0, time.UTC)
	if in, err := InQuietHours(qh, atStart); err != nil || !in {
		t.Fatalf("expected start boundary inclusive, got in=%v err=%v", in, err)
	}

	atEnd := time.Date(2026, 7, 30, 15, 0, 0, 0, time.UTC)
	if in, err := InQuietHours(qh, atEnd); err != nil || in {
		t.Fatalf("expected end boundary exclusive, got in=%v err=%v", in, err)
	}
}

func TestInQuietHoursMidnightCrossingWindow(t *testing.T) {
	qh := &store.QuietHours{StartHHMM: "22:00", EndHHMM: "06:00", Timezone: "UTC"}

	lateNight := time.Date(2026, 7, 30, 23, 0, 0, 0, time.UTC)
	if in, err := InQuietHours(qh, lateNight); err != nil || !in {
		t.Fatalf("expected late night inside window, got in=%v err=%v", in, err)
	}

	earlyMorning := time.Date(2026, 7, 30, 3, 0, 0, 0, time.UTC)
	if in, err := InQuietHours(qh, earlyMorning); err != nil || !in {
		t.Fatalf("expected early morning inside window, got in=%v err=%v", in, err)
	}

	midday := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	if in, err := InQuietHours(qh, midday); err != nil || in {
		t.Fatalf("expected midday outside window, got in=%v err=%v", in, err)
	}
}

func TestInQuietHoursRejectsUnknownTimezone(t *testing.T) {
	qh := &store.QuietHours{StartHHMM: "22:00", EndHHMM: "06:00", Timezone: "Not/AZone"}
	if _, err := InQuietHours(qh, time.Now()); err == nil {
		t.Fatalf("expected error for unknown timezone")
	}
}
