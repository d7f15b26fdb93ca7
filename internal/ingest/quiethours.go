package ingest

import (
	"time"

	"github.com/snarg/motion-engine/internal/store"
)

// InQuietHours reports whether occurredAt, converted to the quiet-hours
// timezone, falls inside the configured daily window (spec §4.2). A nil
// window never suppresses. Same-day windows (start <= end) use
// start <= now < end; midnight-crossing windows (start > end) use
// now >= start OR now < end.
func InQuietHours(qh *store.QuietHours, occurredAt time.Time) (bool, error) {
	if qh == nil {
		return false, nil
	}
	loc, err := time.LoadLocation(qh.Timezone)
	if err != nil {
		return false, err
	}
	local := occurredAt.In(loc)
	nowMinutes := local.Hour()*60 + local.Minute()

	start, err := parseHHMM(qh.StartHHMM)
	if err != nil {
		return false, err
	}
	end, err := parseHHMM(qh.EndHHMM)
	if err != nil {
		return false, err
	}

	if start <= end {
		return nowMinutes >= start && nowMinutes < end, nil
	}
	return nowMinutes >= start || nowMinutes < end, nil
}

func parseHHMM(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
