package transfer

import (
	"time"

	"github.com/andresuchdata/batchsync/internal/datetoken"
	"github.com/andresuchdata/batchsync/internal/domain"
)

// Window is an inclusive range of calendar dates, each held as midnight in the
// sync location. Start after End means nothing is pending.
type Window struct {
	Start time.Time
	End   time.Time
}

// CalculateWindow returns the dates still pending at now. Today is never
// included because its batch may still be incomplete on the source.
func CalculateWindow(wm Watermark, now time.Time, lookbackDays int) Window {
	today := datetoken.Day(now)
	end := today.AddDate(0, 0, -1)

	start := today.AddDate(0, 0, -lookbackDays)
	if wm.Found {
		start = datetoken.Day(wm.Date.In(now.Location())).AddDate(0, 0, 1)
	}
	return Window{Start: start, End: end}
}

func (w Window) Empty() bool {
	return w.Start.After(w.End)
}

// Days lists every date in the window in ascending order.
func (w Window) Days() []time.Time {
	var days []time.Time
	for d := w.Start; !d.After(w.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func (w Window) Range() domain.DateRange {
	return domain.DateRange{Start: domain.NewDate(w.Start), End: domain.NewDate(w.End)}
}

// daysBetween counts calendar days from a to b, ignoring clock time and DST.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	from := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	to := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}
