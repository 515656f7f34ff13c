// Package partition splits date windows into the calendar-month chunks the
// search site can answer in one result set.
package partition

import (
	"time"

	"github.com/JakeFAU/wrc-harvester/internal/crawler"
)

// Monthly returns consecutive month windows covering [start, end]. The first
// window starts at start and the last ends at end; the ones between span whole
// calendar months. start after end yields no windows.
func Monthly(start, end time.Time) []crawler.DateRange {
	start, end = crawler.Day(start), crawler.Day(end)
	if start.After(end) {
		return nil
	}

	var out []crawler.DateRange
	for cur := start; !cur.After(end); {
		// Day zero of the following month is the last day of this one.
		last := time.Date(cur.Year(), cur.Month()+1, 0, 0, 0, 0, 0, time.UTC)
		if last.After(end) {
			last = end
		}
		out = append(out, crawler.DateRange{Start: cur, End: last})
		cur = last.AddDate(0, 0, 1)
	}
	return out
}
