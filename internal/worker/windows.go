package worker

import (
	"time"

	"github.com/JakeFAU/ytcrawler/internal/crawler"
)

// BackfillWindows returns yearly [Y, Y+1) publication windows from startYear
// through the year of now, oldest first.
func BackfillWindows(startYear int, now time.Time) []crawler.TimeWindow {
	last := now.UTC().Year()
	if startYear > last {
		return nil
	}
	windows := make([]crawler.TimeWindow, 0, last-startYear+1)
	for year := startYear; year <= last; year++ {
		windows = append(windows, crawler.TimeWindow{
			After:  time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
			Before: time.Date(year+1, time.January, 1, 0, 0, 0, 0, time.UTC),
		})
	}
	return windows
}
