package aggregate

import (
	"fmt"
	"slices"
	"time"

	"github.com/ourea-as/meadstats-api/internal/records"
)

// TimelinePoint is the running total of checkins as of one calendar day.
type TimelinePoint struct {
	Date     string
	Count    int
	CountDay int
}

// Timeline emits one point per calendar day in ascending first_had order.
// Count is cumulative through that day, CountDay counts checkins on that day only.
func Timeline(checkins []records.Checkin) []TimelinePoint {
	ordered := slices.Clone(checkins)
	slices.SortStableFunc(ordered, func(a, b records.Checkin) int {
		return a.FirstHad.Compare(b.FirstHad)
	})

	points := make([]TimelinePoint, 0)
	total := 0
	for _, checkin := range ordered {
		total++
		date := dayKey(checkin.FirstHad)
		last := len(points) - 1
		if last >= 0 && points[last].Date == date {
			points[last].Count = total
			points[last].CountDay++
			continue
		}
		points = append(points, TimelinePoint{Date: date, Count: total, CountDay: 1})
	}
	return points
}

func dayKey(t time.Time) string {
	day := naive(t)
	return fmt.Sprintf("%d/%d/%d", day.Year(), int(day.Month()), day.Day())
}
