package usage

import (
	"sort"
	"time"
)

// DailyCount is one day of usage split by outcome.
type DailyCount struct {
	Date    string `json:"date"` // YYYY-MM-DD in UTC
	Success int    `json:"success"`
	Failed  int    `json:"failed"`
}

// DailySeries buckets records per UTC day, oldest day first.
func DailySeries(records []Record) []DailyCount {
	byDay := make(map[string]*DailyCount)
	for _, rec := range records {
		day := rec.Timestamp.UTC().Format(time.DateOnly)
		c, ok := byDay[day]
		if !ok {
			c = &DailyCount{Date: day}
			byDay[day] = c
		}
		if rec.Status == StatusSuccess {
			c.Success++
		} else {
			c.Failed++
		}
	}

	out := make([]DailyCount, 0, len(byDay))
	for _, c := range byDay {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}
