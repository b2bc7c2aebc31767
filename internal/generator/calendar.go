package generator

import "time"

type holiday struct {
	name  string
	month time.Month
	day   int
}

// Fixed-date holidays used by the countdown variant, in calendar order.
var holidays = []holiday{
	{"New Year's Day", time.January, 1},
	{"Valentine's Day", time.February, 14},
	{"Independence Day", time.July, 4},
	{"Halloween", time.October, 31},
	{"Thanksgiving", time.November, 27},
	{"Christmas", time.December, 25},
}

// nextHoliday returns the name of the next upcoming holiday after now.
func nextHoliday(now time.Time) string {
	for _, h := range holidays {
		date := time.Date(now.Year(), h.month, h.day, 0, 0, 0, 0, now.Location())
		if !date.Before(now.Truncate(24 * time.Hour)) {
			return h.name
		}
	}
	// Past Christmas: wrap to next year's first entry.
	return holidays[0].name
}

func season(now time.Time) string {
	switch now.Month() {
	case time.December, time.January, time.February:
		return "winter"
	case time.March, time.April, time.May:
		return "spring"
	case time.June, time.July, time.August:
		return "summer"
	default:
		return "autumn"
	}
}
