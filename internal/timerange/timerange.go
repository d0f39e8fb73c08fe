// Package timerange parses the 12-field per-user time range configuration
// used to bound history replays and duplicate scans.
package timerange

import (
	"fmt"
	"time"
)

// defaultBegin is the far-past lower bound used when no start is set.
var defaultBegin = time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)

// Range is the raw 12-field configuration. Zero means "unset" on every
// field; all twelve zero means "all time".
type Range struct {
	StartYear   int `json:"start_year"`
	StartMonth  int `json:"start_month"`
	StartDay    int `json:"start_day"`
	StartHour   int `json:"start_hour"`
	StartMinute int `json:"start_minute"`
	StartSecond int `json:"start_second"`
	EndYear     int `json:"end_year"`
	EndMonth    int `json:"end_month"`
	EndDay      int `json:"end_day"`
	EndHour     int `json:"end_hour"`
	EndMinute   int `json:"end_minute"`
	EndSecond   int `json:"end_second"`
}

// Bounds is the parsed form of a Range.
type Bounds struct {
	Begin time.Time
	// End is nil when the range has no upper bound.
	End *time.Time
	// StartSec / EndSec are per-day seconds for in-day filtering;
	// EndSec 0 means no in-day upper bound.
	StartSec int
	EndSec   int
}

// IsZero reports whether all twelve fields are zero ("all time").
func (r Range) IsZero() bool {
	return r.StartYear == 0 && r.StartMonth == 0 && r.StartDay == 0 &&
		r.StartHour == 0 && r.StartMinute == 0 && r.StartSecond == 0 &&
		r.EndYear == 0 && r.EndMonth == 0 && r.EndDay == 0 &&
		r.EndHour == 0 && r.EndMinute == 0 && r.EndSecond == 0
}

// clampField constrains one time component to its legal range.
func clampField(v int, unit string) int {
	if v < 0 {
		return 0
	}
	switch unit {
	case "month":
		if v > 12 {
			return 12
		}
	case "day":
		if v > 31 {
			return 31
		}
	}
	return v
}

func daySeconds(h, m, s int) int {
	sec := clampField(h, "")*3600 + clampField(m, "")*60 + clampField(s, "")
	return sec % 86400
}

// Parse resolves a Range into concrete bounds. The invariant
// Begin <= *End holds whenever End is non-nil.
func Parse(r Range) Bounds {
	sy := clampField(r.StartYear, "year")
	sm := clampField(r.StartMonth, "month")
	sd := clampField(r.StartDay, "day")
	startSec := daySeconds(r.StartHour, r.StartMinute, r.StartSecond)

	ey := clampField(r.EndYear, "year")
	em := clampField(r.EndMonth, "month")
	ed := clampField(r.EndDay, "day")
	endSec := daySeconds(r.EndHour, r.EndMinute, r.EndSecond)

	var begin time.Time
	if sy == 0 && sm == 0 && sd == 0 && startSec == 0 {
		begin = defaultBegin
	} else {
		year, month, day := sy, sm, sd
		if year == 0 {
			year = 2010
		}
		if month == 0 {
			month = 1
		}
		if day == 0 {
			day = 1
		}
		begin = time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		if startSec > 0 {
			begin = begin.Add(time.Duration(startSec) * time.Second)
		}
	}

	var end *time.Time
	if ey > 0 || em > 0 || ed > 0 {
		var e time.Time
		switch {
		case ey > 0 && em > 0 && ed > 0:
			e = time.Date(ey, time.Month(em), ed, 23, 59, 59, 0, time.UTC)
			// clamp to the real last day of the month
			if e.Month() != time.Month(em) {
				e = time.Date(ey, time.Month(em)+1, 0, 23, 59, 59, 0, time.UTC)
			}
		case ey > 0 && em > 0:
			// last day of the month
			e = time.Date(ey, time.Month(em)+1, 0, 23, 59, 59, 0, time.UTC)
		case ey > 0:
			e = time.Date(ey, 12, 31, 23, 59, 59, 0, time.UTC)
		default:
			// month/day without a year gives no usable upper bound
			end = nil
		}
		if !e.IsZero() {
			if endSec > 0 {
				e = time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, time.UTC).
					Add(time.Duration(endSec) * time.Second)
			}
			end = &e
		}
	}

	// invariant: begin <= end when both present
	if end != nil && begin.After(*end) {
		end = nil
	}

	return Bounds{Begin: begin, End: end, StartSec: startSec, EndSec: endSec}
}

// allTimeLabel is what users see when no bound is configured.
const allTimeLabel = "全部时间 (将获取全部消息)"

// FormatDisplay renders the range as a compact human label.
func FormatDisplay(r Range) string {
	if r.IsZero() {
		return allTimeLabel
	}

	startSec := daySeconds(r.StartHour, r.StartMinute, r.StartSecond)
	endSec := daySeconds(r.EndHour, r.EndMinute, r.EndSecond)

	startDate := formatDateParts(r.StartYear, r.StartMonth, r.StartDay)
	endDate := formatDateParts(r.EndYear, r.EndMonth, r.EndDay)

	startPart := formatSeconds(startSec)
	if startDate != "不限" {
		startPart = startDate + " " + startPart
	}

	endTime := "∞"
	if endSec > 0 {
		endTime = formatSeconds(endSec)
	}
	endPart := endTime
	if endDate != "不限" && endTime != "∞" {
		endPart = endDate + " " + endTime
	}

	return startPart + " - " + endPart
}

func formatDateParts(year, month, day int) string {
	out := ""
	if year > 0 {
		out += fmt.Sprintf("%d年", year)
	}
	if month > 0 {
		out += fmt.Sprintf("%d月", month)
	}
	if day > 0 {
		out += fmt.Sprintf("%d天", day)
	}
	if out == "" {
		return "不限"
	}
	return out
}

func formatSeconds(sec int) string {
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, sec%3600/60, sec%60)
}
