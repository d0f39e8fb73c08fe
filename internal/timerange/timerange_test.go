package timerange

import (
	"testing"
	"time"
)

func TestParse_AllZeroMeansAllTime(t *testing.T) {
	b := Parse(Range{})

	if !b.Begin.Equal(time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Begin = %v, want 2010-01-01", b.Begin)
	}
	if b.End != nil {
		t.Errorf("End = %v, want nil", b.End)
	}
	if b.StartSec != 0 || b.EndSec != 0 {
		t.Errorf("day seconds = %d/%d, want 0/0", b.StartSec, b.EndSec)
	}
}

func TestParse_Bounds(t *testing.T) {
	tests := []struct {
		name      string
		in        Range
		wantBegin time.Time
		wantEnd   *time.Time
	}{
		{
			name:      "full start date",
			in:        Range{StartYear: 2024, StartMonth: 3, StartDay: 15},
			wantBegin: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "start year only defaults month and day",
			in:        Range{StartYear: 2023},
			wantBegin: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "start with day seconds",
			in:        Range{StartYear: 2024, StartMonth: 1, StartDay: 1, StartHour: 6, StartMinute: 30},
			wantBegin: time.Date(2024, 1, 1, 6, 30, 0, 0, time.UTC),
		},
		{
			name:      "end year only clamps to dec 31",
			in:        Range{StartYear: 2020, EndYear: 2024},
			wantBegin: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   timePtr(time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC)),
		},
		{
			name:      "end year and month clamps to last day of month",
			in:        Range{StartYear: 2020, EndYear: 2024, EndMonth: 2},
			wantBegin: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   timePtr(time.Date(2024, 2, 29, 23, 59, 59, 0, time.UTC)),
		},
		{
			name:      "full end date defaults to day boundary",
			in:        Range{StartYear: 2020, EndYear: 2024, EndMonth: 6, EndDay: 10},
			wantBegin: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   timePtr(time.Date(2024, 6, 10, 23, 59, 59, 0, time.UTC)),
		},
		{
			name:      "end day overflow clamps into the month",
			in:        Range{StartYear: 2020, EndYear: 2024, EndMonth: 6, EndDay: 31},
			wantBegin: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   timePtr(time.Date(2024, 6, 30, 23, 59, 59, 0, time.UTC)),
		},
		{
			name:      "end before begin drops the upper bound",
			in:        Range{StartYear: 2024, EndYear: 2020},
			wantBegin: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   nil,
		},
		{
			name:      "month clamp",
			in:        Range{StartYear: 2024, StartMonth: 99},
			wantBegin: time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Parse(tt.in)
			if !b.Begin.Equal(tt.wantBegin) {
				t.Errorf("Begin = %v, want %v", b.Begin, tt.wantBegin)
			}
			if (b.End == nil) != (tt.wantEnd == nil) {
				t.Fatalf("End = %v, want %v", b.End, tt.wantEnd)
			}
			if b.End != nil && !b.End.Equal(*tt.wantEnd) {
				t.Errorf("End = %v, want %v", *b.End, *tt.wantEnd)
			}
		})
	}
}

func TestParse_EndDaySeconds(t *testing.T) {
	b := Parse(Range{StartYear: 2020, EndYear: 2024, EndMonth: 6, EndDay: 10, EndHour: 12})

	want := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	if b.End == nil || !b.End.Equal(want) {
		t.Errorf("End = %v, want %v", b.End, want)
	}
	if b.EndSec != 12*3600 {
		t.Errorf("EndSec = %d, want %d", b.EndSec, 12*3600)
	}
}

func TestFormatDisplay(t *testing.T) {
	tests := []struct {
		name string
		in   Range
		want string
	}{
		{
			name: "all zero",
			in:   Range{},
			want: "全部时间 (将获取全部消息)",
		},
		{
			name: "dates without end time",
			in:   Range{StartYear: 2024, StartMonth: 1, EndYear: 2025},
			want: "2024年1月 00:00:00 - ∞",
		},
		{
			name: "full bounds",
			in:   Range{StartYear: 2024, StartMonth: 1, StartDay: 2, StartHour: 8, EndYear: 2024, EndMonth: 6, EndDay: 30, EndHour: 20, EndMinute: 30},
			want: "2024年1月2天 08:00:00 - 2024年6月30天 20:30:00",
		},
		{
			name: "time only start",
			in:   Range{StartHour: 9},
			want: "09:00:00 - ∞",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatDisplay(tt.in); got != tt.want {
				t.Errorf("FormatDisplay() = %q, want %q", got, tt.want)
			}
		})
	}
}

// round trip: the "all time" label appears exactly when every field is zero
func TestFormatDisplay_AllTimeIffZero(t *testing.T) {
	if FormatDisplay(Range{StartSecond: 1}) == allTimeLabel {
		t.Errorf("non-zero range displayed as all time")
	}
	if FormatDisplay(Range{}) != allTimeLabel {
		t.Errorf("zero range not displayed as all time")
	}
}

func timePtr(t time.Time) *time.Time { return &t }
