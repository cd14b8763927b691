// Package hours knows the weekly operating schedule of the campus halls.
package hours

import (
	"time"
)

// Range is an opening window within one day, in minutes since midnight.
type Range struct {
	Start      int
	End        int
	StartLabel string
	EndLabel   string
}

func (r Range) contains(minute int) bool { return minute >= r.Start && minute < r.End }

// DisplayInfo summarises the schedule at one instant.
type DisplayInfo struct {
	OpenNow bool
	Opens   string
	Closes  string
}

// Schedule maps a hall id to its ranges per weekday.
type Schedule struct {
	loc   *time.Location
	halls map[string]map[time.Weekday][]Range
}

// Campus returns the schedule for the halls with published hours.
// Times are local to America/New_York.
func Campus() *Schedule {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.Local
	}

	northWeekend := []Range{span(9, 0, 21, 0, "9am", "9pm")}
	northWeekday := []Range{
		span(7, 0, 24, 0, "7am", "12am"),
		span(0, 0, 2, 0, "12am", "2am"),
	}
	northFriday := []Range{span(7, 0, 22, 0, "7am", "10pm")}

	westWeekend := []Range{span(9, 0, 21, 0, "9am", "9pm")}
	westWeekday := []Range{span(7, 0, 23, 0, "7am", "11pm")}

	return &Schedule{
		loc: loc,
		halls: map[string]map[time.Weekday][]Range{
			"north-ave": {
				time.Sunday:    northWeekend,
				time.Monday:    northWeekday,
				time.Tuesday:   northWeekday,
				time.Wednesday: northWeekday,
				time.Thursday:  northWeekday,
				time.Friday:    northFriday,
				time.Saturday:  northWeekend,
			},
			"willage": {
				time.Sunday:    westWeekend,
				time.Monday:    westWeekday,
				time.Tuesday:   westWeekday,
				time.Wednesday: westWeekday,
				time.Thursday:  westWeekday,
				time.Friday:    westWeekday,
				time.Saturday:  westWeekend,
			},
		},
	}
}

// IsOpen reports whether hallID is open at t. known is false when the hall
// has no published schedule.
func (s *Schedule) IsOpen(hallID string, t time.Time) (open, known bool) {
	info, ok := s.Display(hallID, t)
	if !ok {
		return false, false
	}
	return info.OpenNow, true
}

// Display returns what to show for hallID at t.
func (s *Schedule) Display(hallID string, t time.Time) (DisplayInfo, bool) {
	byDay, ok := s.halls[hallID]
	if !ok {
		return DisplayInfo{}, false
	}
	local := t.In(s.loc)
	day := local.Weekday()
	minute := local.Hour()*60 + local.Minute()

	for _, r := range byDay[day] {
		if r.contains(minute) {
			return DisplayInfo{OpenNow: true, Opens: r.StartLabel, Closes: r.EndLabel}, true
		}
	}
	for _, r := range byDay[day] {
		if minute < r.Start {
			return DisplayInfo{Opens: r.StartLabel}, true
		}
	}
	for offset := 1; offset <= 7; offset++ {
		next := time.Weekday((int(day) + offset) % 7)
		if ranges := byDay[next]; len(ranges) > 0 {
			return DisplayInfo{Opens: ranges[0].StartLabel}, true
		}
	}
	return DisplayInfo{}, true
}

func span(startHour, startMinute, endHour, endMinute int, startLabel, endLabel string) Range {
	return Range{
		Start:      startHour*60 + startMinute,
		End:        endHour*60 + endMinute,
		StartLabel: startLabel,
		EndLabel:   endLabel,
	}
}
