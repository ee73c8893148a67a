// Package schedule holds the pure calendar and code helpers used by the
// schedule lifecycle.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/stemsi/exam-orchestrator/internal/apperror"
	"github.com/stemsi/exam-orchestrator/internal/model"
	"github.com/stemsi/exam-orchestrator/internal/response"
)

// Zone is the fixed civil offset all exam dates and clock strings are read in.
var Zone = time.FixedZone("IST", 5*3600+30*60)

// Lead is how long before the exam start the code becomes redeemable.
const Lead = 10 * time.Minute

const dateLayout = "2006-01-02"

var clockRe = regexp.MustCompile(`(?i)^\s*(\d{1,2}):(\d{2})\s*(AM|PM)\s*$`)

// ParseClock converts a 12-hour clock string such as "09:05 AM" to hours and
// minutes on a 24-hour clock.
func ParseClock(s string) (hour, minute int, err error) {
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, apperror.Validation(response.ErrInvalidTime, fmt.Sprintf("invalid time %q", s))
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	if hour < 1 || hour > 12 || minute > 59 {
		return 0, 0, apperror.Validation(response.ErrInvalidTime, fmt.Sprintf("invalid time %q", s))
	}

	pm := strings.EqualFold(m[3], "PM")
	switch {
	case pm && hour != 12:
		hour += 12
	case !pm && hour == 12:
		hour = 0
	}
	return hour, minute, nil
}

// ParseDate reads a civil date in Zone.
func ParseDate(date string) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(date), Zone)
	if err != nil {
		return time.Time{}, apperror.Validation(response.ErrValidation, fmt.Sprintf("invalid date %q", date))
	}
	return d, nil
}

// ComputeWindow returns the redeemable window of an exam held on date between
// start and end. validFrom is Lead before the start; validTill is the end.
func ComputeWindow(date, start, end string) (validFrom, validTill time.Time, err error) {
	day, err := ParseDate(date)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	sh, sm, err := ParseClock(start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	eh, em, err := ParseClock(end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	examStart := time.Date(day.Year(), day.Month(), day.Day(), sh, sm, 0, 0, Zone)
	examEnd := time.Date(day.Year(), day.Month(), day.Day(), eh, em, 0, 0, Zone)
	if !examEnd.After(examStart) {
		return time.Time{}, time.Time{}, apperror.Validation(response.ErrInvalidTime, "end time must be after start time")
	}
	return examStart.Add(-Lead), examEnd, nil
}

// IsPastDate reports whether date lies before the current civil day in Zone.
func IsPastDate(date string, now time.Time) (bool, error) {
	day, err := ParseDate(date)
	if err != nil {
		return false, err
	}
	n := now.In(Zone)
	today := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, Zone)
	return day.Before(today), nil
}

// Duration returns the per-student attempt length in minutes for a tier.
func Duration(cie model.CIE) int {
	if cie == model.CIE3 {
		return 210
	}
	return 100
}
