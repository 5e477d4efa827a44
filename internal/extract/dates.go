package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	isoDatePattern       = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
	localizedDatePattern = regexp.MustCompile(`^(\d{4})年(\d{1,2})月(\d{1,2})日`)
	isoDateInText        = regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`)
	localizedDateInText  = regexp.MustCompile(`(\d{4})年(\d{1,2})月(\d{1,2})日`)
)

// ParseDate normalizes a standalone date value. It accepts YYYY-M-D with one
// or two digit month and day, or a value starting with Y年M月D日. The result is
// midnight UTC. Anything else, including impossible calendar days, reports false.
func ParseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if m := isoDatePattern.FindStringSubmatch(value); m != nil {
		return civilDate(m[1], m[2], m[3])
	}
	if m := localizedDatePattern.FindStringSubmatch(value); m != nil {
		return civilDate(m[1], m[2], m[3])
	}
	return time.Time{}, false
}

// FindDate returns the first ISO date in text, or failing that the first
// localized date.
func FindDate(text string) (time.Time, bool) {
	if m := isoDateInText.FindStringSubmatch(text); m != nil {
		if t, ok := civilDate(m[1], m[2], m[3]); ok {
			return t, true
		}
	}
	if m := localizedDateInText.FindStringSubmatch(text); m != nil {
		return civilDate(m[1], m[2], m[3])
	}
	return time.Time{}, false
}

// FormatISO renders t as YYYY-MM-DD.
func FormatISO(t time.Time) string {
	return t.Format(time.DateOnly)
}

// FormatLocalized renders t as Y年M月D日 without zero padding.
func FormatLocalized(t time.Time) string {
	return fmt.Sprintf("%d年%d月%d日", t.Year(), int(t.Month()), t.Day())
}

// DateOf truncates t to its calendar day in t's location and returns that day
// at midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Weekday maps a date to 0=Sunday..6=Saturday.
func Weekday(t time.Time) int {
	return int(t.Weekday())
}

// WeekStart returns the Sunday on or before today's calendar day.
func WeekStart(today time.Time) time.Time {
	day := DateOf(today)
	return day.AddDate(0, 0, -Weekday(day))
}

// WeekWindow returns the inclusive [Sunday, Saturday] window containing today.
func WeekWindow(today time.Time) (time.Time, time.Time) {
	start := WeekStart(today)
	return start, start.AddDate(0, 0, 6)
}

func civilDate(year, month, day string) (time.Time, bool) {
	y, errY := strconv.Atoi(year)
	m, errM := strconv.Atoi(month)
	d, errD := strconv.Atoi(day)
	if errY != nil || errM != nil || errD != nil {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}
