package timeexpr

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	explicitRe = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})[t ](\d{1,2}):(\d{2})(?::(\d{2})(?:\.\d+)?)?\s*(z|utc|gmt|[+-]\d{2}(?::?\d{2})?)?$`)
	relativeRe = regexp.MustCompile(`^(?:in\s+)?(\d+|an?|one)\s*(minutes?|mins?|m|hours?|hrs?|h)(?:\s+(?:from now|later|time))?$`)
	tomorrowRe = regexp.MustCompile(`^tomorrow(?:\s+(.+))?$`)
	todayRe    = regexp.MustCompile(`^(?:(?:today|later today|this)\s+)?(.+)$`)
	clockRe    = regexp.MustCompile(`^(?:at\s+)?(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m|p\.m|a\.m\.|p\.m\.)?$`)
)

var partsOfDay = map[string]int{
	"morning":   9,
	"noon":      12,
	"afternoon": 14,
	"evening":   18,
}

// parseExplicit handles "YYYY-MM-DD[T ]HH:MM[:SS][zone]". Without a zone marker the
// wall clock is read in loc.
func parseExplicit(s string, loc *time.Location) (time.Time, bool) {
	m := explicitRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	hour, _ := strconv.Atoi(m[4])
	minute, _ := strconv.Atoi(m[5])
	sec := 0
	if m[6] != "" {
		sec, _ = strconv.Atoi(m[6])
	}
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || sec > 59 {
		return time.Time{}, false
	}

	zone := loc
	if m[7] != "" {
		z, ok := parseZone(m[7])
		if !ok {
			return time.Time{}, false
		}
		zone = z
	}
	t := time.Date(year, time.Month(month), day, hour, minute, sec, 0, zone)
	if t.Day() != day {
		// Feb 30 and friends normalize silently in time.Date.
		return time.Time{}, false
	}
	return t, true
}

func parseZone(z string) (*time.Location, bool) {
	switch z {
	case "z", "utc", "gmt":
		return time.UTC, true
	}
	sign := 1
	if z[0] == '-' {
		sign = -1
	}
	digits := strings.ReplaceAll(z[1:], ":", "")
	if len(digits) != 2 && len(digits) != 4 {
		return nil, false
	}
	h, err := strconv.Atoi(digits[:2])
	if err != nil || h > 14 {
		return nil, false
	}
	m := 0
	if len(digits) == 4 {
		m, err = strconv.Atoi(digits[2:])
		if err != nil || m > 59 {
			return nil, false
		}
	}
	offset := sign * (h*3600 + m*60)
	return time.FixedZone(z, offset), true
}

// parseRelative handles "N minutes" / "N hours" with optional "in" and "from now".
func parseRelative(s string) (time.Duration, bool) {
	m := relativeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n := 1
	switch m[1] {
	case "a", "an", "one":
	default:
		v, err := strconv.Atoi(m[1])
		if err != nil || v <= 0 {
			return 0, false
		}
		n = v
	}
	unit := time.Minute
	if strings.HasPrefix(m[2], "h") {
		unit = time.Hour
	}
	if int64(n) > int64(MaxHorizon/unit) {
		return 0, false
	}
	return time.Duration(n) * unit, true
}

// parseTomorrow handles "tomorrow", "tomorrow at 2pm", "tomorrow morning".
// now must already be in the reference zone.
func parseTomorrow(s string, now time.Time, fallbackHour int) (time.Time, bool) {
	m := tomorrowRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	hour, minute := fallbackHour, 0
	if rest := strings.TrimSpace(m[1]); rest != "" {
		h, mm, ok := parseTimeOfDay(rest)
		if !ok {
			return time.Time{}, false
		}
		hour, minute = h, mm
	}
	y, mo, d := now.Date()
	return time.Date(y, mo, d+1, hour, minute, 0, 0, now.Location()), true
}

// parseToday handles "3pm", "at 3:30 pm", "today at 15:00", "this afternoon".
// The caller rolls a passed time forward one day.
func parseToday(s string, now time.Time) (time.Time, bool) {
	m := todayRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	rest := strings.TrimSpace(m[1])
	hasQualifier := rest != s
	_, isPartOfDay := partsOfDay[rest]
	if !hasQualifier && !isPartOfDay && !strings.HasPrefix(rest, "at ") && !hasMeridiemOrMinutes(rest) {
		// bare numbers are not times of day
		return time.Time{}, false
	}
	hour, minute, ok := parseTimeOfDay(rest)
	if !ok {
		return time.Time{}, false
	}
	y, mo, d := now.Date()
	return time.Date(y, mo, d, hour, minute, 0, 0, now.Location()), true
}

func hasMeridiemOrMinutes(s string) bool {
	m := clockRe.FindStringSubmatch(s)
	return m != nil && (m[2] != "" || m[3] != "")
}

// parseTimeOfDay reads "2pm", "at 2:30 pm", "14:00", "morning".
// Without am/pm, hours 1-7 are read as pm.
func parseTimeOfDay(s string) (hour, minute int, ok bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "at ")
	s = strings.TrimPrefix(s, "in the ")
	if h, found := partsOfDay[s]; found {
		return h, 0, true
	}
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if minute > 59 {
		return 0, 0, false
	}

	switch strings.TrimRight(m[3], ".") {
	case "am", "a.m":
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if hour == 12 {
			hour = 0
		}
	case "pm", "p.m":
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if hour != 12 {
			hour += 12
		}
	default:
		if hour > 23 {
			return 0, 0, false
		}
		if hour >= 1 && hour <= 7 {
			hour += 12
		}
	}
	return hour, minute, true
}
