package analyzer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/skiddly/skiddly/model"
)

var (
	clockPattern    = regexp.MustCompile(`(?i)\b(\d{1,2})(?::([0-5]\d))?\s*(a\.?\s?m\b\.?|p\.?\s?m\b\.?)`)
	clock24Pattern  = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	noonPattern     = regexp.MustCompile(`(?i)\b(noon|midday)\b`)
	isoDatePattern  = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	monthDayPattern = regexp.MustCompile(`(?i)\b(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?\s+(\d{1,2})(?:st|nd|rd|th)?\b`)
	weekdayPattern  = regexp.MustCompile(`(?i)\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	dayAfterPattern = regexp.MustCompile(`(?i)\bday after tomorrow\b`)
	tomorrowPattern = regexp.MustCompile(`(?i)\btomorrow\b`)
	tonightPattern  = regexp.MustCompile(`(?i)\btonight\b`)
	todayPattern    = regexp.MustCompile(`(?i)\b(today|later today|this (?:afternoon|evening))\b`)
	zonePattern     = regexp.MustCompile(`\b(EST|EDT|ET|CST|CDT|CT|MST|MDT|MT|PST|PDT|PT|UTC|GMT)\b`)
	relativePattern = regexp.MustCompile(`(?i)\bin\s+(an?|one|two|three|four|five|six|ten|fifteen|twenty|thirty|forty[- ]five|\d{1,3})\s+(minutes?|mins?|hours?|hrs?|days?)\b`)
	halfHourPattern = regexp.MustCompile(`(?i)\bin\s+(?:a\s+)?half\s+(?:an\s+)?hour\b`)
	callbackPattern = regexp.MustCompile(`(?i)\b(call|calling|ring|try|reach|contact|talk|speak)\b`)
	speakerPattern  = regexp.MustCompile(`(?i)^\s*(user|customer|caller)\s*:\s*`)
)

var numberWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"ten": 10, "fifteen": 15, "twenty": 20, "thirty": 30, "forty-five": 45, "forty five": 45,
}

// zoneAbbreviations maps the spoken abbreviations the extractor recognises onto IANA zones.
var zoneAbbreviations = map[string]string{
	"EST": "America/New_York", "EDT": "America/New_York", "ET": "America/New_York",
	"CST": "America/Chicago", "CDT": "America/Chicago", "CT": "America/Chicago",
	"MST": "America/Denver", "MDT": "America/Denver", "MT": "America/Denver",
	"PST": "America/Los_Angeles", "PDT": "America/Los_Angeles", "PT": "America/Los_Angeles",
	"UTC": "UTC", "GMT": "UTC",
}

// ExtractReschedule pulls callback hints out of a transcript. Customer turns are searched
// first; the whole transcript is used when they carry no hint.
func ExtractReschedule(transcript string) model.StructuredData {
	sd := extractHints(customerTurns(transcript))
	if !sd.HasRescheduleHint() {
		sd = extractHints(transcript)
	}
	return sd
}

func customerTurns(transcript string) string {
	var b strings.Builder
	for _, line := range strings.Split(transcript, "\n") {
		if loc := speakerPattern.FindStringIndex(line); loc != nil {
			b.WriteString(line[loc[1]:])
			b.WriteString("\n")
		}
	}
	return b.String()
}

func extractHints(text string) model.StructuredData {
	var sd model.StructuredData
	if strings.TrimSpace(text) == "" {
		return sd
	}

	sd.RescheduleTime = findClock(text)
	sd.RescheduleDate = findDate(text)
	if m := zonePattern.FindStringSubmatch(text); m != nil {
		sd.RescheduleTimezone = m[1]
	}
	sd.RelativeTime = findRelative(text)

	sd.RescheduleRequested = sd.HasRescheduleHint() && callbackPattern.MatchString(text)
	return sd
}

func findClock(text string) string {
	if m := clockPattern.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		if hour >= 1 && hour <= 12 {
			minute := 0
			if m[2] != "" {
				minute, _ = strconv.Atoi(m[2])
			}
			meridiem := "AM"
			if strings.HasPrefix(strings.ToLower(m[3]), "p") {
				meridiem = "PM"
			}
			return fmt.Sprintf("%d:%02d %s", hour, minute, meridiem)
		}
	}
	if noonPattern.MatchString(text) {
		return "12:00 PM"
	}
	if m := clock24Pattern.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		return fmt.Sprintf("%02d:%s", hour, m[2])
	}
	return ""
}

func findDate(text string) string {
	switch {
	case dayAfterPattern.MatchString(text):
		return "day after tomorrow"
	case tomorrowPattern.MatchString(text):
		return "tomorrow"
	case tonightPattern.MatchString(text):
		return "tonight"
	case todayPattern.MatchString(text):
		return "today"
	}
	if m := isoDatePattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := monthDayPattern.FindStringSubmatch(text); m != nil {
		if month, ok := parseMonth(m[1]); ok {
			return fmt.Sprintf("%s %s", month.String(), m[2])
		}
	}
	if m := weekdayPattern.FindStringSubmatch(text); m != nil {
		w := strings.ToLower(m[1])
		return strings.ToUpper(w[:1]) + w[1:]
	}
	return ""
}

func findRelative(text string) string {
	if halfHourPattern.MatchString(text) {
		return "in 30 minutes"
	}
	m := relativePattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	n, ok := numberWords[strings.ToLower(m[1])]
	if !ok {
		var err error
		if n, err = strconv.Atoi(m[1]); err != nil || n <= 0 {
			return ""
		}
	}
	unit := strings.ToLower(m[2])
	switch {
	case strings.HasPrefix(unit, "min"):
		unit = "minutes"
	case strings.HasPrefix(unit, "h"):
		unit = "hours"
	default:
		unit = "days"
	}
	return fmt.Sprintf("in %d %s", n, unit)
}

func parseMonth(s string) (time.Month, bool) {
	prefix := strings.ToLower(s)
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	for m := time.January; m <= time.December; m++ {
		if strings.ToLower(m.String()[:3]) == prefix {
			return m, true
		}
	}
	return 0, false
}

// LocationFor resolves a spoken timezone abbreviation or an IANA name.
func LocationFor(zone string) (*time.Location, bool) {
	zone = strings.TrimSpace(zone)
	if zone == "" {
		return nil, false
	}
	if name, ok := zoneAbbreviations[strings.ToUpper(zone)]; ok {
		zone = name
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, false
	}
	return loc, true
}

// ResolveRescheduleTime turns extracted reschedule hints into an instant. Relative hints are
// added to asOf. A date with no time resolves to the start of that day, a time with no date
// resolves to its next occurrence. Hints without a zone are read in defaultLoc.
func ResolveRescheduleTime(sd model.StructuredData, asOf time.Time, defaultLoc *time.Location) (time.Time, bool) {
	if d, ok := parseRelative(sd.RelativeTime); ok {
		return asOf.Add(d), true
	}

	loc, ok := LocationFor(sd.RescheduleTimezone)
	if !ok {
		loc = defaultLoc
	}
	if loc == nil {
		loc = time.UTC
	}
	now := asOf.In(loc)

	hour, minute, hasClock := parseSpokenClock(sd.RescheduleTime)
	year, month, day, hasDate := resolveDate(sd.RescheduleDate, now)

	switch {
	case hasDate && hasClock:
		return time.Date(year, month, day, hour, minute, 0, 0, loc), true
	case hasDate:
		if strings.EqualFold(sd.RescheduleDate, "tonight") {
			return time.Date(year, month, day, 19, 0, 0, 0, loc), true
		}
		return time.Date(year, month, day, 0, 0, 0, 0, loc), true
	case hasClock:
		t := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)
		if !t.After(now) {
			t = time.Date(now.Year(), now.Month(), now.Day()+1, hour, minute, 0, 0, loc)
		}
		return t, true
	}
	return time.Time{}, false
}

func parseRelative(s string) (time.Duration, bool) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) != 3 || fields[0] != "in" {
		return 0, false
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	switch fields[2] {
	case "minutes":
		return time.Duration(n) * time.Minute, true
	case "hours":
		return time.Duration(n) * time.Hour, true
	case "days":
		return time.Duration(n) * 24 * time.Hour, true
	}
	return 0, false
}

func parseSpokenClock(s string) (int, int, bool) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, 0, false
	}
	for _, layout := range []string{"3:04 PM", "3:04PM", "3 PM", "3PM", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour(), t.Minute(), true
		}
	}
	return 0, 0, false
}

func resolveDate(s string, now time.Time) (int, time.Month, int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, 0, false
	}
	y, m, d := now.Date()

	switch strings.ToLower(s) {
	case "today", "tonight":
		return y, m, d, true
	case "tomorrow":
		t := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
		return t.Year(), t.Month(), t.Day(), true
	case "day after tomorrow":
		t := time.Date(y, m, d+2, 0, 0, 0, 0, now.Location())
		return t.Year(), t.Month(), t.Day(), true
	}

	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t.Year(), t.Month(), t.Day(), true
	}

	if fields := strings.Fields(s); len(fields) == 2 {
		if month, ok := parseMonth(fields[0]); ok {
			if day, err := strconv.Atoi(fields[1]); err == nil && day >= 1 && day <= 31 {
				year := y
				if month < m || (month == m && day < d) {
					year++
				}
				return year, month, day, true
			}
		}
	}

	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if strings.EqualFold(wd.String(), s) {
			ahead := (int(wd) - int(now.Weekday()) + 7) % 7
			if ahead == 0 {
				ahead = 7
			}
			t := time.Date(y, m, d+ahead, 0, 0, 0, 0, now.Location())
			return t.Year(), t.Month(), t.Day(), true
		}
	}
	return 0, 0, 0, false
}
