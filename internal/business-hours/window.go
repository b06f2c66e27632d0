/*
Copyright 2024 Skiddly Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package businesshours clips candidate call times into a daily calling window.
package businesshours

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is a local wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" (24-hour). "9:00" is accepted.
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return Clock{}, fmt.Errorf("invalid clock %q: expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return Clock{}, fmt.Errorf("invalid clock %q: hour must be 0-23", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || len(parts[1]) != 2 {
		return Clock{}, fmt.Errorf("invalid clock %q: minute must be 00-59", s)
	}
	return Clock{Hour: h, Minute: m}, nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c Clock) minutes() int {
	return c.Hour*60 + c.Minute
}

// Window is a daily [Start, End) calling window in Location.
type Window struct {
	Start         Clock
	End           Clock
	Location      *time.Location
	AllowWeekends bool
}

// NewWindow builds a window from "HH:MM" bounds and an IANA timezone name.
func NewWindow(start, end, timezone string, allowWeekends bool) (Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, err
	}
	if e.minutes() <= s.minutes() {
		return Window{}, fmt.Errorf("business hours end %s must be after start %s", e, s)
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return Window{}, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	return Window{Start: s, End: e, Location: loc, AllowWeekends: allowWeekends}, nil
}

func (w Window) location() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}

func (w Window) allowedDay(t time.Time) bool {
	if w.AllowWeekends {
		return true
	}
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// at returns the instant of clock c on the local calendar day of t, offset by days.
func (w Window) at(t time.Time, days int, c Clock) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+days, c.Hour, c.Minute, 0, 0, w.location())
}

// Contains reports whether t falls inside the window on an allowed day.
func (w Window) Contains(t time.Time) bool {
	local := t.In(w.location())
	if !w.allowedDay(local) {
		return false
	}
	return !local.Before(w.at(local, 0, w.Start)) && local.Before(w.at(local, 0, w.End))
}

// Clip moves t forward to the earliest instant inside the window. Times already inside
// the window are returned unchanged (in the window's location).
func (w Window) Clip(t time.Time) time.Time {
	local := t.In(w.location())

	// A week is enough to reach an allowed weekday from any starting point.
	for i := 0; i < 8; i++ {
		if !w.allowedDay(local) {
			local = w.at(local, 1, w.Start)
			continue
		}

		start := w.at(local, 0, w.Start)
		end := w.at(local, 0, w.End)
		switch {
		case local.Before(start):
			return start
		case !local.Before(end):
			local = w.at(local, 1, w.Start)
		default:
			return local
		}
	}
	return local
}
