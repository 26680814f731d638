// Package timeslot holds the wall-clock arithmetic shared by the slot
// generator and the booking engine: slicing a center's operating hours into
// labeled windows and finding the next slot boundary after a given moment.
// All computations happen in the deployment's configured time zone.
package timeslot

import (
	"fmt"
	"strings"
	"time"
)

const clockLayout = "15:04"

// At anchors a "HH:MM" clock string on day's calendar date in loc.
func At(day time.Time, clock string, loc *time.Location) (time.Time, error) {
	parsed, err := time.Parse(clockLayout, clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid clock %q: %w", clock, err)
	}
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, parsed.Hour(), parsed.Minute(), 0, 0, loc), nil
}

// LabelStart returns the start moment of a "HH:MM-HH:MM" label on day's date.
func LabelStart(day time.Time, label string, loc *time.Location) (time.Time, error) {
	start, _, ok := strings.Cut(label, "-")
	if !ok {
		return time.Time{}, fmt.Errorf("invalid slot label %q", label)
	}
	return At(day, start, loc)
}

// NextBoundary returns the next slot-duration boundary strictly after t.
// A moment sitting exactly on a boundary advances a full slot, so an
// already-started slice is never considered bookable.
func NextBoundary(t time.Time, slotMinutes int) time.Time {
	if slotMinutes <= 0 {
		return t
	}
	advance := slotMinutes - t.Minute()%slotMinutes
	return t.Truncate(time.Minute).Add(time.Duration(advance) * time.Minute)
}

// Grid slices the open-close window of day into consecutive labels of
// slotMinutes each, dropping any slice that would spill past closing time.
// When day is now's calendar date the grid starts no earlier than the next
// slot boundary after now; future days start exactly at opening time. An
// empty result means the day yields no bookable slices.
func Grid(day time.Time, openClock, closeClock string, slotMinutes int, now time.Time, loc *time.Location) ([]string, error) {
	if slotMinutes <= 0 {
		return nil, fmt.Errorf("invalid slot duration %d", slotMinutes)
	}

	open, err := At(day, openClock, loc)
	if err != nil {
		return nil, err
	}
	closeAt, err := At(day, closeClock, loc)
	if err != nil {
		return nil, err
	}

	var earliest time.Time
	if SameDate(day, now, loc) {
		earliest = NextBoundary(now.In(loc), slotMinutes)
	}

	dur := time.Duration(slotMinutes) * time.Minute

	var labels []string
	for start := open; ; start = start.Add(dur) {
		end := start.Add(dur)
		if end.After(closeAt) {
			break
		}
		if !earliest.IsZero() && start.Before(earliest) {
			continue
		}
		labels = append(labels, start.Format(clockLayout)+"-"+end.Format(clockLayout))
	}

	return labels, nil
}

// SameDate reports whether a and b fall on the same calendar date in loc.
func SameDate(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
