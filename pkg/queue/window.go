package queue

import "time"

// DiningWindow is the interval during which a reservation occupies its tables.
type DiningWindow struct {
	Start time.Time
	End   time.Time
}

// NewDiningWindow centres a window of the given half-width on scheduledAt.
func NewDiningWindow(scheduledAt time.Time, halfWidth time.Duration) DiningWindow {
	return DiningWindow{
		Start: scheduledAt.Add(-halfWidth),
		End:   scheduledAt.Add(halfWidth),
	}
}

// Overlaps reports whether both windows share any instant. Windows that only touch do not overlap.
func (window DiningWindow) Overlaps(other DiningWindow) bool {
	return window.Start.Before(other.End) && other.Start.Before(window.End)
}

// Contains reports whether instant falls strictly inside the window.
func (window DiningWindow) Contains(instant time.Time) bool {
	return window.Start.Before(instant) && instant.Before(window.End)
}
