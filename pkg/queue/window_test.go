package queue

import (
	"testing"
	"time"
)

func TestDiningWindowOverlap(test *testing.T) {
	test.Parallel()
	base := NewDiningWindow(testScheduledAt, 90*time.Minute)
	if !base.Start.Equal(testScheduledAt.Add(-90*time.Minute)) || !base.End.Equal(testScheduledAt.Add(90*time.Minute)) {
		test.Fatalf("unexpected window bounds: %+v", base)
	}
	testCases := []struct {
		name     string
		offset   time.Duration
		overlaps bool
	}{
		{name: "same instant", offset: 0, overlaps: true},
		{name: "one hour later", offset: time.Hour, overlaps: true},
		{name: "one minute short of touching", offset: 179 * time.Minute, overlaps: true},
		{name: "touching boundary", offset: 180 * time.Minute, overlaps: false},
		{name: "touching boundary earlier", offset: -180 * time.Minute, overlaps: false},
		{name: "far apart", offset: 6 * time.Hour, overlaps: false},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			other := NewDiningWindow(testScheduledAt.Add(testCase.offset), 90*time.Minute)
			if got := base.Overlaps(other); got != testCase.overlaps {
				test.Fatalf("expected overlaps=%v, got %v", testCase.overlaps, got)
			}
			if base.Overlaps(other) != other.Overlaps(base) {
				test.Fatalf("expected overlap to be symmetric")
			}
		})
	}
}

func TestDiningWindowContains(test *testing.T) {
	test.Parallel()
	window := NewDiningWindow(testScheduledAt, time.Hour)
	if !window.Contains(testScheduledAt) {
		test.Fatalf("expected window to contain its centre")
	}
	if window.Contains(window.End) || window.Contains(window.Start) {
		test.Fatalf("expected open bounds")
	}
}
