package queue

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// occupyingStatuses are the statuses that hold a table. Paid parties have already left.
var occupyingStatuses = map[ReservationStatus]struct{}{
	ReservationStatusConfirmed: {},
	ReservationStatusSeated:    {},
}

// ConflictResolver decides whether a reservation may occupy a set of tables.
type ConflictResolver struct {
	halfWidth time.Duration
}

// NewConflictResolver builds a resolver for dining windows of the given half-width.
func NewConflictResolver(halfWidth time.Duration) (ConflictResolver, error) {
	if halfWidth <= 0 {
		return ConflictResolver{}, fmt.Errorf("%w: dining half-width must be positive", ErrInvalidServiceConfig)
	}
	return ConflictResolver{halfWidth: halfWidth}, nil
}

// HalfWidth returns the configured window half-width.
func (resolver ConflictResolver) HalfWidth() time.Duration {
	return resolver.halfWidth
}

// Window returns the dining window for a scheduled time.
func (resolver ConflictResolver) Window(scheduledAt time.Time) DiningWindow {
	return NewDiningWindow(scheduledAt, resolver.halfWidth)
}

// Conflicts returns the sorted candidate table numbers held by another active party whose window overlaps window.
func (resolver ConflictResolver) Conflicts(reservationID ReservationID, window DiningWindow, candidates []Table, occupancy []Occupancy) []TableNumber {
	candidateNumbers := make(map[TableID]TableNumber, len(candidates))
	for _, table := range candidates {
		candidateNumbers[table.ID] = table.Number
	}
	conflicting := make(map[TableNumber]struct{})
	for _, occupied := range occupancy {
		number, isCandidate := candidateNumbers[occupied.Table.ID]
		if !isCandidate {
			continue
		}
		if occupied.ReservationID == reservationID {
			continue
		}
		if !holdsTable(occupied) {
			continue
		}
		if !window.Overlaps(resolver.Window(occupied.ScheduledAt)) {
			continue
		}
		conflicting[number] = struct{}{}
	}
	numbers := make([]TableNumber, 0, len(conflicting))
	for number := range conflicting {
		numbers = append(numbers, number)
	}
	sort.Slice(numbers, func(left, right int) bool { return numbers[left] < numbers[right] })
	return numbers
}

// Check loads occupancy for candidates from store and fails with TableConflictError on any overlap.
func (resolver ConflictResolver) Check(ctx context.Context, store Store, reservation Reservation, candidates []Table) error {
	tableIDs := make([]TableID, 0, len(candidates))
	for _, table := range candidates {
		tableIDs = append(tableIDs, table.ID)
	}
	occupancy, err := store.ListOccupancy(ctx, tableIDs, reservation.ID)
	if err != nil {
		return err
	}
	conflicts := resolver.Conflicts(reservation.ID, resolver.Window(reservation.ScheduledAt), candidates, occupancy)
	if len(conflicts) > 0 {
		return TableConflictError{Numbers: conflicts}
	}
	return nil
}

func holdsTable(occupied Occupancy) bool {
	if occupied.Cancelled {
		return false
	}
	_, occupying := occupyingStatuses[occupied.Status]
	return occupying
}
