package queue

import (
	"context"
	"fmt"
	"sort"
)

// AssignTables makes the given tables the exact active seating of a reservation and marks it seated.
// A non-positive partySize falls back to the reservation's party size. Re-submitting the current
// seating changes nothing.
func (service *Service) AssignTables(ctx context.Context, reservationID ReservationID, numbers []TableNumber, partySize int) (SeatingResult, error) {
	requested, err := normalizeTableNumbers(numbers)
	if err != nil {
		service.logOperation(ctx, OperationLog{Operation: operationAssign, ReservationID: reservationID, Tables: numbers, Error: err})
		return SeatingResult{}, err
	}
	now := service.now()
	var (
		result   SeatingResult
		previous ReservationStatus
	)
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		reservation, err := transactionStore.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		previous = reservation.Status
		if reservation.Status.IsTerminal() {
			return invalidTransition(reservation.Status, ReservationStatusSeated)
		}
		if reservation.ScheduledAt.IsZero() {
			return fmt.Errorf("%w: reservation %s has no scheduled time", ErrInvalidSchedule, reservationID)
		}

		tables, err := transactionStore.LookupTables(ctx, requested)
		if err != nil {
			return err
		}
		if missing := missingTableNumbers(requested, tables); len(missing) > 0 {
			return TablesNotFoundError{Numbers: missing}
		}

		effectiveParty := partySize
		if effectiveParty <= 0 {
			effectiveParty = reservation.PartySize
		}
		allowed := AllowedCapacity(tables)
		if effectiveParty > allowed {
			return CapacityExceededError{PartySize: effectiveParty, AllowedCapacity: allowed}
		}

		if err := service.resolver.Check(ctx, transactionStore, reservation, tables); err != nil {
			return err
		}

		active, err := transactionStore.ListActiveAssignments(ctx, reservationID)
		if err != nil {
			return err
		}
		added, released := reconcileSeating(tables, active)
		if len(released) > 0 {
			releasedIDs := make([]TableID, 0, len(released))
			for _, table := range released {
				releasedIDs = append(releasedIDs, table.ID)
			}
			if err := transactionStore.ReleaseAssignments(ctx, reservationID, releasedIDs, now); err != nil {
				return err
			}
		}
		for _, table := range added {
			if err := transactionStore.InsertAssignment(ctx, TableAssignment{
				ReservationID: reservationID,
				Table:         table,
				AssignedAt:    now,
			}); err != nil {
				return err
			}
		}
		if reservation.Status != ReservationStatusSeated {
			if err := service.transition(ctx, transactionStore, reservationID, reservation.Status, ReservationStatusSeated, now); err != nil {
				return err
			}
		}

		result = SeatingResult{
			Tables:          tables,
			AllowedCapacity: allowed,
			PartySize:       effectiveParty,
			Added:           tableNumbersOf(added),
			Released:        tableNumbersOf(released),
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:         operationAssign,
		ReservationID:     reservationID,
		ReservationStatus: ReservationStatusSeated,
		Tables:            requested,
		Error:             operationError,
	})
	if operationError != nil {
		return SeatingResult{}, operationError
	}
	if previous != ReservationStatusSeated || len(result.Added) > 0 || len(result.Released) > 0 {
		service.dispatch(ctx, Event{
			Type:           EventReservationSeated,
			ReservationID:  reservationID,
			Status:         ReservationStatusSeated,
			PreviousStatus: previous,
			Tables:         requested,
			OccurredAt:     now,
		})
	}
	return result, nil
}

// Seat marks a reservation seated on the tables it already holds.
func (service *Service) Seat(ctx context.Context, reservationID ReservationID, partySize int) (SeatingResult, error) {
	active, err := service.store.ListActiveAssignments(ctx, reservationID)
	if err != nil {
		return SeatingResult{}, err
	}
	if len(active) == 0 {
		if _, err := service.store.GetReservation(ctx, reservationID); err != nil {
			return SeatingResult{}, err
		}
		return SeatingResult{}, fmt.Errorf("%w: reservation %s holds no tables", ErrNoTablesRequested, reservationID)
	}
	return service.AssignTables(ctx, reservationID, assignmentNumbers(active), partySize)
}

func normalizeTableNumbers(numbers []TableNumber) ([]TableNumber, error) {
	seen := make(map[TableNumber]struct{}, len(numbers))
	unique := make([]TableNumber, 0, len(numbers))
	for _, number := range numbers {
		if number <= 0 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidTableNumber, number)
		}
		if _, duplicate := seen[number]; duplicate {
			continue
		}
		seen[number] = struct{}{}
		unique = append(unique, number)
	}
	if len(unique) == 0 {
		return nil, ErrNoTablesRequested
	}
	sort.Slice(unique, func(left, right int) bool { return unique[left] < unique[right] })
	return unique, nil
}

func missingTableNumbers(requested []TableNumber, found []Table) []TableNumber {
	present := make(map[TableNumber]struct{}, len(found))
	for _, table := range found {
		present[table.Number] = struct{}{}
	}
	var missing []TableNumber
	for _, number := range requested {
		if _, ok := present[number]; !ok {
			missing = append(missing, number)
		}
	}
	return missing
}

// reconcileSeating diffs the desired tables against the active assignments.
func reconcileSeating(desired []Table, active []TableAssignment) (added []Table, released []Table) {
	desiredIDs := make(map[TableID]struct{}, len(desired))
	for _, table := range desired {
		desiredIDs[table.ID] = struct{}{}
	}
	activeIDs := make(map[TableID]struct{}, len(active))
	for _, assignment := range active {
		activeIDs[assignment.Table.ID] = struct{}{}
		if _, keep := desiredIDs[assignment.Table.ID]; !keep {
			released = append(released, assignment.Table)
		}
	}
	for _, table := range desired {
		if _, held := activeIDs[table.ID]; !held {
			added = append(added, table)
		}
	}
	return added, released
}

func tableNumbersOf(tables []Table) []TableNumber {
	numbers := make([]TableNumber, 0, len(tables))
	for _, table := range tables {
		numbers = append(numbers, table.Number)
	}
	return numbers
}
