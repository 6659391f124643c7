package queue

import (
	"context"
	"fmt"
	"testing"
	"time"
)

var testScheduledAt = time.Date(2026, time.March, 14, 19, 0, 0, 0, time.UTC)

type stubStore struct {
	reservations map[ReservationID]Reservation
	events       []StatusEvent
	tables       []Table
	assignments  []TableAssignment
	bills        map[ReservationID]Bill
	billSequence int
	billSaves    int
	failures     map[string]error
}

func newStubStore(test *testing.T, tables ...Table) *stubStore {
	test.Helper()
	return &stubStore{
		reservations: make(map[ReservationID]Reservation),
		tables:       append([]Table(nil), tables...),
		bills:        make(map[ReservationID]Bill),
		failures:     make(map[string]error),
	}
}

// failOn makes the named store method return err once reached.
func (store *stubStore) failOn(method string, err error) {
	store.failures[method] = err
}

// WithTx restores the previous state when fn fails.
func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	reservations := make(map[ReservationID]Reservation, len(store.reservations))
	for key, value := range store.reservations {
		reservations[key] = value
	}
	bills := make(map[ReservationID]Bill, len(store.bills))
	for key, value := range store.bills {
		bills[key] = value
	}
	events := append([]StatusEvent(nil), store.events...)
	assignments := append([]TableAssignment(nil), store.assignments...)
	billSequence := store.billSequence

	if err := fn(ctx, store); err != nil {
		store.reservations = reservations
		store.bills = bills
		store.events = events
		store.assignments = assignments
		store.billSequence = billSequence
		return err
	}
	return nil
}

func (store *stubStore) CreateReservation(ctx context.Context, reservation Reservation) error {
	if _, exists := store.reservations[reservation.ID]; exists {
		return ErrReservationExists
	}
	store.reservations[reservation.ID] = reservation
	return nil
}

func (store *stubStore) GetReservation(ctx context.Context, reservationID ReservationID) (Reservation, error) {
	reservation, ok := store.reservations[reservationID]
	if !ok {
		return Reservation{}, ErrUnknownReservation
	}
	return reservation, nil
}

func (store *stubStore) UpdateReservationStatus(ctx context.Context, reservationID ReservationID, from, to ReservationStatus) error {
	reservation, ok := store.reservations[reservationID]
	if !ok {
		return ErrUnknownReservation
	}
	if reservation.Status != from {
		return ErrInvalidTransition
	}
	reservation.Status = to
	store.reservations[reservationID] = reservation
	return nil
}

func (store *stubStore) CancelReservation(ctx context.Context, reservationID ReservationID, from ReservationStatus, cancellation Cancellation) error {
	reservation, ok := store.reservations[reservationID]
	if !ok {
		return ErrUnknownReservation
	}
	if reservation.Status != from {
		return ErrInvalidTransition
	}
	reservation.Status = ReservationStatusCancelled
	reservation.Cancellation = &cancellation
	store.reservations[reservationID] = reservation
	return nil
}

func (store *stubStore) AppendStatusEvent(ctx context.Context, event StatusEvent) error {
	if err := store.failures["AppendStatusEvent"]; err != nil {
		return err
	}
	store.events = append(store.events, event)
	return nil
}

func (store *stubStore) ListStatusEvents(ctx context.Context, reservationID ReservationID) ([]StatusEvent, error) {
	var events []StatusEvent
	for _, event := range store.events {
		if event.ReservationID == reservationID {
			events = append(events, event)
		}
	}
	return events, nil
}

func (store *stubStore) LookupTables(ctx context.Context, numbers []TableNumber) ([]Table, error) {
	var found []Table
	for _, number := range numbers {
		for _, table := range store.tables {
			if table.Number == number {
				found = append(found, table)
			}
		}
	}
	return found, nil
}

func (store *stubStore) ListActiveAssignments(ctx context.Context, reservationID ReservationID) ([]TableAssignment, error) {
	var active []TableAssignment
	for _, assignment := range store.assignments {
		if assignment.ReservationID == reservationID && assignment.Active() {
			active = append(active, assignment)
		}
	}
	return active, nil
}

func (store *stubStore) ListOccupancy(ctx context.Context, tableIDs []TableID, excluding ReservationID) ([]Occupancy, error) {
	wanted := make(map[TableID]struct{}, len(tableIDs))
	for _, tableID := range tableIDs {
		wanted[tableID] = struct{}{}
	}
	var occupancy []Occupancy
	for _, assignment := range store.assignments {
		if !assignment.Active() || assignment.ReservationID == excluding {
			continue
		}
		if _, ok := wanted[assignment.Table.ID]; !ok {
			continue
		}
		owner := store.reservations[assignment.ReservationID]
		occupancy = append(occupancy, Occupancy{
			Table:         assignment.Table,
			ReservationID: owner.ID,
			ScheduledAt:   owner.ScheduledAt,
			Status:        owner.Status,
			Cancelled:     owner.Cancellation != nil,
		})
	}
	return occupancy, nil
}

func (store *stubStore) InsertAssignment(ctx context.Context, assignment TableAssignment) error {
	if err := store.failures["InsertAssignment"]; err != nil {
		return err
	}
	for _, existing := range store.assignments {
		if existing.Active() && existing.ReservationID == assignment.ReservationID && existing.Table.ID == assignment.Table.ID {
			return ErrDuplicateAssignment
		}
	}
	store.assignments = append(store.assignments, assignment)
	return nil
}

func (store *stubStore) ReleaseAssignments(ctx context.Context, reservationID ReservationID, tableIDs []TableID, releasedAt time.Time) error {
	release := make(map[TableID]struct{}, len(tableIDs))
	for _, tableID := range tableIDs {
		release[tableID] = struct{}{}
	}
	for index, assignment := range store.assignments {
		if assignment.ReservationID != reservationID || !assignment.Active() {
			continue
		}
		if _, ok := release[assignment.Table.ID]; ok {
			released := releasedAt
			store.assignments[index].ReleasedAt = &released
		}
	}
	return nil
}

func (store *stubStore) ReleaseAllAssignments(ctx context.Context, reservationID ReservationID, releasedAt time.Time) error {
	if err := store.failures["ReleaseAllAssignments"]; err != nil {
		return err
	}
	for index, assignment := range store.assignments {
		if assignment.ReservationID == reservationID && assignment.Active() {
			released := releasedAt
			store.assignments[index].ReleasedAt = &released
		}
	}
	return nil
}

func (store *stubStore) SaveBill(ctx context.Context, draft BillDraft) (Bill, error) {
	store.billSaves++
	if err := store.failures["SaveBill"]; err != nil {
		return Bill{}, err
	}
	bill, exists := store.bills[draft.ReservationID]
	if !exists {
		store.billSequence++
		bill.ID = fmt.Sprintf("bill-%d", store.billSequence)
	}
	bill.ReservationID = draft.ReservationID
	bill.Total = draft.Total
	bill.PaymentMethod = draft.PaymentMethod
	bill.Status = draft.Status
	bill.PaidAt = draft.PaidAt
	bill.Lines = append([]BillLineItem(nil), draft.Lines...)
	store.bills[draft.ReservationID] = bill
	return bill, nil
}

func (store *stubStore) GetBill(ctx context.Context, reservationID ReservationID) (Bill, error) {
	bill, ok := store.bills[reservationID]
	if !ok {
		return Bill{}, ErrUnknownBill
	}
	return bill, nil
}

func (store *stubStore) putReservation(test *testing.T, raw string, scheduledAt time.Time, partySize int, status ReservationStatus) ReservationID {
	test.Helper()
	reservationID := mustReservationID(test, raw)
	reservation := Reservation{
		ID:          reservationID,
		ScheduledAt: scheduledAt,
		PartySize:   partySize,
		Status:      status,
		CreatedAt:   scheduledAt.Add(-time.Hour),
	}
	if status == ReservationStatusCancelled {
		reservation.Cancellation = &Cancellation{Reason: "seeded", CancelledAt: scheduledAt}
	}
	store.reservations[reservationID] = reservation
	return reservationID
}

func (store *stubStore) putAssignment(test *testing.T, reservationID ReservationID, number TableNumber, assignedAt time.Time) {
	test.Helper()
	table := store.mustTable(test, number)
	store.assignments = append(store.assignments, TableAssignment{ReservationID: reservationID, Table: table, AssignedAt: assignedAt})
}

func (store *stubStore) mustTable(test *testing.T, number TableNumber) Table {
	test.Helper()
	for _, table := range store.tables {
		if table.Number == number {
			return table
		}
	}
	test.Fatalf("table %d not seeded", number)
	return Table{}
}

func (store *stubStore) mustReservation(test *testing.T, reservationID ReservationID) Reservation {
	test.Helper()
	reservation, ok := store.reservations[reservationID]
	if !ok {
		test.Fatalf("reservation %s not found", reservationID)
	}
	return reservation
}

func (store *stubStore) activeNumbers(reservationID ReservationID) []TableNumber {
	var numbers []TableNumber
	for _, assignment := range store.assignments {
		if assignment.ReservationID == reservationID && assignment.Active() {
			numbers = append(numbers, assignment.Table.Number)
		}
	}
	return numbers
}

type failingStore struct {
	err error
}

func newFailingStore(test *testing.T, err error) *failingStore {
	test.Helper()
	return &failingStore{err: err}
}

func (store *failingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *failingStore) CreateReservation(ctx context.Context, reservation Reservation) error {
	return store.err
}

func (store *failingStore) GetReservation(ctx context.Context, reservationID ReservationID) (Reservation, error) {
	return Reservation{}, store.err
}

func (store *failingStore) UpdateReservationStatus(ctx context.Context, reservationID ReservationID, from, to ReservationStatus) error {
	return store.err
}

func (store *failingStore) CancelReservation(ctx context.Context, reservationID ReservationID, from ReservationStatus, cancellation Cancellation) error {
	return store.err
}

func (store *failingStore) AppendStatusEvent(ctx context.Context, event StatusEvent) error {
	return store.err
}

func (store *failingStore) ListStatusEvents(ctx context.Context, reservationID ReservationID) ([]StatusEvent, error) {
	return nil, store.err
}

func (store *failingStore) LookupTables(ctx context.Context, numbers []TableNumber) ([]Table, error) {
	return nil, store.err
}

func (store *failingStore) ListActiveAssignments(ctx context.Context, reservationID ReservationID) ([]TableAssignment, error) {
	return nil, store.err
}

func (store *failingStore) ListOccupancy(ctx context.Context, tableIDs []TableID, excluding ReservationID) ([]Occupancy, error) {
	return nil, store.err
}

func (store *failingStore) InsertAssignment(ctx context.Context, assignment TableAssignment) error {
	return store.err
}

func (store *failingStore) ReleaseAssignments(ctx context.Context, reservationID ReservationID, tableIDs []TableID, releasedAt time.Time) error {
	return store.err
}

func (store *failingStore) ReleaseAllAssignments(ctx context.Context, reservationID ReservationID, releasedAt time.Time) error {
	return store.err
}

func (store *failingStore) SaveBill(ctx context.Context, draft BillDraft) (Bill, error) {
	return Bill{}, store.err
}

func (store *failingStore) GetBill(ctx context.Context, reservationID ReservationID) (Bill, error) {
	return Bill{}, store.err
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() time.Time { return testScheduledAt }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustReservationID(test *testing.T, raw string) ReservationID {
	test.Helper()
	reservationID, err := NewReservationID(raw)
	if err != nil {
		test.Fatalf("reservation id: %v", err)
	}
	return reservationID
}

func mustActorID(test *testing.T, raw string) ActorID {
	test.Helper()
	actorID, err := NewActorID(raw)
	if err != nil {
		test.Fatalf("actor id: %v", err)
	}
	return actorID
}

func restaurantTables() []Table {
	return []Table{
		{ID: 1, Number: 1, Capacity: 2},
		{ID: 3, Number: 3, Capacity: 4},
		{ID: 5, Number: 5, Capacity: 4},
		{ID: 7, Number: 7, Capacity: 6},
	}
}

func intPointer(value int) *int {
	return &value
}

func amountPointer(value AmountCents) *AmountCents {
	return &value
}
