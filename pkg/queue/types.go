package queue

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AmountCents is an integer currency amount in minor units.
type AmountCents int64

// MaxAmountCents bounds every price, line subtotal and bill total.
const MaxAmountCents AmountCents = 10_000_000_000_000

// AmountFromMajor converts a major-unit amount. Negative and NaN input clamp to zero; anything above
// MaxAmountCents fails with ErrAmountOverflow.
func AmountFromMajor(raw float64) (AmountCents, error) {
	if math.IsNaN(raw) || raw <= 0 {
		return 0, nil
	}
	cents := math.Round(raw * 100)
	if math.IsInf(cents, 0) || cents > float64(MaxAmountCents) {
		return 0, fmt.Errorf("%w: %v", ErrAmountOverflow, raw)
	}
	return AmountCents(cents), nil
}

// Int64 returns the raw minor-unit value.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// Major returns the amount in major units.
func (amount AmountCents) Major() float64 {
	return float64(amount) / 100
}

func (amount AmountCents) clamped() AmountCents {
	if amount < 0 {
		return 0
	}
	return amount
}

// ReservationID identifies a reservation.
type ReservationID struct {
	value string
}

// NewReservationID validates and normalizes a reservation id.
func NewReservationID(raw string) (ReservationID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ReservationID{}, fmt.Errorf("%w: empty value", ErrInvalidReservationID)
	}
	return ReservationID{value: trimmed}, nil
}

func newGeneratedReservationID() ReservationID {
	return ReservationID{value: uuid.NewString()}
}

// String returns the normalized identifier.
func (id ReservationID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id ReservationID) IsZero() bool {
	return id.value == ""
}

// ActorID identifies the staff member performing an operation.
type ActorID struct {
	value string
}

// NewActorID validates and normalizes an actor id.
func NewActorID(raw string) (ActorID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ActorID{}, fmt.Errorf("%w: empty value", ErrInvalidActorID)
	}
	return ActorID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ActorID) String() string {
	return id.value
}

// TableID is the catalog's internal table identifier.
type TableID int64

// Int64 returns the raw identifier.
func (id TableID) Int64() int64 {
	return int64(id)
}

// TableNumber is the staff-facing table number.
type TableNumber int

// NewTableNumber validates a table number.
func NewTableNumber(raw int) (TableNumber, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidTableNumber, raw)
	}
	return TableNumber(raw), nil
}

// Int returns the raw number.
func (number TableNumber) Int() int {
	return int(number)
}

// Table is a physical seating unit from the catalog.
type Table struct {
	ID       TableID
	Number   TableNumber
	Capacity int
}

// AllowedCapacity sums capacity plus per-table slack over tables.
func AllowedCapacity(tables []Table) int {
	allowed := 0
	for _, table := range tables {
		capacity := table.Capacity
		if capacity < 0 {
			capacity = 0
		}
		allowed += capacity + seatSlackPerTable
	}
	return allowed
}

// ReservationStatus defines the reservation lifecycle.
type ReservationStatus string

const (
	ReservationStatusWaiting   ReservationStatus = "waiting"
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	ReservationStatusSeated    ReservationStatus = "seated"
	ReservationStatusPaid      ReservationStatus = "paid"
	ReservationStatusCancelled ReservationStatus = "cancelled"
)

var reservationStatusSynonyms = map[string]ReservationStatus{
	"waiting":   ReservationStatusWaiting,
	"wait":      ReservationStatusWaiting,
	"pending":   ReservationStatusWaiting,
	"queued":    ReservationStatusWaiting,
	"confirmed": ReservationStatusConfirmed,
	"confirm":   ReservationStatusConfirmed,
	"seated":    ReservationStatusSeated,
	"seat":      ReservationStatusSeated,
	"paid":      ReservationStatusPaid,
	"pay":       ReservationStatusPaid,
	"cancelled": ReservationStatusCancelled,
	"canceled":  ReservationStatusCancelled,
	"cancel":    ReservationStatusCancelled,
}

// ParseReservationStatus folds loosely-cased status spellings into the canonical enum.
func ParseReservationStatus(raw string) (ReservationStatus, error) {
	status, ok := reservationStatusSynonyms[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return status, nil
}

// String returns the canonical value.
func (status ReservationStatus) String() string {
	return string(status)
}

// IsTerminal reports whether no further transition is allowed.
func (status ReservationStatus) IsTerminal() bool {
	return status == ReservationStatusPaid || status == ReservationStatusCancelled
}

// Valid reports whether status is one of the defined values.
func (status ReservationStatus) Valid() bool {
	switch status {
	case ReservationStatusWaiting, ReservationStatusConfirmed, ReservationStatusSeated, ReservationStatusPaid, ReservationStatusCancelled:
		return true
	}
	return false
}

// Action is a status change requested by a caller.
type Action string

const (
	ActionConfirm Action = "confirm"
	ActionSeat    Action = "seat"
	ActionPay     Action = "paid"
	ActionCancel  Action = "cancel"
)

// ParseAction folds a requested action through the same synonym table as statuses.
func ParseAction(raw string) (Action, error) {
	status, err := ParseReservationStatus(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, raw)
	}
	switch status {
	case ReservationStatusConfirmed:
		return ActionConfirm, nil
	case ReservationStatusSeated:
		return ActionSeat, nil
	case ReservationStatusPaid:
		return ActionPay, nil
	case ReservationStatusCancelled:
		return ActionCancel, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, raw)
}

// Cancellation records who cancelled a reservation and why.
type Cancellation struct {
	Reason      string
	ActorID     ActorID
	CancelledAt time.Time
}

// Reservation is one party's booking.
type Reservation struct {
	ID           ReservationID
	ScheduledAt  time.Time
	PartySize    int
	ChildCount   int
	ContactName  string
	Status       ReservationStatus
	Cancellation *Cancellation
	CreatedAt    time.Time
}

// Validate checks the status enum and the cancellation metadata invariant.
func (reservation Reservation) Validate() error {
	if reservation.ID.IsZero() {
		return ErrInvalidReservationID
	}
	if !reservation.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, reservation.Status)
	}
	cancelled := reservation.Status == ReservationStatusCancelled
	if cancelled != (reservation.Cancellation != nil) {
		return fmt.Errorf("%w: cancellation metadata does not match status %s", ErrInvalidReservationRow, reservation.Status)
	}
	return nil
}

// TableAssignment links a reservation to a table for a span of time.
type TableAssignment struct {
	ReservationID ReservationID
	Table         Table
	AssignedAt    time.Time
	ReleasedAt    *time.Time
}

// Active reports whether the assignment has not been released.
func (assignment TableAssignment) Active() bool {
	return assignment.ReleasedAt == nil
}

// Occupancy is an active assignment of some reservation joined with its owner's state.
type Occupancy struct {
	Table         Table
	ReservationID ReservationID
	ScheduledAt   time.Time
	Status        ReservationStatus
	Cancelled     bool
}

// StatusEvent is one entry of a reservation's status history.
type StatusEvent struct {
	ReservationID ReservationID
	From          ReservationStatus
	To            ReservationStatus
	ActorID       string
	Reason        string
	OccurredAt    time.Time
}

// RegistrationInput describes a new party joining the queue.
type RegistrationInput struct {
	ScheduledAt time.Time
	PartySize   int
	ChildCount  int
	ContactName string
}

// SeatingResult summarises a successful table assignment.
type SeatingResult struct {
	Tables          []Table
	AllowedCapacity int
	PartySize       int
	Added           []TableNumber
	Released        []TableNumber
}

// ReservationView aggregates a reservation with its current seating and bill. InWindow is true while
// the service clock falls inside the dining window.
type ReservationView struct {
	Reservation Reservation
	Assignments []TableAssignment
	Bill        *Bill
	Window      DiningWindow
	InWindow    bool
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreateReservation(ctx context.Context, reservation Reservation) error
	GetReservation(ctx context.Context, reservationID ReservationID) (Reservation, error)
	UpdateReservationStatus(ctx context.Context, reservationID ReservationID, from, to ReservationStatus) error
	CancelReservation(ctx context.Context, reservationID ReservationID, from ReservationStatus, cancellation Cancellation) error
	AppendStatusEvent(ctx context.Context, event StatusEvent) error
	ListStatusEvents(ctx context.Context, reservationID ReservationID) ([]StatusEvent, error)
	LookupTables(ctx context.Context, numbers []TableNumber) ([]Table, error)
	ListActiveAssignments(ctx context.Context, reservationID ReservationID) ([]TableAssignment, error)
	ListOccupancy(ctx context.Context, tableIDs []TableID, excluding ReservationID) ([]Occupancy, error)
	InsertAssignment(ctx context.Context, assignment TableAssignment) error
	ReleaseAssignments(ctx context.Context, reservationID ReservationID, tableIDs []TableID, releasedAt time.Time) error
	ReleaseAllAssignments(ctx context.Context, reservationID ReservationID, releasedAt time.Time) error
	SaveBill(ctx context.Context, draft BillDraft) (Bill, error)
	GetBill(ctx context.Context, reservationID ReservationID) (Bill, error)
}
