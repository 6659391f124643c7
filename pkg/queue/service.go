package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Service runs the reservation lifecycle over a Store.
type Service struct {
	store     Store
	nowFn     func() time.Time
	logger    OperationLogger
	notifier  Notifier
	halfWidth time.Duration
	resolver  ConflictResolver
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, halfWidth: DefaultDiningHalfWidth}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	resolver, err := NewConflictResolver(service.halfWidth)
	if err != nil {
		return nil, err
	}
	service.resolver = resolver
	return service, nil
}

// Register puts a new party into the queue in the waiting status.
func (service *Service) Register(ctx context.Context, input RegistrationInput) (Reservation, error) {
	if input.ScheduledAt.IsZero() {
		return Reservation{}, fmt.Errorf("%w: scheduled time is required", ErrInvalidSchedule)
	}
	if input.PartySize <= 0 {
		return Reservation{}, fmt.Errorf("%w: %d", ErrInvalidPartySize, input.PartySize)
	}
	if input.ChildCount < 0 {
		return Reservation{}, fmt.Errorf("%w: child count %d", ErrInvalidPartySize, input.ChildCount)
	}
	now := service.now()
	reservation := Reservation{
		ID:          newGeneratedReservationID(),
		ScheduledAt: input.ScheduledAt.UTC(),
		PartySize:   input.PartySize,
		ChildCount:  input.ChildCount,
		ContactName: strings.TrimSpace(input.ContactName),
		Status:      ReservationStatusWaiting,
		CreatedAt:   now,
	}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.CreateReservation(ctx, reservation); err != nil {
			return err
		}
		return transactionStore.AppendStatusEvent(ctx, StatusEvent{
			ReservationID: reservation.ID,
			To:            ReservationStatusWaiting,
			OccurredAt:    now,
		})
	})
	service.logOperation(ctx, OperationLog{
		Operation:         operationRegister,
		ReservationID:     reservation.ID,
		ReservationStatus: reservation.Status,
		Error:             operationError,
	})
	if operationError != nil {
		return Reservation{}, operationError
	}
	return reservation, nil
}

// Confirm moves a waiting reservation to confirmed.
func (service *Service) Confirm(ctx context.Context, reservationID ReservationID) error {
	now := service.now()
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		reservation, err := transactionStore.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if reservation.Status != ReservationStatusWaiting {
			return invalidTransition(reservation.Status, ReservationStatusConfirmed)
		}
		return service.transition(ctx, transactionStore, reservationID, ReservationStatusWaiting, ReservationStatusConfirmed, now)
	})
	service.logOperation(ctx, OperationLog{
		Operation:         operationConfirm,
		ReservationID:     reservationID,
		ReservationStatus: ReservationStatusConfirmed,
		Error:             operationError,
	})
	if operationError != nil {
		return operationError
	}
	service.dispatch(ctx, Event{
		Type:           EventReservationConfirmed,
		ReservationID:  reservationID,
		Status:         ReservationStatusConfirmed,
		PreviousStatus: ReservationStatusWaiting,
		OccurredAt:     now,
	})
	return nil
}

// MarkPaid settles a seated reservation: it writes the bill, marks it paid and frees its tables.
// Calling it again on a paid reservation recomputes and replaces the bill.
func (service *Service) MarkPaid(ctx context.Context, reservationID ReservationID, details PaymentDetails) (Bill, error) {
	method, err := ParsePaymentMethod(details.Method)
	if err != nil {
		service.logOperation(ctx, OperationLog{Operation: operationPay, ReservationID: reservationID, Error: err})
		return Bill{}, err
	}
	now := service.now()
	paidAt := details.PaidAt
	if paidAt.IsZero() {
		paidAt = now
	}
	var (
		bill     Bill
		previous ReservationStatus
		tables   []TableNumber
	)
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		reservation, err := transactionStore.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		previous = reservation.Status
		if reservation.Status != ReservationStatusSeated && reservation.Status != ReservationStatusPaid {
			return invalidTransition(reservation.Status, ReservationStatusPaid)
		}
		active, err := transactionStore.ListActiveAssignments(ctx, reservationID)
		if err != nil {
			return err
		}
		tables = assignmentNumbers(active)
		draft, err := ComputeBill(reservation, details.Billing, method, paidAt.UTC())
		if err != nil {
			return err
		}
		bill, err = transactionStore.SaveBill(ctx, draft)
		if err != nil {
			return err
		}
		if reservation.Status == ReservationStatusPaid {
			return nil
		}
		if err := service.transition(ctx, transactionStore, reservationID, ReservationStatusSeated, ReservationStatusPaid, now); err != nil {
			return err
		}
		return transactionStore.ReleaseAllAssignments(ctx, reservationID, now)
	})
	service.logOperation(ctx, OperationLog{
		Operation:         operationPay,
		ReservationID:     reservationID,
		ReservationStatus: ReservationStatusPaid,
		Tables:            tables,
		Amount:            bill.Total,
		Error:             operationError,
	})
	if operationError != nil {
		return Bill{}, operationError
	}
	if previous != ReservationStatusPaid {
		service.dispatch(ctx, Event{
			Type:           EventReservationPaid,
			ReservationID:  reservationID,
			Status:         ReservationStatusPaid,
			PreviousStatus: previous,
			Tables:         tables,
			BillTotal:      bill.Total,
			OccurredAt:     now,
		})
	}
	return bill, nil
}

// Cancel soft-cancels a non-terminal reservation. Table assignments are left in place.
func (service *Service) Cancel(ctx context.Context, reservationID ReservationID, reason string, actorID ActorID) error {
	if actorID.String() == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidActorID)
	}
	now := service.now()
	cancellation := Cancellation{
		Reason:      strings.TrimSpace(reason),
		ActorID:     actorID,
		CancelledAt: now,
	}
	var previous ReservationStatus
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		reservation, err := transactionStore.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		previous = reservation.Status
		if reservation.Status.IsTerminal() {
			return invalidTransition(reservation.Status, ReservationStatusCancelled)
		}
		if err := transactionStore.CancelReservation(ctx, reservationID, reservation.Status, cancellation); err != nil {
			return err
		}
		return transactionStore.AppendStatusEvent(ctx, StatusEvent{
			ReservationID: reservationID,
			From:          reservation.Status,
			To:            ReservationStatusCancelled,
			ActorID:       actorID.String(),
			Reason:        cancellation.Reason,
			OccurredAt:    now,
		})
	})
	service.logOperation(ctx, OperationLog{
		Operation:         operationCancel,
		ReservationID:     reservationID,
		ReservationStatus: ReservationStatusCancelled,
		Error:             operationError,
	})
	if operationError != nil {
		return operationError
	}
	service.dispatch(ctx, Event{
		Type:           EventReservationCancelled,
		ReservationID:  reservationID,
		Status:         ReservationStatusCancelled,
		PreviousStatus: previous,
		Reason:         cancellation.Reason,
		OccurredAt:     now,
	})
	return nil
}

// Describe returns a reservation with its active tables and bill, if any.
func (service *Service) Describe(ctx context.Context, reservationID ReservationID) (ReservationView, error) {
	reservation, err := service.store.GetReservation(ctx, reservationID)
	if err != nil {
		return ReservationView{}, err
	}
	assignments, err := service.store.ListActiveAssignments(ctx, reservationID)
	if err != nil {
		return ReservationView{}, err
	}
	window := NewDiningWindow(reservation.ScheduledAt, service.DiningHalfWidth())
	view := ReservationView{
		Reservation: reservation,
		Assignments: assignments,
		Window:      window,
		InWindow:    window.Contains(service.now()),
	}
	bill, err := service.store.GetBill(ctx, reservationID)
	switch {
	case err == nil:
		view.Bill = &bill
	case errors.Is(err, ErrUnknownBill):
	default:
		return ReservationView{}, err
	}
	return view, nil
}

// History lists the status changes of a reservation, oldest first.
func (service *Service) History(ctx context.Context, reservationID ReservationID) ([]StatusEvent, error) {
	if _, err := service.store.GetReservation(ctx, reservationID); err != nil {
		return nil, err
	}
	return service.store.ListStatusEvents(ctx, reservationID)
}

// DiningHalfWidth returns the configured window half-width.
func (service *Service) DiningHalfWidth() time.Duration {
	return service.resolver.HalfWidth()
}

func (service *Service) transition(ctx context.Context, transactionStore Store, reservationID ReservationID, from, to ReservationStatus, at time.Time) error {
	if err := transactionStore.UpdateReservationStatus(ctx, reservationID, from, to); err != nil {
		return err
	}
	return transactionStore.AppendStatusEvent(ctx, StatusEvent{
		ReservationID: reservationID,
		From:          from,
		To:            to,
		OccurredAt:    at,
	})
}

func (service *Service) now() time.Time {
	return service.nowFn().UTC()
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func assignmentNumbers(assignments []TableAssignment) []TableNumber {
	numbers := make([]TableNumber, 0, len(assignments))
	for _, assignment := range assignments {
		numbers = append(numbers, assignment.Table.Number)
	}
	return numbers
}
