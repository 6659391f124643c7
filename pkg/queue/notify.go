package queue

import (
	"context"
	"time"
)

// EventType names a lifecycle notification.
type EventType string

const (
	EventReservationConfirmed EventType = "reservation.confirmed"
	EventReservationSeated    EventType = "reservation.seated"
	EventReservationPaid      EventType = "reservation.paid"
	EventReservationCancelled EventType = "reservation.cancelled"
)

// Event is handed to the Notifier once the transition has committed.
type Event struct {
	Type           EventType
	ReservationID  ReservationID
	Status         ReservationStatus
	PreviousStatus ReservationStatus
	Tables         []TableNumber
	BillTotal      AmountCents
	Reason         string
	OccurredAt     time.Time
}

// Notifier receives best-effort lifecycle notifications. Errors never fail a transition.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

func (service *Service) dispatch(ctx context.Context, events ...Event) {
	if service.notifier == nil {
		return
	}
	for _, event := range events {
		if err := service.notifier.Notify(ctx, event); err != nil {
			service.logOperation(ctx, OperationLog{
				Operation:         operationNotify,
				ReservationID:     event.ReservationID,
				ReservationStatus: event.Status,
				Tables:            event.Tables,
				Error:             err,
			})
		}
	}
}
