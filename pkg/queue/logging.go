package queue

import (
	"context"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing queue operation.
type OperationLog struct {
	Operation         string
	ReservationID     ReservationID
	ReservationStatus ReservationStatus
	Tables            []TableNumber
	Amount            AmountCents
	Status            string
	Error             error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithNotifier wires the collaborator told about confirmations and terminal changes after commit.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(service *Service) {
		service.notifier = notifier
	}
}

// WithDiningHalfWidth overrides DefaultDiningHalfWidth.
func WithDiningHalfWidth(halfWidth time.Duration) ServiceOption {
	return func(service *Service) {
		service.halfWidth = halfWidth
	}
}
