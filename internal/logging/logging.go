// Package logging adapts queue operation callbacks to zap.
package logging

import (
	"context"

	"github.com/MarkoPoloResearchLab/tablequeue/pkg/queue"
	"go.uber.org/zap"
)

// OperationLogger writes queue.OperationLog entries to a zap logger.
type OperationLogger struct {
	logger *zap.Logger
}

// NewOperationLogger returns an OperationLogger. A nil logger discards entries.
func NewOperationLogger(logger *zap.Logger) *OperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperationLogger{logger: logger.Named("queue")}
}

// LogOperation logs successful operations at info and failures at warn.
func (operationLogger *OperationLogger) LogOperation(_ context.Context, entry queue.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("reservation_id", entry.ReservationID.String()),
		zap.String("reservation_status", entry.ReservationStatus.String()),
		zap.String("status", entry.Status),
	}
	if len(entry.Tables) > 0 {
		numbers := make([]int, 0, len(entry.Tables))
		for _, number := range entry.Tables {
			numbers = append(numbers, number.Int())
		}
		fields = append(fields, zap.Ints("tables", numbers))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount_cents", entry.Amount.Int64()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("queue operation failed", fields...)
		return
	}
	operationLogger.logger.Info("queue operation", fields...)
}
