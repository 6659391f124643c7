package queue

import "time"

const (
	operationRegister = "register"
	operationConfirm  = "confirm"
	operationAssign   = "assign_tables"
	operationPay      = "mark_paid"
	operationCancel   = "cancel"
	operationNotify   = "notify"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	// seatSlackPerTable is added to every table's capacity when checking a party size.
	seatSlackPerTable = 2

	// DefaultDiningHalfWidth is the half-width of a dining window around the scheduled time.
	DefaultDiningHalfWidth = 90 * time.Minute

	defaultPackageName = "package"
)
