package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tablequeue/pkg/queue"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type httpHandler struct {
	logger  *zap.Logger
	service ReservationService
	cfg     Config
}

func (handler *httpHandler) handleRegister(ctx *gin.Context) {
	var request registerRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	reservation, err := handler.service.Register(requestCtx, queue.RegistrationInput{
		ScheduledAt: request.ScheduledAt,
		PartySize:   request.PartySize,
		ChildCount:  request.ChildCount,
		ContactName: request.ContactName,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"reservation": newReservationPayload(reservation)})
}

func (handler *httpHandler) handleDescribe(ctx *gin.Context) {
	reservationID, ok := handler.reservationID(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	view, err := handler.service.Describe(requestCtx, reservationID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	response := describeResponse{
		Reservation: newReservationPayload(view.Reservation),
		Window:      newDiningWindowPayload(view),
		Tables:      make([]assignmentPayload, 0, len(view.Assignments)),
	}
	for _, assignment := range view.Assignments {
		response.Tables = append(response.Tables, assignmentPayload{
			tablePayload: newTablePayload(assignment.Table),
			AssignedAt:   assignment.AssignedAt.UTC(),
		})
	}
	if view.Bill != nil {
		bill := newBillPayload(*view.Bill)
		response.Bill = &bill
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *httpHandler) handleHistory(ctx *gin.Context) {
	reservationID, ok := handler.reservationID(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	events, err := handler.service.History(requestCtx, reservationID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	history := make([]statusEventPayload, 0, len(events))
	for _, event := range events {
		history = append(history, statusEventPayload{
			From:       event.From.String(),
			To:         event.To.String(),
			ActorID:    event.ActorID,
			Reason:     event.Reason,
			OccurredAt: event.OccurredAt.UTC(),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"history": history})
}

func (handler *httpHandler) handleAssignTables(ctx *gin.Context) {
	reservationID, ok := handler.reservationID(ctx)
	if !ok {
		return
	}
	var request assignTablesRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	result, err := handler.service.AssignTables(requestCtx, reservationID, toTableNumbers(request.TableNumbers), request.PartySize)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newSeatingPayload(result))
}

func (handler *httpHandler) handleStatus(ctx *gin.Context) {
	reservationID, ok := handler.reservationID(ctx)
	if !ok {
		return
	}
	var request statusRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	action, err := queue.ParseAction(request.Action)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	switch action {
	case queue.ActionConfirm:
		if err := handler.service.Confirm(requestCtx, reservationID); err != nil {
			handler.respondError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"ok": true})
	case queue.ActionSeat:
		var result queue.SeatingResult
		if len(request.TableNumbers) > 0 {
			result, err = handler.service.AssignTables(requestCtx, reservationID, toTableNumbers(request.TableNumbers), request.PartySize)
		} else {
			result, err = handler.service.Seat(requestCtx, reservationID, request.PartySize)
		}
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"ok": true, "seating": newSeatingPayload(result)})
	case queue.ActionPay:
		billing, err := request.Billing.toInput()
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		details := queue.PaymentDetails{
			Method:  request.PaymentMethod,
			Billing: billing,
		}
		if request.PaidAt != nil {
			details.PaidAt = *request.PaidAt
		}
		bill, err := handler.service.MarkPaid(requestCtx, reservationID, details)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"ok": true, "bill": newBillSummaryPayload(bill)})
	case queue.ActionCancel:
		actorID, err := queue.NewActorID(handler.actor(ctx, request.ActorID))
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		if err := handler.service.Cancel(requestCtx, reservationID, request.Reason, actorID); err != nil {
			handler.respondError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

func (handler *httpHandler) reservationID(ctx *gin.Context) (queue.ReservationID, bool) {
	reservationID, err := queue.NewReservationID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return queue.ReservationID{}, false
	}
	return reservationID, true
}

// actor prefers the session identity over a caller-supplied id.
func (handler *httpHandler) actor(ctx *gin.Context, requested string) string {
	if claims := getClaims(ctx); claims != nil && strings.TrimSpace(claims.GetUserID()) != "" {
		return claims.GetUserID()
	}
	if strings.TrimSpace(requested) != "" {
		return requested
	}
	return defaultActorID
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		handler.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
	}
	ctx.JSON(status, errorResponse(code, err.Error()))
}

func toTableNumbers(raw []int) []queue.TableNumber {
	numbers := make([]queue.TableNumber, 0, len(raw))
	for _, number := range raw {
		numbers = append(numbers, queue.TableNumber(number))
	}
	return numbers
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: terminal failures also match ErrInvalidTransition.
var errorMappings = []errorMapping{
	{target: queue.ErrAlreadyTerminal, status: http.StatusConflict, code: "already_terminal"},
	{target: queue.ErrUnknownReservation, status: http.StatusNotFound, code: "not_found"},
	{target: queue.ErrInvalidTransition, status: http.StatusConflict, code: "invalid_transition"},
	{target: queue.ErrTablesNotFound, status: http.StatusNotFound, code: "tables_not_found"},
	{target: queue.ErrCapacityExceeded, status: http.StatusUnprocessableEntity, code: "capacity_exceeded"},
	{target: queue.ErrTableConflict, status: http.StatusConflict, code: "table_conflict"},
	{target: queue.ErrInvalidPaymentMethod, status: http.StatusBadRequest, code: "invalid_payment_method"},
	{target: queue.ErrAmountOverflow, status: http.StatusBadRequest, code: "amount_overflow"},
	{target: queue.ErrDuplicateAssignment, status: http.StatusConflict, code: "duplicate_assignment"},
	{target: queue.ErrNoTablesRequested, status: http.StatusBadRequest, code: "no_tables_requested"},
	{target: queue.ErrInvalidAction, status: http.StatusBadRequest, code: "invalid_action"},
	{target: queue.ErrInvalidReservationID, status: http.StatusBadRequest, code: "invalid_reservation_id"},
	{target: queue.ErrInvalidActorID, status: http.StatusBadRequest, code: "invalid_actor_id"},
	{target: queue.ErrInvalidTableNumber, status: http.StatusBadRequest, code: "invalid_table_number"},
	{target: queue.ErrInvalidPartySize, status: http.StatusBadRequest, code: "invalid_party_size"},
	{target: queue.ErrInvalidSchedule, status: http.StatusBadRequest, code: "invalid_schedule"},
	{target: queue.ErrStorageFailure, status: http.StatusInternalServerError, code: "storage_failure"},
	{target: context.DeadlineExceeded, status: http.StatusGatewayTimeout, code: "timeout"},
}

func classifyError(err error) (int, string) {
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			return mapping.status, mapping.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

type registerRequest struct {
	ScheduledAt time.Time `json:"scheduled_at"`
	PartySize   int       `json:"party_size"`
	ChildCount  int       `json:"child_count"`
	ContactName string    `json:"contact_name"`
}

type assignTablesRequest struct {
	TableNumbers []int `json:"table_numbers"`
	PartySize    int   `json:"party_size"`
}

type statusRequest struct {
	Action        string         `json:"action"`
	Reason        string         `json:"reason"`
	ActorID       string         `json:"actor_id"`
	PaidAt        *time.Time     `json:"paid_at"`
	PaymentMethod string         `json:"payment_method"`
	TableNumbers  []int          `json:"table_numbers"`
	PartySize     int            `json:"party_size"`
	Billing       billingRequest `json:"billing"`
}

type billingRequest struct {
	PackageID    string               `json:"package_id"`
	PackageName  string               `json:"package_name"`
	PackagePrice *float64             `json:"package_price"`
	ChildPrice   *float64             `json:"child_price"`
	Adults       *int                 `json:"adults"`
	Children     *int                 `json:"children"`
	Items        []billingItemRequest `json:"items"`
}

type billingItemRequest struct {
	CatalogItemID string  `json:"catalog_item_id"`
	Name          string  `json:"name"`
	Quantity      int     `json:"quantity"`
	UnitPrice     float64 `json:"unit_price"`
}

func (request billingRequest) toInput() (queue.BillingInput, error) {
	packagePrice, err := majorToCents(request.PackagePrice)
	if err != nil {
		return queue.BillingInput{}, err
	}
	childPrice, err := majorToCents(request.ChildPrice)
	if err != nil {
		return queue.BillingInput{}, err
	}
	input := queue.BillingInput{
		PackageID:    request.PackageID,
		PackageName:  request.PackageName,
		PackagePrice: packagePrice,
		ChildPrice:   childPrice,
		AdultCount:   request.Adults,
		ChildCount:   request.Children,
	}
	for _, item := range request.Items {
		unitPrice, err := queue.AmountFromMajor(item.UnitPrice)
		if err != nil {
			return queue.BillingInput{}, err
		}
		input.Items = append(input.Items, queue.AdhocItem{
			CatalogItemID: item.CatalogItemID,
			Name:          item.Name,
			Quantity:      item.Quantity,
			UnitPrice:     unitPrice,
		})
	}
	return input, nil
}

func majorToCents(raw *float64) (*queue.AmountCents, error) {
	if raw == nil {
		return nil, nil
	}
	amount, err := queue.AmountFromMajor(*raw)
	if err != nil {
		return nil, err
	}
	return &amount, nil
}

type reservationPayload struct {
	ID           string               `json:"id"`
	ScheduledAt  time.Time            `json:"scheduled_at"`
	PartySize    int                  `json:"party_size"`
	ChildCount   int                  `json:"child_count"`
	ContactName  string               `json:"contact_name"`
	Status       string               `json:"status"`
	Cancellation *cancellationPayload `json:"cancellation,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
}

type cancellationPayload struct {
	Reason      string    `json:"reason"`
	ActorID     string    `json:"actor_id"`
	CancelledAt time.Time `json:"cancelled_at"`
}

func newReservationPayload(reservation queue.Reservation) reservationPayload {
	payload := reservationPayload{
		ID:          reservation.ID.String(),
		ScheduledAt: reservation.ScheduledAt.UTC(),
		PartySize:   reservation.PartySize,
		ChildCount:  reservation.ChildCount,
		ContactName: reservation.ContactName,
		Status:      reservation.Status.String(),
		CreatedAt:   reservation.CreatedAt.UTC(),
	}
	if reservation.Cancellation != nil {
		payload.Cancellation = &cancellationPayload{
			Reason:      reservation.Cancellation.Reason,
			ActorID:     reservation.Cancellation.ActorID.String(),
			CancelledAt: reservation.Cancellation.CancelledAt.UTC(),
		}
	}
	return payload
}

type tablePayload struct {
	ID       int64 `json:"id"`
	Number   int   `json:"no"`
	Capacity int   `json:"capacity"`
}

func newTablePayload(table queue.Table) tablePayload {
	return tablePayload{ID: table.ID.Int64(), Number: table.Number.Int(), Capacity: table.Capacity}
}

type assignmentPayload struct {
	tablePayload
	AssignedAt time.Time `json:"assigned_at"`
}

type seatingPayload struct {
	Tables          []tablePayload `json:"tables"`
	AllowedCapacity int            `json:"allowed_capacity"`
	PartySize       int            `json:"party_size"`
}

func newSeatingPayload(result queue.SeatingResult) seatingPayload {
	payload := seatingPayload{
		Tables:          make([]tablePayload, 0, len(result.Tables)),
		AllowedCapacity: result.AllowedCapacity,
		PartySize:       result.PartySize,
	}
	for _, table := range result.Tables {
		payload.Tables = append(payload.Tables, newTablePayload(table))
	}
	return payload
}

type billSummaryPayload struct {
	BillID        string  `json:"bill_id"`
	Total         float64 `json:"total"`
	PaymentMethod string  `json:"payment_method"`
	Status        string  `json:"status"`
}

func newBillSummaryPayload(bill queue.Bill) billSummaryPayload {
	return billSummaryPayload{
		BillID:        bill.ID,
		Total:         bill.Total.Major(),
		PaymentMethod: bill.PaymentMethod.String(),
		Status:        string(bill.Status),
	}
}

type billPayload struct {
	billSummaryPayload
	PaidAt time.Time         `json:"paid_at"`
	Lines  []billLinePayload `json:"lines"`
}

type billLinePayload struct {
	Kind          string  `json:"kind"`
	CatalogItemID *string `json:"catalog_item_id,omitempty"`
	Name          string  `json:"name"`
	UnitPrice     float64 `json:"unit_price"`
	Quantity      int     `json:"quantity"`
}

func newBillPayload(bill queue.Bill) billPayload {
	payload := billPayload{
		billSummaryPayload: newBillSummaryPayload(bill),
		PaidAt:             bill.PaidAt.UTC(),
		Lines:              make([]billLinePayload, 0, len(bill.Lines)),
	}
	for _, line := range bill.Lines {
		payload.Lines = append(payload.Lines, billLinePayload{
			Kind:          string(line.Kind),
			CatalogItemID: line.CatalogItemID,
			Name:          line.NameSnapshot,
			UnitPrice:     line.UnitPrice.Major(),
			Quantity:      line.Quantity,
		})
	}
	return payload
}

type describeResponse struct {
	Reservation reservationPayload  `json:"reservation"`
	Window      diningWindowPayload `json:"dining_window"`
	Tables      []assignmentPayload `json:"tables"`
	Bill        *billPayload        `json:"bill,omitempty"`
}

type diningWindowPayload struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	InWindow bool      `json:"in_window"`
}

func newDiningWindowPayload(view queue.ReservationView) diningWindowPayload {
	return diningWindowPayload{
		Start:    view.Window.Start.UTC(),
		End:      view.Window.End.UTC(),
		InWindow: view.InWindow,
	}
}

type statusEventPayload struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	ActorID    string    `json:"actor_id"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}
