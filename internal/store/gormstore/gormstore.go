package gormstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/tablequeue/pkg/queue"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintAssignmentActive = "uniq_assignment_active"
	constraintReservationKey   = "reservations_pkey"
	pgUniqueViolationCode      = "23505"
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
	errorOperationStore        = "store"
	errorSubjectReservation    = "reservation"
	errorSubjectStatusEvent    = "status_event"
	errorSubjectTable          = "table"
	errorSubjectAssignment     = "assignment"
	errorSubjectOccupancy      = "occupancy"
	errorSubjectBill           = "bill"
	errorCodeCreate            = "create"
	errorCodeDuplicate         = "duplicate"
	errorCodeGet               = "get"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeLookup            = "lookup"
	errorCodeRelease           = "release"
	errorCodeUpsert            = "upsert"
	errorCodeUpdateStatus      = "update_status"
)

// Option configures a Store.
type Option func(*Store)

// WithTxOptions sets the isolation used by WithTx.
func WithTxOptions(options *sql.TxOptions) Option {
	return func(store *Store) {
		store.txOptions = options
	}
}

// Store implements queue.Store using GORM.
type Store struct {
	db        *gorm.DB
	txOptions *sql.TxOptions
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB, options ...Option) *Store {
	store := &Store{db: db}
	for _, option := range options {
		option(store)
	}
	return store
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore queue.Store) error) error {
	transactionOptions := []*sql.TxOptions{}
	if store.txOptions != nil {
		transactionOptions = append(transactionOptions, store.txOptions)
	}
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction, txOptions: store.txOptions})
	}, transactionOptions...)
}

func (store *Store) CreateReservation(ctx context.Context, reservation queue.Reservation) error {
	model := Reservation{
		ReservationID: reservation.ID.String(),
		ScheduledAt:   reservation.ScheduledAt.UTC(),
		PartySize:     reservation.PartySize,
		ChildCount:    reservation.ChildCount,
		ContactName:   reservation.ContactName,
		Status:        reservation.Status.String(),
		CreatedAt:     reservation.CreatedAt.UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	model.UpdatedAt = model.CreatedAt
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintReservationKey) {
		return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, queue.ErrReservationExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeCreate, err)
	}
	return nil
}

// GetReservation locks the row for the rest of the transaction.
func (store *Store) GetReservation(ctx context.Context, reservationID queue.ReservationID) (queue.Reservation, error) {
	var model Reservation
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("reservation_id = ?", reservationID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return queue.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, queue.ErrUnknownReservation)
		}
		return queue.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, err)
	}
	reservation, err := mapReservation(model)
	if err != nil {
		return queue.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	return reservation, nil
}

func (store *Store) UpdateReservationStatus(ctx context.Context, reservationID queue.ReservationID, from, to queue.ReservationStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Reservation{}).
		Where("reservation_id = ? AND status = ?", reservationID.String(), from.String()).
		Updates(map[string]interface{}{"status": to.String(), "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, queue.ErrInvalidTransition)
	}
	return nil
}

func (store *Store) CancelReservation(ctx context.Context, reservationID queue.ReservationID, from queue.ReservationStatus, cancellation queue.Cancellation) error {
	reason := cancellation.Reason
	actor := cancellation.ActorID.String()
	cancelledAt := cancellation.CancelledAt.UTC()
	result := store.db.WithContext(ctx).
		Model(&Reservation{}).
		Where("reservation_id = ? AND status = ?", reservationID.String(), from.String()).
		Updates(map[string]interface{}{
			"status":        queue.ReservationStatusCancelled.String(),
			"cancel_reason": &reason,
			"cancelled_by":  &actor,
			"cancelled_at":  &cancelledAt,
			"updated_at":    cancelledAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, queue.ErrInvalidTransition)
	}
	return nil
}

func (store *Store) AppendStatusEvent(ctx context.Context, event queue.StatusEvent) error {
	model := StatusEvent{
		ReservationID: event.ReservationID.String(),
		FromStatus:    event.From.String(),
		ToStatus:      event.To.String(),
		ActorID:       event.ActorID,
		Reason:        event.Reason,
		OccurredAt:    event.OccurredAt.UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectStatusEvent, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListStatusEvents(ctx context.Context, reservationID queue.ReservationID) ([]queue.StatusEvent, error) {
	var rows []StatusEvent
	err := store.db.WithContext(ctx).
		Where("reservation_id = ?", reservationID.String()).
		Order("occurred_at ASC").
		Order("event_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectStatusEvent, errorCodeList, err)
	}
	events := make([]queue.StatusEvent, 0, len(rows))
	for _, row := range rows {
		event, err := mapStatusEvent(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectStatusEvent, errorCodeInvalid, err)
		}
		events = append(events, event)
	}
	return events, nil
}

// LookupTables locks the matching catalog rows so concurrent seatings on the same tables serialize.
func (store *Store) LookupTables(ctx context.Context, numbers []queue.TableNumber) ([]queue.Table, error) {
	if len(numbers) == 0 {
		return nil, nil
	}
	var rows []DiningTable
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("number IN ?", tableNumberValues(numbers)).
		Order("number ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTable, errorCodeLookup, err)
	}
	tables := make([]queue.Table, 0, len(rows))
	for _, row := range rows {
		tables = append(tables, mapTable(row))
	}
	return tables, nil
}

// UpsertTables creates catalog rows or updates the capacity of existing numbers.
func (store *Store) UpsertTables(ctx context.Context, tables []queue.Table) error {
	if len(tables) == 0 {
		return nil
	}
	rows := make([]DiningTable, 0, len(tables))
	for _, table := range tables {
		rows = append(rows, DiningTable{Number: table.Number.Int(), Capacity: table.Capacity})
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "number"}},
			DoUpdates: clause.AssignmentColumns([]string{"capacity"}),
		}).
		Create(&rows).Error
	if err != nil {
		return wrapStoreError(errorSubjectTable, errorCodeUpsert, err)
	}
	return nil
}

// ListTables returns the whole catalog ordered by number.
func (store *Store) ListTables(ctx context.Context) ([]queue.Table, error) {
	var rows []DiningTable
	if err := store.db.WithContext(ctx).Order("number ASC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectTable, errorCodeList, err)
	}
	tables := make([]queue.Table, 0, len(rows))
	for _, row := range rows {
		tables = append(tables, mapTable(row))
	}
	return tables, nil
}

func (store *Store) ListActiveAssignments(ctx context.Context, reservationID queue.ReservationID) ([]queue.TableAssignment, error) {
	var rows []assignmentRow
	err := store.db.WithContext(ctx).
		Table("table_assignments AS a").
		Select("a.reservation_id, a.table_id, t.number AS table_number, t.capacity AS table_capacity, a.assigned_at, a.released_at").
		Joins("JOIN dining_tables t ON t.table_id = a.table_id").
		Where("a.reservation_id = ? AND a.released_at IS NULL", reservationID.String()).
		Order("t.number ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAssignment, errorCodeList, err)
	}
	assignments := make([]queue.TableAssignment, 0, len(rows))
	for _, row := range rows {
		assignment, err := mapAssignment(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAssignment, errorCodeInvalid, err)
		}
		assignments = append(assignments, assignment)
	}
	return assignments, nil
}

func (store *Store) ListOccupancy(ctx context.Context, tableIDs []queue.TableID, excluding queue.ReservationID) ([]queue.Occupancy, error) {
	if len(tableIDs) == 0 {
		return nil, nil
	}
	var rows []occupancyRow
	err := store.db.WithContext(ctx).
		Table("table_assignments AS a").
		Select("a.reservation_id, a.table_id, t.number AS table_number, t.capacity AS table_capacity, r.scheduled_at, r.status, r.cancelled_at").
		Joins("JOIN reservations r ON r.reservation_id = a.reservation_id").
		Joins("JOIN dining_tables t ON t.table_id = a.table_id").
		Where("a.released_at IS NULL AND a.table_id IN ? AND a.reservation_id <> ?", tableIDValues(tableIDs), excluding.String()).
		Order("t.number ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectOccupancy, errorCodeList, err)
	}
	occupancy := make([]queue.Occupancy, 0, len(rows))
	for _, row := range rows {
		reservationID, err := queue.NewReservationID(row.ReservationID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectOccupancy, errorCodeInvalid, err)
		}
		status, err := queue.ParseReservationStatus(row.Status)
		if err != nil {
			return nil, wrapStoreError(errorSubjectOccupancy, errorCodeInvalid, err)
		}
		occupancy = append(occupancy, queue.Occupancy{
			Table:         queue.Table{ID: queue.TableID(row.TableID), Number: queue.TableNumber(row.TableNumber), Capacity: row.TableCapacity},
			ReservationID: reservationID,
			ScheduledAt:   row.ScheduledAt.UTC(),
			Status:        status,
			Cancelled:     row.CancelledAt != nil,
		})
	}
	return occupancy, nil
}

func (store *Store) InsertAssignment(ctx context.Context, assignment queue.TableAssignment) error {
	model := TableAssignment{
		ReservationID: assignment.ReservationID.String(),
		TableID:       assignment.Table.ID.Int64(),
		AssignedAt:    assignment.AssignedAt.UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintAssignmentActive) {
		return wrapStoreError(errorSubjectAssignment, errorCodeDuplicate, queue.ErrDuplicateAssignment)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAssignment, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ReleaseAssignments(ctx context.Context, reservationID queue.ReservationID, tableIDs []queue.TableID, releasedAt time.Time) error {
	if len(tableIDs) == 0 {
		return nil
	}
	err := store.db.WithContext(ctx).
		Model(&TableAssignment{}).
		Where("reservation_id = ? AND table_id IN ? AND released_at IS NULL", reservationID.String(), tableIDValues(tableIDs)).
		Update("released_at", releasedAt.UTC()).Error
	if err != nil {
		return wrapStoreError(errorSubjectAssignment, errorCodeRelease, err)
	}
	return nil
}

func (store *Store) ReleaseAllAssignments(ctx context.Context, reservationID queue.ReservationID, releasedAt time.Time) error {
	err := store.db.WithContext(ctx).
		Model(&TableAssignment{}).
		Where("reservation_id = ? AND released_at IS NULL", reservationID.String()).
		Update("released_at", releasedAt.UTC()).Error
	if err != nil {
		return wrapStoreError(errorSubjectAssignment, errorCodeRelease, err)
	}
	return nil
}

// SaveBill upserts the bill for the reservation and replaces its line items in one unit of work.
func (store *Store) SaveBill(ctx context.Context, draft queue.BillDraft) (queue.Bill, error) {
	details, err := json.Marshal(billDetails{
		AdultCount:        draft.AdultCount,
		ChildCount:        draft.ChildCount,
		PackagePriceCents: draft.PackagePrice.Int64(),
		ChildPriceCents:   draft.ChildPrice.Int64(),
	})
	if err != nil {
		return queue.Bill{}, wrapStoreError(errorSubjectBill, errorCodeInvalid, err)
	}
	now := time.Now().UTC()
	var saved Bill
	err = store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		model := Bill{
			ReservationID: draft.ReservationID.String(),
			TotalCents:    draft.Total.Int64(),
			PaymentMethod: draft.PaymentMethod.String(),
			Status:        string(draft.Status),
			PaidAt:        draft.PaidAt.UTC(),
			Details:       datatypes.JSON(details),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		upsertErr := transaction.
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "reservation_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"total_cents", "payment_method", "status", "paid_at", "details", "updated_at"}),
			}).
			Create(&model).Error
		if upsertErr != nil {
			return wrapStoreError(errorSubjectBill, errorCodeUpsert, upsertErr)
		}
		if fetchErr := transaction.Where("reservation_id = ?", draft.ReservationID.String()).Take(&saved).Error; fetchErr != nil {
			return wrapStoreError(errorSubjectBill, errorCodeGet, fetchErr)
		}
		if deleteErr := transaction.Where("bill_id = ?", saved.BillID).Delete(&BillLineItem{}).Error; deleteErr != nil {
			return wrapStoreError(errorSubjectBill, errorCodeInsert, deleteErr)
		}
		if len(draft.Lines) == 0 {
			return nil
		}
		lines := make([]BillLineItem, 0, len(draft.Lines))
		for position, line := range draft.Lines {
			lines = append(lines, BillLineItem{
				BillID:         saved.BillID,
				Position:       position,
				Kind:           string(line.Kind),
				CatalogItemID:  line.CatalogItemID,
				NameSnapshot:   line.NameSnapshot,
				UnitPriceCents: line.UnitPrice.Int64(),
				Quantity:       line.Quantity,
			})
		}
		if insertErr := transaction.Create(&lines).Error; insertErr != nil {
			return wrapStoreError(errorSubjectBill, errorCodeInsert, insertErr)
		}
		return nil
	})
	if err != nil {
		return queue.Bill{}, err
	}
	return mapBill(saved, draft.Lines), nil
}

func (store *Store) GetBill(ctx context.Context, reservationID queue.ReservationID) (queue.Bill, error) {
	var model Bill
	err := store.db.WithContext(ctx).Where("reservation_id = ?", reservationID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return queue.Bill{}, wrapStoreError(errorSubjectBill, errorCodeGet, queue.ErrUnknownBill)
		}
		return queue.Bill{}, wrapStoreError(errorSubjectBill, errorCodeGet, err)
	}
	var rows []BillLineItem
	if err := store.db.WithContext(ctx).Where("bill_id = ?", model.BillID).Order("position ASC").Find(&rows).Error; err != nil {
		return queue.Bill{}, wrapStoreError(errorSubjectBill, errorCodeList, err)
	}
	lines := make([]queue.BillLineItem, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, queue.BillLineItem{
			Kind:          queue.BillLineKind(row.Kind),
			CatalogItemID: row.CatalogItemID,
			NameSnapshot:  row.NameSnapshot,
			UnitPrice:     queue.AmountCents(row.UnitPriceCents),
			Quantity:      row.Quantity,
		})
	}
	return mapBill(model, lines), nil
}

// wrapStoreError tags raw driver errors with queue.ErrStorageFailure; domain sentinels pass through.
func wrapStoreError(subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	if !isDomainError(err) {
		err = queue.StorageError(err)
	}
	return queue.WrapError(errorOperationStore, subject, code, err)
}

func isDomainError(err error) bool {
	var operationError queue.OperationError
	if errors.As(err, &operationError) {
		return true
	}
	for _, sentinel := range []error{
		queue.ErrUnknownReservation,
		queue.ErrInvalidTransition,
		queue.ErrDuplicateAssignment,
		queue.ErrReservationExists,
		queue.ErrUnknownBill,
		queue.ErrInvalidReservationID,
		queue.ErrInvalidStatus,
		queue.ErrInvalidReservationRow,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

type assignmentRow struct {
	ReservationID string
	TableID       int64
	TableNumber   int
	TableCapacity int
	AssignedAt    time.Time
	ReleasedAt    *time.Time
}

type occupancyRow struct {
	ReservationID string
	TableID       int64
	TableNumber   int
	TableCapacity int
	ScheduledAt   time.Time
	Status        string
	CancelledAt   *time.Time
}

func mapReservation(model Reservation) (queue.Reservation, error) {
	reservationID, err := queue.NewReservationID(model.ReservationID)
	if err != nil {
		return queue.Reservation{}, err
	}
	status, err := queue.ParseReservationStatus(model.Status)
	if err != nil {
		return queue.Reservation{}, err
	}
	reservation := queue.Reservation{
		ID:          reservationID,
		ScheduledAt: model.ScheduledAt.UTC(),
		PartySize:   model.PartySize,
		ChildCount:  model.ChildCount,
		ContactName: model.ContactName,
		Status:      status,
		CreatedAt:   model.CreatedAt.UTC(),
	}
	if model.CancelledAt != nil {
		cancellation := queue.Cancellation{CancelledAt: model.CancelledAt.UTC()}
		if model.CancelReason != nil {
			cancellation.Reason = *model.CancelReason
		}
		if model.CancelledBy != nil {
			if actorID, actorErr := queue.NewActorID(*model.CancelledBy); actorErr == nil {
				cancellation.ActorID = actorID
			}
		}
		reservation.Cancellation = &cancellation
	}
	if err := reservation.Validate(); err != nil {
		return queue.Reservation{}, err
	}
	return reservation, nil
}

func mapStatusEvent(row StatusEvent) (queue.StatusEvent, error) {
	reservationID, err := queue.NewReservationID(row.ReservationID)
	if err != nil {
		return queue.StatusEvent{}, err
	}
	event := queue.StatusEvent{
		ReservationID: reservationID,
		ActorID:       row.ActorID,
		Reason:        row.Reason,
		OccurredAt:    row.OccurredAt.UTC(),
	}
	if row.FromStatus != "" {
		from, err := queue.ParseReservationStatus(row.FromStatus)
		if err != nil {
			return queue.StatusEvent{}, err
		}
		event.From = from
	}
	to, err := queue.ParseReservationStatus(row.ToStatus)
	if err != nil {
		return queue.StatusEvent{}, err
	}
	event.To = to
	return event, nil
}

func mapAssignment(row assignmentRow) (queue.TableAssignment, error) {
	reservationID, err := queue.NewReservationID(row.ReservationID)
	if err != nil {
		return queue.TableAssignment{}, err
	}
	assignment := queue.TableAssignment{
		ReservationID: reservationID,
		Table:         queue.Table{ID: queue.TableID(row.TableID), Number: queue.TableNumber(row.TableNumber), Capacity: row.TableCapacity},
		AssignedAt:    row.AssignedAt.UTC(),
	}
	if row.ReleasedAt != nil {
		releasedAt := row.ReleasedAt.UTC()
		assignment.ReleasedAt = &releasedAt
	}
	return assignment, nil
}

func mapTable(row DiningTable) queue.Table {
	return queue.Table{ID: queue.TableID(row.TableID), Number: queue.TableNumber(row.Number), Capacity: row.Capacity}
}

func mapBill(model Bill, lines []queue.BillLineItem) queue.Bill {
	reservationID, _ := queue.NewReservationID(model.ReservationID)
	return queue.Bill{
		ID:            model.BillID,
		ReservationID: reservationID,
		Total:         queue.AmountCents(model.TotalCents),
		PaymentMethod: queue.PaymentMethod(model.PaymentMethod),
		Status:        queue.BillStatus(model.Status),
		PaidAt:        model.PaidAt.UTC(),
		Lines:         append([]queue.BillLineItem(nil), lines...),
	}
}

func tableNumberValues(numbers []queue.TableNumber) []int {
	values := make([]int, 0, len(numbers))
	for _, number := range numbers {
		values = append(values, number.Int())
	}
	return values
}

func tableIDValues(tableIDs []queue.TableID) []int64 {
	values := make([]int64, 0, len(tableIDs))
	for _, tableID := range tableIDs {
		values = append(values, tableID.Int64())
	}
	return values
}

// isUniqueViolation reports key collisions only. SQLite messages carry column names rather than index
// names, so the constraint is matched on postgres alone.
func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqliteConstraintUnique || code == sqliteConstraintPrimaryKey
	}
	return false
}
