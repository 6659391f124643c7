package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/tablequeue/pkg/queue"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const (
	constraintAssignmentActive = "uniq_assignment_active"
	constraintReservationKey   = "reservations_pkey"
	pgUniqueViolationCode      = "23505"
	pgSerializationFailureCode = "40001"
	errorOperationStore        = "store"
	errorSubjectReservation    = "reservation"
	errorSubjectStatusEvent    = "status_event"
	errorSubjectTable          = "table"
	errorSubjectAssignment     = "assignment"
	errorSubjectOccupancy      = "occupancy"
	errorSubjectBill           = "bill"
	errorSubjectSchema         = "schema"
	errorSubjectTransaction    = "transaction"
	errorCodeBegin             = "begin"
	errorCodeCommit            = "commit"
	errorCodeCreate            = "create"
	errorCodeDuplicate         = "duplicate"
	errorCodeGet               = "get"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeLookup            = "lookup"
	errorCodeMigrate           = "migrate"
	errorCodeRelease           = "release"
	errorCodeSerialization     = "serialization"
	errorCodeUpsert            = "upsert"
	errorCodeUpdateStatus      = "update_status"

	sqlInsertReservation = `
		insert into reservations(reservation_id, scheduled_at, party_size, child_count, contact_name, status, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $7)
	`

	sqlSelectReservation = `
		select reservation_id, scheduled_at, party_size, child_count, contact_name, status,
			cancel_reason, cancelled_by, cancelled_at, created_at
		from reservations
		where reservation_id = $1
		for update
	`

	sqlUpdateReservationStatus = `
		update reservations
		set status = $3, updated_at = now()
		where reservation_id = $1 and status = $2
	`

	sqlCancelReservation = `
		update reservations
		set status = 'cancelled', cancel_reason = $3, cancelled_by = $4, cancelled_at = $5, updated_at = $5
		where reservation_id = $1 and status = $2
	`

	sqlInsertStatusEvent = `
		insert into reservation_status_events(reservation_id, from_status, to_status, actor_id, reason, occurred_at)
		values ($1, $2, $3, $4, $5, $6)
	`

	sqlListStatusEvents = `
		select reservation_id, from_status, to_status, actor_id, reason, occurred_at
		from reservation_status_events
		where reservation_id = $1
		order by occurred_at asc, event_id asc
	`

	sqlLookupTables = `
		select table_id, number, capacity
		from dining_tables
		where number = any($1)
		order by number
		for update
	`

	sqlListTables = `
		select table_id, number, capacity
		from dining_tables
		order by number
	`

	sqlUpsertTable = `
		insert into dining_tables(number, capacity) values ($1, $2)
		on conflict (number) do update set capacity = excluded.capacity
	`

	sqlListActiveAssignments = `
		select a.reservation_id, a.table_id, t.number, t.capacity, a.assigned_at
		from table_assignments a
		join dining_tables t on t.table_id = a.table_id
		where a.reservation_id = $1 and a.released_at is null
		order by t.number
	`

	sqlListOccupancy = `
		select a.reservation_id, a.table_id, t.number, t.capacity, r.scheduled_at, r.status, r.cancelled_at is not null
		from table_assignments a
		join reservations r on r.reservation_id = a.reservation_id
		join dining_tables t on t.table_id = a.table_id
		where a.released_at is null and a.table_id = any($1) and a.reservation_id <> $2
		order by t.number
	`

	sqlInsertAssignment = `
		insert into table_assignments(reservation_id, table_id, assigned_at)
		values ($1, $2, $3)
	`

	sqlReleaseAssignments = `
		update table_assignments
		set released_at = $3
		where reservation_id = $1 and table_id = any($2) and released_at is null
	`

	sqlReleaseAllAssignments = `
		update table_assignments
		set released_at = $2
		where reservation_id = $1 and released_at is null
	`

	sqlUpsertBill = `
		insert into bills(reservation_id, total_cents, payment_method, status, paid_at, details)
		values ($1, $2, $3, $4, $5, $6::jsonb)
		on conflict (reservation_id) do update set
			total_cents = excluded.total_cents,
			payment_method = excluded.payment_method,
			status = excluded.status,
			paid_at = excluded.paid_at,
			details = excluded.details,
			updated_at = now()
		returning bill_id::text
	`

	sqlDeleteBillLines = `delete from bill_line_items where bill_id = $1`

	sqlInsertBillLine = `
		insert into bill_line_items(bill_id, position, kind, catalog_item_id, name_snapshot, unit_price_cents, quantity)
		values ($1, $2, $3, $4::uuid, $5, $6, $7)
	`

	sqlSelectBill = `
		select bill_id::text, reservation_id, total_cents, payment_method, status, paid_at
		from bills
		where reservation_id = $1
	`

	sqlSelectBillLines = `
		select kind, catalog_item_id::text, name_snapshot, unit_price_cents, quantity
		from bill_line_items
		where bill_id = $1
		order by position
	`
)

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
	SendBatch(ctx context.Context, batch *pgx.Batch) pgx.BatchResults
}

// Store implements queue.Store using a pgx connection pool (autocommit).
type Store struct {
	queries
	pool *pgxpool.Pool
}

// TxStore implements queue.Store for an active transaction.
type TxStore struct {
	queries
	tx pgx.Tx
}

type queries struct {
	db querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{db: pool}, pool: pool}
}

// Migrate applies the embedded schema. It is safe to run repeatedly.
func (store *Store) Migrate(ctx context.Context) error {
	if _, err := store.pool.Exec(ctx, schemaSQL); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}

// WithTx runs fn in a serializable transaction so the conflict check and the ledger write commit together.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore queue.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{queries: queries{db: tx}, tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if isSerializationFailure(err) {
			return wrapStoreError(errorSubjectTransaction, errorCodeSerialization, err)
		}
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

// SaveBill opens its own transaction when called outside WithTx.
func (store *Store) SaveBill(ctx context.Context, draft queue.BillDraft) (queue.Bill, error) {
	var bill queue.Bill
	err := store.WithTx(ctx, func(ctx context.Context, txStore queue.Store) error {
		saved, err := txStore.SaveBill(ctx, draft)
		bill = saved
		return err
	})
	return bill, err
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore queue.Store) error) error {
	return fn(ctx, store)
}

func (store *TxStore) SaveBill(ctx context.Context, draft queue.BillDraft) (queue.Bill, error) {
	return store.queries.saveBill(ctx, draft)
}

func (q queries) CreateReservation(ctx context.Context, reservation queue.Reservation) error {
	createdAt := reservation.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := q.db.Exec(ctx, sqlInsertReservation,
		reservation.ID.String(),
		reservation.ScheduledAt.UTC(),
		reservation.PartySize,
		reservation.ChildCount,
		reservation.ContactName,
		reservation.Status.String(),
		createdAt,
	)
	if isUniqueViolation(err, constraintReservationKey) {
		return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, queue.ErrReservationExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeCreate, err)
	}
	return nil
}

func (q queries) GetReservation(ctx context.Context, reservationID queue.ReservationID) (queue.Reservation, error) {
	var (
		reservationValue string
		scheduledAt      time.Time
		partySize        int
		childCount       int
		contactName      string
		statusValue      string
		cancelReason     *string
		cancelledBy      *string
		cancelledAt      *time.Time
		createdAt        time.Time
	)
	err := q.db.QueryRow(ctx, sqlSelectReservation, reservationID.String()).Scan(
		&reservationValue,
		&scheduledAt,
		&partySize,
		&childCount,
		&contactName,
		&statusValue,
		&cancelReason,
		&cancelledBy,
		&cancelledAt,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return queue.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, queue.ErrUnknownReservation)
		}
		return queue.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, err)
	}
	parsedReservationID, err := queue.NewReservationID(reservationValue)
	if err != nil {
		return queue.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	status, err := queue.ParseReservationStatus(statusValue)
	if err != nil {
		return queue.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	reservation := queue.Reservation{
		ID:          parsedReservationID,
		ScheduledAt: scheduledAt.UTC(),
		PartySize:   partySize,
		ChildCount:  childCount,
		ContactName: contactName,
		Status:      status,
		CreatedAt:   createdAt.UTC(),
	}
	if cancelledAt != nil {
		cancellation := queue.Cancellation{CancelledAt: cancelledAt.UTC()}
		if cancelReason != nil {
			cancellation.Reason = *cancelReason
		}
		if cancelledBy != nil {
			if actorID, actorErr := queue.NewActorID(*cancelledBy); actorErr == nil {
				cancellation.ActorID = actorID
			}
		}
		reservation.Cancellation = &cancellation
	}
	if err := reservation.Validate(); err != nil {
		return queue.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	return reservation, nil
}

func (q queries) UpdateReservationStatus(ctx context.Context, reservationID queue.ReservationID, from, to queue.ReservationStatus) error {
	tag, err := q.db.Exec(ctx, sqlUpdateReservationStatus, reservationID.String(), from.String(), to.String())
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, queue.ErrInvalidTransition)
	}
	return nil
}

func (q queries) CancelReservation(ctx context.Context, reservationID queue.ReservationID, from queue.ReservationStatus, cancellation queue.Cancellation) error {
	tag, err := q.db.Exec(ctx, sqlCancelReservation,
		reservationID.String(),
		from.String(),
		cancellation.Reason,
		cancellation.ActorID.String(),
		cancellation.CancelledAt.UTC(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, queue.ErrInvalidTransition)
	}
	return nil
}

func (q queries) AppendStatusEvent(ctx context.Context, event queue.StatusEvent) error {
	_, err := q.db.Exec(ctx, sqlInsertStatusEvent,
		event.ReservationID.String(),
		event.From.String(),
		event.To.String(),
		event.ActorID,
		event.Reason,
		event.OccurredAt.UTC(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectStatusEvent, errorCodeInsert, err)
	}
	return nil
}

func (q queries) ListStatusEvents(ctx context.Context, reservationID queue.ReservationID) ([]queue.StatusEvent, error) {
	rows, err := q.db.Query(ctx, sqlListStatusEvents, reservationID.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectStatusEvent, errorCodeList, err)
	}
	defer rows.Close()
	var events []queue.StatusEvent
	for rows.Next() {
		var (
			reservationValue string
			fromValue        string
			toValue          string
			event            queue.StatusEvent
		)
		if err := rows.Scan(&reservationValue, &fromValue, &toValue, &event.ActorID, &event.Reason, &event.OccurredAt); err != nil {
			return nil, wrapStoreError(errorSubjectStatusEvent, errorCodeList, err)
		}
		if event.ReservationID, err = queue.NewReservationID(reservationValue); err != nil {
			return nil, wrapStoreError(errorSubjectStatusEvent, errorCodeInvalid, err)
		}
		if fromValue != "" {
			if event.From, err = queue.ParseReservationStatus(fromValue); err != nil {
				return nil, wrapStoreError(errorSubjectStatusEvent, errorCodeInvalid, err)
			}
		}
		if event.To, err = queue.ParseReservationStatus(toValue); err != nil {
			return nil, wrapStoreError(errorSubjectStatusEvent, errorCodeInvalid, err)
		}
		event.OccurredAt = event.OccurredAt.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectStatusEvent, errorCodeList, err)
	}
	return events, nil
}

func (q queries) LookupTables(ctx context.Context, numbers []queue.TableNumber) ([]queue.Table, error) {
	if len(numbers) == 0 {
		return nil, nil
	}
	values := make([]int32, 0, len(numbers))
	for _, number := range numbers {
		values = append(values, int32(number.Int()))
	}
	tables, err := q.scanTables(ctx, sqlLookupTables, values)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTable, errorCodeLookup, err)
	}
	return tables, nil
}

// ListTables returns the whole catalog ordered by number.
func (q queries) ListTables(ctx context.Context) ([]queue.Table, error) {
	tables, err := q.scanTables(ctx, sqlListTables)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTable, errorCodeList, err)
	}
	return tables, nil
}

// UpsertTables creates catalog rows or updates the capacity of existing numbers.
func (q queries) UpsertTables(ctx context.Context, tables []queue.Table) error {
	batch := &pgx.Batch{}
	for _, table := range tables {
		batch.Queue(sqlUpsertTable, table.Number.Int(), table.Capacity)
	}
	if err := q.db.SendBatch(ctx, batch).Close(); err != nil {
		return wrapStoreError(errorSubjectTable, errorCodeUpsert, err)
	}
	return nil
}

func (q queries) scanTables(ctx context.Context, sql string, arguments ...any) ([]queue.Table, error) {
	rows, err := q.db.Query(ctx, sql, arguments...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tables []queue.Table
	for rows.Next() {
		var (
			tableID  int64
			number   int
			capacity int
		)
		if err := rows.Scan(&tableID, &number, &capacity); err != nil {
			return nil, err
		}
		tables = append(tables, queue.Table{ID: queue.TableID(tableID), Number: queue.TableNumber(number), Capacity: capacity})
	}
	return tables, rows.Err()
}

func (q queries) ListActiveAssignments(ctx context.Context, reservationID queue.ReservationID) ([]queue.TableAssignment, error) {
	rows, err := q.db.Query(ctx, sqlListActiveAssignments, reservationID.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectAssignment, errorCodeList, err)
	}
	defer rows.Close()
	var assignments []queue.TableAssignment
	for rows.Next() {
		var (
			reservationValue string
			tableID          int64
			number           int
			capacity         int
			assignedAt       time.Time
		)
		if err := rows.Scan(&reservationValue, &tableID, &number, &capacity, &assignedAt); err != nil {
			return nil, wrapStoreError(errorSubjectAssignment, errorCodeList, err)
		}
		parsedReservationID, err := queue.NewReservationID(reservationValue)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAssignment, errorCodeInvalid, err)
		}
		assignments = append(assignments, queue.TableAssignment{
			ReservationID: parsedReservationID,
			Table:         queue.Table{ID: queue.TableID(tableID), Number: queue.TableNumber(number), Capacity: capacity},
			AssignedAt:    assignedAt.UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectAssignment, errorCodeList, err)
	}
	return assignments, nil
}

func (q queries) ListOccupancy(ctx context.Context, tableIDs []queue.TableID, excluding queue.ReservationID) ([]queue.Occupancy, error) {
	if len(tableIDs) == 0 {
		return nil, nil
	}
	rows, err := q.db.Query(ctx, sqlListOccupancy, tableIDValues(tableIDs), excluding.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectOccupancy, errorCodeList, err)
	}
	defer rows.Close()
	var occupancy []queue.Occupancy
	for rows.Next() {
		var (
			reservationValue string
			tableID          int64
			number           int
			capacity         int
			scheduledAt      time.Time
			statusValue      string
			cancelled        bool
		)
		if err := rows.Scan(&reservationValue, &tableID, &number, &capacity, &scheduledAt, &statusValue, &cancelled); err != nil {
			return nil, wrapStoreError(errorSubjectOccupancy, errorCodeList, err)
		}
		parsedReservationID, err := queue.NewReservationID(reservationValue)
		if err != nil {
			return nil, wrapStoreError(errorSubjectOccupancy, errorCodeInvalid, err)
		}
		status, err := queue.ParseReservationStatus(statusValue)
		if err != nil {
			return nil, wrapStoreError(errorSubjectOccupancy, errorCodeInvalid, err)
		}
		occupancy = append(occupancy, queue.Occupancy{
			Table:         queue.Table{ID: queue.TableID(tableID), Number: queue.TableNumber(number), Capacity: capacity},
			ReservationID: parsedReservationID,
			ScheduledAt:   scheduledAt.UTC(),
			Status:        status,
			Cancelled:     cancelled,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectOccupancy, errorCodeList, err)
	}
	return occupancy, nil
}

func (q queries) InsertAssignment(ctx context.Context, assignment queue.TableAssignment) error {
	_, err := q.db.Exec(ctx, sqlInsertAssignment,
		assignment.ReservationID.String(),
		assignment.Table.ID.Int64(),
		assignment.AssignedAt.UTC(),
	)
	if isUniqueViolation(err, constraintAssignmentActive) {
		return wrapStoreError(errorSubjectAssignment, errorCodeDuplicate, queue.ErrDuplicateAssignment)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAssignment, errorCodeInsert, err)
	}
	return nil
}

func (q queries) ReleaseAssignments(ctx context.Context, reservationID queue.ReservationID, tableIDs []queue.TableID, releasedAt time.Time) error {
	if len(tableIDs) == 0 {
		return nil
	}
	if _, err := q.db.Exec(ctx, sqlReleaseAssignments, reservationID.String(), tableIDValues(tableIDs), releasedAt.UTC()); err != nil {
		return wrapStoreError(errorSubjectAssignment, errorCodeRelease, err)
	}
	return nil
}

func (q queries) ReleaseAllAssignments(ctx context.Context, reservationID queue.ReservationID, releasedAt time.Time) error {
	if _, err := q.db.Exec(ctx, sqlReleaseAllAssignments, reservationID.String(), releasedAt.UTC()); err != nil {
		return wrapStoreError(errorSubjectAssignment, errorCodeRelease, err)
	}
	return nil
}

func (q queries) saveBill(ctx context.Context, draft queue.BillDraft) (queue.Bill, error) {
	details, err := json.Marshal(map[string]int64{
		"adult_count":         int64(draft.AdultCount),
		"child_count":         int64(draft.ChildCount),
		"package_price_cents": draft.PackagePrice.Int64(),
		"child_price_cents":   draft.ChildPrice.Int64(),
	})
	if err != nil {
		return queue.Bill{}, wrapStoreError(errorSubjectBill, errorCodeInvalid, err)
	}
	var billID string
	err = q.db.QueryRow(ctx, sqlUpsertBill,
		draft.ReservationID.String(),
		draft.Total.Int64(),
		draft.PaymentMethod.String(),
		string(draft.Status),
		draft.PaidAt.UTC(),
		string(details),
	).Scan(&billID)
	if err != nil {
		return queue.Bill{}, wrapStoreError(errorSubjectBill, errorCodeUpsert, err)
	}
	batch := &pgx.Batch{}
	batch.Queue(sqlDeleteBillLines, billID)
	for position, line := range draft.Lines {
		batch.Queue(sqlInsertBillLine,
			billID,
			position,
			string(line.Kind),
			line.CatalogItemID,
			line.NameSnapshot,
			line.UnitPrice.Int64(),
			line.Quantity,
		)
	}
	if err := q.db.SendBatch(ctx, batch).Close(); err != nil {
		return queue.Bill{}, wrapStoreError(errorSubjectBill, errorCodeInsert, err)
	}
	return queue.Bill{
		ID:            billID,
		ReservationID: draft.ReservationID,
		Total:         draft.Total,
		PaymentMethod: draft.PaymentMethod,
		Status:        draft.Status,
		PaidAt:        draft.PaidAt.UTC(),
		Lines:         append([]queue.BillLineItem(nil), draft.Lines...),
	}, nil
}

func (q queries) GetBill(ctx context.Context, reservationID queue.ReservationID) (queue.Bill, error) {
	var (
		bill             queue.Bill
		reservationValue string
		totalCents       int64
		methodValue      string
		statusValue      string
	)
	err := q.db.QueryRow(ctx, sqlSelectBill, reservationID.String()).Scan(&bill.ID, &reservationValue, &totalCents, &methodValue, &statusValue, &bill.PaidAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return queue.Bill{}, wrapStoreError(errorSubjectBill, errorCodeGet, queue.ErrUnknownBill)
		}
		return queue.Bill{}, wrapStoreError(errorSubjectBill, errorCodeGet, err)
	}
	bill.ReservationID = reservationID
	bill.Total = queue.AmountCents(totalCents)
	bill.PaymentMethod = queue.PaymentMethod(methodValue)
	bill.Status = queue.BillStatus(statusValue)
	bill.PaidAt = bill.PaidAt.UTC()

	rows, err := q.db.Query(ctx, sqlSelectBillLines, bill.ID)
	if err != nil {
		return queue.Bill{}, wrapStoreError(errorSubjectBill, errorCodeList, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kind           string
			catalogItemID  *string
			nameSnapshot   string
			unitPriceCents int64
			quantity       int
		)
		if err := rows.Scan(&kind, &catalogItemID, &nameSnapshot, &unitPriceCents, &quantity); err != nil {
			return queue.Bill{}, wrapStoreError(errorSubjectBill, errorCodeList, err)
		}
		bill.Lines = append(bill.Lines, queue.BillLineItem{
			Kind:          queue.BillLineKind(kind),
			CatalogItemID: catalogItemID,
			NameSnapshot:  nameSnapshot,
			UnitPrice:     queue.AmountCents(unitPriceCents),
			Quantity:      quantity,
		})
	}
	if err := rows.Err(); err != nil {
		return queue.Bill{}, wrapStoreError(errorSubjectBill, errorCodeList, err)
	}
	return bill, nil
}

func wrapStoreError(subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	var operationError queue.OperationError
	isDomain := errors.As(err, &operationError) ||
		errors.Is(err, queue.ErrUnknownReservation) ||
		errors.Is(err, queue.ErrInvalidTransition) ||
		errors.Is(err, queue.ErrDuplicateAssignment) ||
		errors.Is(err, queue.ErrReservationExists) ||
		errors.Is(err, queue.ErrUnknownBill) ||
		errors.Is(err, queue.ErrInvalidReservationID) ||
		errors.Is(err, queue.ErrInvalidStatus) ||
		errors.Is(err, queue.ErrInvalidReservationRow)
	if !isDomain {
		err = queue.StorageError(err)
	}
	return queue.WrapError(errorOperationStore, subject, code, err)
}

func tableIDValues(tableIDs []queue.TableID) []int64 {
	values := make([]int64, 0, len(tableIDs))
	for _, tableID := range tableIDs {
		values = append(values, tableID.Int64())
	}
	return values
}

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgSerializationFailureCode
}
