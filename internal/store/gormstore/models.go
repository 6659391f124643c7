package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Reservation mirrors the reservations table.
type Reservation struct {
	ReservationID string     `gorm:"size:64;primaryKey"`
	ScheduledAt   time.Time  `gorm:"not null;index:idx_reservations_scheduled"`
	PartySize     int        `gorm:"not null"`
	ChildCount    int        `gorm:"not null;default:0"`
	ContactName   string     `gorm:"size:255;not null;default:''"`
	Status        string     `gorm:"size:16;not null;index:idx_reservations_status"`
	CancelReason  *string    `gorm:"size:1024"`
	CancelledBy   *string    `gorm:"size:255"`
	CancelledAt   *time.Time `gorm:""`
	CreatedAt     time.Time  `gorm:"not null"`
	UpdatedAt     time.Time  `gorm:"not null"`
}

func (Reservation) TableName() string { return "reservations" }

// DiningTable mirrors the table catalog.
type DiningTable struct {
	TableID  int64 `gorm:"primaryKey;autoIncrement"`
	Number   int   `gorm:"not null;uniqueIndex:uniq_dining_tables_number"`
	Capacity int   `gorm:"not null;default:0"`
}

func (DiningTable) TableName() string { return "dining_tables" }

// TableAssignment mirrors the table_assignments ledger. A (reservation, table) pair has at most one
// row with a null released_at.
type TableAssignment struct {
	AssignmentID  string     `gorm:"type:uuid;primaryKey"`
	ReservationID string     `gorm:"size:64;not null;index:uniq_assignment_active,unique,where:released_at IS NULL,priority:1;index:idx_assignment_reservation"`
	TableID       int64      `gorm:"not null;index:uniq_assignment_active,unique,where:released_at IS NULL,priority:2;index:idx_assignment_table"`
	AssignedAt    time.Time  `gorm:"not null"`
	ReleasedAt    *time.Time `gorm:""`
}

func (TableAssignment) TableName() string { return "table_assignments" }

func (assignment *TableAssignment) BeforeCreate(tx *gorm.DB) error {
	if assignment.AssignmentID == "" {
		assignment.AssignmentID = uuid.NewString()
	}
	return nil
}

// StatusEvent mirrors the reservation_status_events history table.
type StatusEvent struct {
	EventID       int64     `gorm:"primaryKey;autoIncrement"`
	ReservationID string    `gorm:"size:64;not null;index:idx_status_events_reservation,priority:1"`
	FromStatus    string    `gorm:"size:16;not null;default:''"`
	ToStatus      string    `gorm:"size:16;not null"`
	ActorID       string    `gorm:"size:255;not null;default:''"`
	Reason        string    `gorm:"size:1024;not null;default:''"`
	OccurredAt    time.Time `gorm:"not null;index:idx_status_events_reservation,priority:2"`
}

func (StatusEvent) TableName() string { return "reservation_status_events" }

// Bill mirrors the bills table. Details keeps the counts and prices the total was computed from.
type Bill struct {
	BillID        string         `gorm:"type:uuid;primaryKey"`
	ReservationID string         `gorm:"size:64;not null;uniqueIndex:uniq_bills_reservation"`
	TotalCents    int64          `gorm:"not null;check:chk_bills_total_nonnegative,total_cents >= 0"`
	PaymentMethod string         `gorm:"size:16;not null"`
	Status        string         `gorm:"size:16;not null"`
	PaidAt        time.Time      `gorm:"not null"`
	Details       datatypes.JSON `gorm:"not null"`
	CreatedAt     time.Time      `gorm:"not null"`
	UpdatedAt     time.Time      `gorm:"not null"`
}

func (Bill) TableName() string { return "bills" }

func (bill *Bill) BeforeCreate(tx *gorm.DB) error {
	if bill.BillID == "" {
		bill.BillID = uuid.NewString()
	}
	return nil
}

// BillLineItem mirrors the bill_line_items table.
type BillLineItem struct {
	LineID         int64   `gorm:"primaryKey;autoIncrement"`
	BillID         string  `gorm:"type:uuid;not null;index:idx_bill_lines_bill,priority:1"`
	Position       int     `gorm:"not null;index:idx_bill_lines_bill,priority:2"`
	Kind           string  `gorm:"size:32;not null"`
	CatalogItemID  *string `gorm:"type:uuid"`
	NameSnapshot   string  `gorm:"size:255;not null"`
	UnitPriceCents int64   `gorm:"not null;check:chk_bill_lines_price_nonnegative,unit_price_cents >= 0"`
	Quantity       int     `gorm:"not null;check:chk_bill_lines_quantity_nonnegative,quantity >= 0"`
}

func (BillLineItem) TableName() string { return "bill_line_items" }

// billDetails is the JSON snapshot stored next to a bill.
type billDetails struct {
	AdultCount        int   `json:"adult_count"`
	ChildCount        int   `json:"child_count"`
	PackagePriceCents int64 `json:"package_price_cents"`
	ChildPriceCents   int64 `json:"child_price_cents"`
}

// AutoMigrate creates or updates the schema for every model.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Reservation{},
		&DiningTable{},
		&TableAssignment{},
		&StatusEvent{},
		&Bill{},
		&BillLineItem{},
	)
}
