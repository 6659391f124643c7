package queue

import (
	"errors"
	"testing"
	"time"
)

func TestNewReservationID(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		input   string
		wantErr error
		wantVal string
	}{
		{name: "valid", input: " res-123 ", wantVal: "res-123"},
		{name: "empty", input: "   ", wantErr: ErrInvalidReservationID},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			result, err := NewReservationID(tc.input)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected error %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.String() != tc.wantVal {
				t.Fatalf("expected %q, got %q", tc.wantVal, result.String())
			}
		})
	}
}

func TestNewActorID(t *testing.T) {
	t.Parallel()
	if _, err := NewActorID(" "); !errors.Is(err, ErrInvalidActorID) {
		t.Fatalf("expected ErrInvalidActorID, got %v", err)
	}
}

func TestNewTableNumber(t *testing.T) {
	t.Parallel()
	if _, err := NewTableNumber(0); !errors.Is(err, ErrInvalidTableNumber) {
		t.Fatalf("expected ErrInvalidTableNumber, got %v", err)
	}
	number, err := NewTableNumber(12)
	if err != nil || number.Int() != 12 {
		t.Fatalf("expected table 12, got %d (%v)", number, err)
	}
}

func TestAllowedCapacityAddsSlackPerTable(t *testing.T) {
	t.Parallel()
	tables := []Table{{ID: 1, Number: 1, Capacity: 4}, {ID: 2, Number: 2, Capacity: 4}}
	if got := AllowedCapacity(tables); got != 12 {
		t.Fatalf("expected 12, got %d", got)
	}
	if got := AllowedCapacity([]Table{{ID: 3, Number: 3, Capacity: 0}}); got != 2 {
		t.Fatalf("expected 2 for zero-capacity table, got %d", got)
	}
}

func TestParseReservationStatusFoldsSynonyms(t *testing.T) {
	t.Parallel()
	cases := map[string]ReservationStatus{
		"Confirmed": ReservationStatusConfirmed,
		" confirm ": ReservationStatusConfirmed,
		"SEATED":    ReservationStatusSeated,
		"canceled":  ReservationStatusCancelled,
		"Paid":      ReservationStatusPaid,
		"pending":   ReservationStatusWaiting,
	}
	for raw, want := range cases {
		got, err := ParseReservationStatus(raw)
		if err != nil || got != want {
			t.Fatalf("%q: expected %s, got %s (%v)", raw, want, got, err)
		}
	}
	if _, err := ParseReservationStatus("eating"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestParseAction(t *testing.T) {
	t.Parallel()
	cases := map[string]Action{
		"confirm":   ActionConfirm,
		"Seat":      ActionSeat,
		"paid":      ActionPay,
		"cancelled": ActionCancel,
	}
	for raw, want := range cases {
		got, err := ParseAction(raw)
		if err != nil || got != want {
			t.Fatalf("%q: expected %s, got %s (%v)", raw, want, got, err)
		}
	}
	if _, err := ParseAction("waiting"); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction for waiting, got %v", err)
	}
}

func TestReservationValidateCancellationInvariant(t *testing.T) {
	t.Parallel()
	reservationID, err := NewReservationID("res-validate")
	if err != nil {
		t.Fatalf("reservation id: %v", err)
	}
	cancelled := Reservation{ID: reservationID, Status: ReservationStatusCancelled}
	if err := cancelled.Validate(); !errors.Is(err, ErrInvalidReservationRow) {
		t.Fatalf("expected ErrInvalidReservationRow without metadata, got %v", err)
	}
	cancelled.Cancellation = &Cancellation{Reason: "rain", CancelledAt: time.Now()}
	if err := cancelled.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seated := Reservation{ID: reservationID, Status: ReservationStatusSeated, Cancellation: &Cancellation{}}
	if err := seated.Validate(); !errors.Is(err, ErrInvalidReservationRow) {
		t.Fatalf("expected ErrInvalidReservationRow with stray metadata, got %v", err)
	}
	if err := (Reservation{ID: reservationID, Status: "lost"}).Validate(); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}
