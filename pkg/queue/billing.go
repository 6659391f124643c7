package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PaymentMethod is the canonical settlement method.
type PaymentMethod string

const (
	PaymentMethodCash     PaymentMethod = "cash"
	PaymentMethodCard     PaymentMethod = "card"
	PaymentMethodQR       PaymentMethod = "qr"
	PaymentMethodTransfer PaymentMethod = "transfer"
	PaymentMethodEWallet  PaymentMethod = "e-wallet"
)

var paymentMethodSynonyms = map[string]PaymentMethod{
	"cash":          PaymentMethodCash,
	"เงินสด":        PaymentMethodCash,
	"card":          PaymentMethodCard,
	"creditcard":    PaymentMethodCard,
	"debitcard":     PaymentMethodCard,
	"credit":        PaymentMethodCard,
	"debit":         PaymentMethodCard,
	"visa":          PaymentMethodCard,
	"mastercard":    PaymentMethodCard,
	"qr":            PaymentMethodQR,
	"qrcode":        PaymentMethodQR,
	"promptpay":     PaymentMethodQR,
	"thaiqr":        PaymentMethodQR,
	"transfer":      PaymentMethodTransfer,
	"banktransfer":  PaymentMethodTransfer,
	"bank":          PaymentMethodTransfer,
	"ewallet":       PaymentMethodEWallet,
	"wallet":        PaymentMethodEWallet,
	"truemoney":     PaymentMethodEWallet,
	"linepay":       PaymentMethodEWallet,
	"rabbitlinepay": PaymentMethodEWallet,
	"shopeepay":     PaymentMethodEWallet,
}

// ParsePaymentMethod folds a supplied method into the canonical set. Empty input means cash.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	folded := strings.ToLower(strings.TrimSpace(raw))
	if folded == "" {
		return PaymentMethodCash, nil
	}
	folded = strings.NewReplacer("-", "", "_", "", " ", "", ".", "").Replace(folded)
	method, ok := paymentMethodSynonyms[folded]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, raw)
	}
	return method, nil
}

// String returns the canonical value.
func (method PaymentMethod) String() string {
	return string(method)
}

// BillStatus is the settlement state of a bill.
type BillStatus string

const BillStatusPaid BillStatus = "paid"

// BillLineKind classifies a bill line.
type BillLineKind string

const (
	BillLinePackageAdult BillLineKind = "package_adult"
	BillLinePackageChild BillLineKind = "package_child"
	BillLineAdhoc        BillLineKind = "adhoc"
)

// AdhocItem is an à la carte item ordered on top of (or instead of) a package.
type AdhocItem struct {
	CatalogItemID string
	Name          string
	Quantity      int
	UnitPrice     AmountCents
}

// BillingInput describes what a seating consumed. Nil counts fall back to the reservation's party.
type BillingInput struct {
	PackageID    string
	PackageName  string
	PackagePrice *AmountCents
	ChildPrice   *AmountCents
	AdultCount   *int
	ChildCount   *int
	Items        []AdhocItem
}

// PaymentDetails accompanies a MarkPaid request.
type PaymentDetails struct {
	Method  string
	PaidAt  time.Time
	Billing BillingInput
}

// BillLineItem is one priced line of a bill with a name snapshot.
type BillLineItem struct {
	Kind          BillLineKind
	CatalogItemID *string
	NameSnapshot  string
	UnitPrice     AmountCents
	Quantity      int
}

// Subtotal returns unit price times quantity, failing with ErrAmountOverflow above MaxAmountCents.
func (line BillLineItem) Subtotal() (AmountCents, error) {
	unitPrice := line.UnitPrice.clamped()
	quantity := AmountCents(clampCount(line.Quantity))
	if unitPrice == 0 || quantity == 0 {
		return 0, nil
	}
	if unitPrice > MaxAmountCents || quantity > MaxAmountCents/unitPrice {
		return 0, fmt.Errorf("%w: %s %d x %d", ErrAmountOverflow, line.NameSnapshot, line.Quantity, line.UnitPrice)
	}
	return unitPrice * quantity, nil
}

// BillDraft is a computed bill ready to be persisted.
type BillDraft struct {
	ReservationID ReservationID
	Total         AmountCents
	PaymentMethod PaymentMethod
	Status        BillStatus
	PaidAt        time.Time
	AdultCount    int
	ChildCount    int
	PackagePrice  AmountCents
	ChildPrice    AmountCents
	Lines         []BillLineItem
}

// Bill is a persisted settlement record.
type Bill struct {
	ID            string
	ReservationID ReservationID
	Total         AmountCents
	PaymentMethod PaymentMethod
	Status        BillStatus
	PaidAt        time.Time
	Lines         []BillLineItem
}

// LinesTotal sums the subtotals of all lines without exceeding MaxAmountCents.
func LinesTotal(lines []BillLineItem) (AmountCents, error) {
	var total AmountCents
	for _, line := range lines {
		subtotal, err := line.Subtotal()
		if err != nil {
			return 0, err
		}
		if subtotal > MaxAmountCents-total {
			return 0, fmt.Errorf("%w: bill total", ErrAmountOverflow)
		}
		total += subtotal
	}
	return total, nil
}

// DefaultChildPrice is half the adult price rounded half-up to a whole major unit.
func DefaultChildPrice(adultPrice AmountCents) AmountCents {
	adult := adultPrice.clamped()
	if adult > MaxAmountCents {
		adult = MaxAmountCents
	}
	return ((adult + 100) / 200) * 100
}

// ComputeBill turns a seating into line items and a total. It has no side effects.
func ComputeBill(reservation Reservation, input BillingInput, method PaymentMethod, paidAt time.Time) (BillDraft, error) {
	adultCount := clampCount(reservation.PartySize)
	if input.AdultCount != nil {
		adultCount = clampCount(*input.AdultCount)
	}
	childCount := clampCount(reservation.ChildCount)
	if input.ChildCount != nil {
		childCount = clampCount(*input.ChildCount)
	}
	var packagePrice AmountCents
	if input.PackagePrice != nil {
		packagePrice = input.PackagePrice.clamped()
	}
	if packagePrice > MaxAmountCents {
		return BillDraft{}, fmt.Errorf("%w: package price %d", ErrAmountOverflow, packagePrice)
	}
	childPrice := DefaultChildPrice(packagePrice)
	if input.ChildPrice != nil {
		childPrice = input.ChildPrice.clamped()
	}
	if childPrice > MaxAmountCents {
		return BillDraft{}, fmt.Errorf("%w: child price %d", ErrAmountOverflow, childPrice)
	}

	packageName := strings.TrimSpace(input.PackageName)
	if packageName == "" {
		packageName = defaultPackageName
	}
	packageID := normalizeCatalogID(input.PackageID)

	lines := make([]BillLineItem, 0, len(input.Items)+2)
	if packagePrice > 0 && adultCount > 0 {
		lines = append(lines, BillLineItem{
			Kind:          BillLinePackageAdult,
			CatalogItemID: packageID,
			NameSnapshot:  packageName,
			UnitPrice:     packagePrice,
			Quantity:      adultCount,
		})
	}
	if childPrice > 0 && childCount > 0 {
		lines = append(lines, BillLineItem{
			Kind:          BillLinePackageChild,
			CatalogItemID: packageID,
			NameSnapshot:  packageName,
			UnitPrice:     childPrice,
			Quantity:      childCount,
		})
	}
	for _, item := range input.Items {
		lines = append(lines, BillLineItem{
			Kind:          BillLineAdhoc,
			CatalogItemID: normalizeCatalogID(item.CatalogItemID),
			NameSnapshot:  strings.TrimSpace(item.Name),
			UnitPrice:     item.UnitPrice.clamped(),
			Quantity:      clampCount(item.Quantity),
		})
	}

	total, err := LinesTotal(lines)
	if err != nil {
		return BillDraft{}, err
	}
	return BillDraft{
		ReservationID: reservation.ID,
		Total:         total,
		PaymentMethod: method,
		Status:        BillStatusPaid,
		PaidAt:        paidAt,
		AdultCount:    adultCount,
		ChildCount:    childCount,
		PackagePrice:  packagePrice,
		ChildPrice:    childPrice,
		Lines:         lines,
	}, nil
}

// normalizeCatalogID keeps well-formed identifiers and drops everything else.
func normalizeCatalogID(raw string) *string {
	parsed, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	value := parsed.String()
	return &value
}

func clampCount(raw int) int {
	if raw < 0 {
		return 0
	}
	return raw
}
