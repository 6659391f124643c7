package notify

import (
	"encoding/json"
	"time"

	"github.com/MarkoPoloResearchLab/tablequeue/pkg/queue"
)

// Message is the JSON body published for every event.
type Message struct {
	Type           string    `json:"type"`
	ReservationID  string    `json:"reservation_id"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	Tables         []int     `json:"tables,omitempty"`
	BillTotalCents int64     `json:"bill_total_cents,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// NewMessage converts an event into its wire form.
func NewMessage(event queue.Event) Message {
	message := Message{
		Type:           string(event.Type),
		ReservationID:  event.ReservationID.String(),
		Status:         event.Status.String(),
		PreviousStatus: event.PreviousStatus.String(),
		BillTotalCents: event.BillTotal.Int64(),
		Reason:         event.Reason,
		OccurredAt:     event.OccurredAt.UTC(),
	}
	for _, number := range event.Tables {
		message.Tables = append(message.Tables, number.Int())
	}
	return message
}

func encodeEvent(event queue.Event) ([]byte, error) {
	return json.Marshal(NewMessage(event))
}
