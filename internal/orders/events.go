package orders

import (
	"time"

	"github.com/goccy/go-json"
)

// Realtime event types pushed to dashboard/customer sockets.
const (
	EventOrderCreated       = "order:created"
	EventOrderCancelled     = "order:cancelled"
	EventOrderStatusChanged = "order:status_changed"
	EventOrderUpdated       = "order:updated"
)

// Event is the realtime envelope. Delivery is fire-and-forget: no ack, no
// persistence, no replay.
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewEvent(typ string, payload any) Event {
	return Event{Type: typ, Payload: mustJSON(payload), Timestamp: time.Now().UTC()}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

type OrderCreatedPayload struct {
	Order Summary `json:"order"`
	Items int     `json:"items"`
}

type OrderCancelledPayload struct {
	Order  Summary `json:"order"`
	Reason string  `json:"reason,omitempty"`
}

// OrderStatusChangedPayload goes to the admins room and names the actor.
type OrderStatusChangedPayload struct {
	Order   Summary `json:"order"`
	From    Status  `json:"from"`
	AdminID string  `json:"admin_id"`
}

// OrderUpdatedPayload goes to the owning user's private channel.
type OrderUpdatedPayload struct {
	Order          Summary `json:"order"`
	TrackingNumber string  `json:"tracking_number,omitempty"`
	Carrier        string  `json:"carrier,omitempty"`
}

// ---- Kafka integration envelope (downstream services, not the hub) ----

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}
