package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	SourceOrder    = "order-service"
	SourcePayment  = "payment-service"
	SourceDelivery = "delivery-service"
)

var ErrMalformed = errors.New("malformed event")

// Envelope is the wire shape shared by every producer and consumer.
// EventID is minted once when the event is first recorded and must be
// reused on every resend.
type Envelope struct {
	EventID     uuid.UUID       `json:"eventId"`
	EventType   string          `json:"eventType"`
	Timestamp   time.Time       `json:"timestamp"`
	Source      string          `json:"source"`
	AggregateID int64           `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
}

func New(eventType, source string, aggregateID int64, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("event.New: marshal payload: %w", err)
	}
	return Envelope{
		EventID:     uuid.New(),
		EventType:   eventType,
		Timestamp:   time.Now().UTC(),
		Source:      source,
		AggregateID: aggregateID,
		Payload:     raw,
	}, nil
}

func (e Envelope) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("Encode: %w", err)
	}
	return b, nil
}

func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("Decode: %w: %v", ErrMalformed, err)
	}
	if e.EventID == uuid.Nil {
		return Envelope{}, fmt.Errorf("Decode: %w: missing eventId", ErrMalformed)
	}
	if e.EventType == "" {
		return Envelope{}, fmt.Errorf("Decode: %w: missing eventType", ErrMalformed)
	}
	return e, nil
}

func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("DecodePayload: %w: empty payload", ErrMalformed)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("DecodePayload: %w: %v", ErrMalformed, err)
	}
	return nil
}

// Key renders an aggregate id as a partition key.
func Key(id int64) string {
	return strconv.FormatInt(id, 10)
}
