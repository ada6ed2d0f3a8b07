package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"example.com/registry/services/customer/internal/models"
)

// Event types routed through the customer events exchange. The event type is
// used as the routing key, so consumers can bind narrower patterns than `#`.
const (
	TypeCustomerCreated    = "customer.created"
	TypeCustomerUpdated    = "customer.updated"
	TypeDuplicateSuspected = "customer.duplicate-suspected"
)

// EventMessage is the single wire schema shared by every event kind. Fields
// that do not apply to a given kind are omitted.
type EventMessage struct {
	EventID     uuid.UUID  `json:"eventId"`
	EventType   string     `json:"eventType"`
	OccurredAt  time.Time  `json:"occurredAt"`
	SubjectID   uuid.UUID  `json:"subjectId"`
	CandidateID *uuid.UUID `json:"candidateId,omitempty"`
	TypeTag     string     `json:"typeTag,omitempty"`
	Document    string     `json:"document,omitempty"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone"`
	Score       *float64   `json:"score,omitempty"`
}

// NewCustomerEvent builds a created/updated event for a customer snapshot.
func NewCustomerEvent(eventType string, customer *models.Customer) EventMessage {
	return EventMessage{
		EventID:    uuid.New(),
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		SubjectID:  customer.ID,
		TypeTag:    customer.Kind,
		Document:   customer.Document,
		Name:       customer.Name,
		Email:      customer.Email,
		Phone:      customer.Phone,
	}
}

// NewSuspicionEvent builds a duplicate-suspicion event for a persisted suspicion.
func NewSuspicionEvent(suspicion *models.DuplicateSuspicion, subject *models.Customer) EventMessage {
	candidateID := suspicion.CandidateID
	score := suspicion.Score

	return EventMessage{
		EventID:     uuid.New(),
		EventType:   TypeDuplicateSuspected,
		OccurredAt:  time.Now().UTC(),
		SubjectID:   suspicion.SubjectID,
		CandidateID: &candidateID,
		Name:        subject.Name,
		Email:       subject.Email,
		Phone:       subject.Phone,
		Score:       &score,
	}
}

// Marshal serializes the event for the outbox payload and the broker body.
func (e EventMessage) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal event message")
	}
	return data, nil
}

// Unmarshal deserializes a broker body into an EventMessage.
func Unmarshal(data []byte) (EventMessage, error) {
	var msg EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return EventMessage{}, errors.Wrap(err, "failed to unmarshal event message")
	}
	return msg, nil
}
