package events

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/registry/services/customer/internal/models"
)

func TestNewCustomerEvent(t *testing.T) {
	customer := &models.Customer{
		ID:       uuid.New(),
		Name:     "Jane Doe",
		Email:    "jane@example.com",
		Phone:    "555-0101",
		Document: "12345678",
		Kind:     "person",
	}

	msg := NewCustomerEvent(TypeCustomerCreated, customer)

	require.NotEqual(t, uuid.Nil, msg.EventID)
	require.Equal(t, TypeCustomerCreated, msg.EventType)
	require.Equal(t, customer.ID, msg.SubjectID)
	require.Equal(t, customer.Name, msg.Name)
	require.Equal(t, customer.Email, msg.Email)
	require.Equal(t, customer.Phone, msg.Phone)
	require.Equal(t, customer.Document, msg.Document)
	require.Equal(t, customer.Kind, msg.TypeTag)
	require.False(t, msg.OccurredAt.IsZero())
	require.Nil(t, msg.CandidateID)
	require.Nil(t, msg.Score)

	// Every event gets its own id
	require.NotEqual(t, msg.EventID, NewCustomerEvent(TypeCustomerCreated, customer).EventID)
}

func TestNewSuspicionEvent(t *testing.T) {
	subject := &models.Customer{
		ID:    uuid.New(),
		Name:  "Jane Doe",
		Email: "jane@example.com",
		Phone: "555-0101",
	}
	suspicion := &models.DuplicateSuspicion{
		SubjectID:   subject.ID,
		CandidateID: uuid.New(),
		Score:       0.92,
		Reason:      "name similarity 0.84, email match",
	}

	msg := NewSuspicionEvent(suspicion, subject)

	require.Equal(t, TypeDuplicateSuspected, msg.EventType)
	require.Equal(t, subject.ID, msg.SubjectID)
	require.NotNil(t, msg.CandidateID)
	require.Equal(t, suspicion.CandidateID, *msg.CandidateID)
	require.NotNil(t, msg.Score)
	require.Equal(t, 0.92, *msg.Score)
	require.Equal(t, subject.Name, msg.Name)
}

func TestMarshalRoundTrip(t *testing.T) {
	subject := &models.Customer{
		ID:    uuid.New(),
		Name:  "Jane Doe",
		Email: "jane@example.com",
	}
	suspicion := &models.DuplicateSuspicion{
		SubjectID:   subject.ID,
		CandidateID: uuid.New(),
		Score:       0.87,
	}

	original := NewSuspicionEvent(suspicion, subject)

	data, err := original.Marshal()
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)

	require.Equal(t, original.EventID, decoded.EventID)
	require.Equal(t, original.EventType, decoded.EventType)
	require.Equal(t, original.SubjectID, decoded.SubjectID)
	require.Equal(t, *original.CandidateID, *decoded.CandidateID)
	require.Equal(t, *original.Score, *decoded.Score)
	require.True(t, original.OccurredAt.Equal(decoded.OccurredAt))
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte("not json"))
	require.Error(t, err)
}
