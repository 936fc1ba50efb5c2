// Package events carries domain events from the booking engine to whoever
// listens: notification delivery, persistence, external brokers.
package events

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	RequestSubmitted    Type = "RequestSubmitted"
	RequestRejected     Type = "RequestRejected"
	RequestWithdrawn    Type = "RequestWithdrawn"
	RequestExpired      Type = "RequestExpired"
	BookingConfirmed    Type = "BookingConfirmed"
	SlotExpired         Type = "SlotExpired"
	AutoConfirmDeferred Type = "AutoConfirmDeferred"
)

type Event struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	InstructorID string    `json:"instructor_id"`
	SlotID       string    `json:"slot_id"`
	RequestID    string    `json:"request_id,omitempty"`
	StudentID    string    `json:"student_id,omitempty"`
	Price        int64     `json:"price,omitempty"`
	SessionType  string    `json:"session_type,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func New(t Type, instructorID, slotID string, at time.Time) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         t,
		InstructorID: instructorID,
		SlotID:       slotID,
		OccurredAt:   at,
	}
}
