package models

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

type SlotStatus string

const (
	SlotAvailable          SlotStatus = "available"
	SlotPendingRequests    SlotStatus = "pending_requests"
	SlotCompetitiveBidding SlotStatus = "competitive_bidding"
	SlotConfirmed          SlotStatus = "confirmed"
	SlotExpired            SlotStatus = "expired"
)

// Negotiable reports whether offers can still be decided on the slot.
func (s SlotStatus) Negotiable() bool {
	return s == SlotPendingRequests || s == SlotCompetitiveBidding
}

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAccepted  RequestStatus = "accepted"
	RequestRejected  RequestStatus = "rejected"
	RequestExpired   RequestStatus = "expired"
	RequestWithdrawn RequestStatus = "withdrawn"
)

type SessionKind string

const (
	SessionIndividual SessionKind = "individual"
	SessionGroup      SessionKind = "group"
)

func ParseSessionKind(s string) (SessionKind, error) {
	switch SessionKind(s) {
	case SessionIndividual, SessionGroup:
		return SessionKind(s), nil
	default:
		return "", fmt.Errorf("unknown session type %q", s)
	}
}

// SessionType is either Individual or Group{capacity}. The zero value is an
// individual session.
type SessionType struct {
	kind     SessionKind
	capacity int
}

func Individual() SessionType {
	return SessionType{kind: SessionIndividual, capacity: 1}
}

// Group returns a group session type; capacity <= 0 means the capacity is
// bounded only by the instructor's max group size.
func Group(capacity int) SessionType {
	if capacity < 0 {
		capacity = 0
	}
	return SessionType{kind: SessionGroup, capacity: capacity}
}

func (t SessionType) Kind() SessionKind {
	if t.kind == "" {
		return SessionIndividual
	}
	return t.kind
}

func (t SessionType) IsGroup() bool {
	return t.kind == SessionGroup
}

// Capacity is the participant capacity of the session, 0 for an unbounded group.
func (t SessionType) Capacity() int {
	if !t.IsGroup() {
		return 1
	}
	return t.capacity
}

func (t SessionType) String() string {
	if t.IsGroup() {
		return fmt.Sprintf("group(%d)", t.capacity)
	}
	return string(SessionIndividual)
}

type sessionTypeJSON struct {
	Kind     SessionKind `json:"kind"`
	Capacity int         `json:"capacity"`
}

func (t SessionType) MarshalJSON() ([]byte, error) {
	return json.Marshal(sessionTypeJSON{Kind: t.Kind(), Capacity: t.Capacity()})
}

func (t *SessionType) UnmarshalJSON(b []byte) error {
	var raw sessionTypeJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	switch raw.Kind {
	case SessionGroup:
		*t = Group(raw.Capacity)
	case SessionIndividual, "":
		*t = Individual()
	default:
		return fmt.Errorf("unknown session type %q", raw.Kind)
	}

	return nil
}

type TimeSlot struct {
	ID                  string            `json:"id"`
	InstructorID        string            `json:"instructor_id"`
	Date                string            `json:"date"`
	StartTime           time.Time         `json:"start_time"`
	EndTime             time.Time         `json:"end_time"`
	SessionType         SessionType       `json:"session_type"`
	BasePriceIndividual int64             `json:"base_price_individual"`
	BasePriceGroup      int64             `json:"base_price_group"`
	MaxStudents         int               `json:"max_students"`
	Status              SlotStatus        `json:"status"`
	Requests            []BookingRequest  `json:"requests"`
	ConfirmedSession    *ConfirmedSession `json:"confirmed_session,omitempty"`
	Version             int64             `json:"version"`
}

func (s TimeSlot) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// Clone returns a deep copy; snapshots handed out never share slices with the store.
func (s TimeSlot) Clone() TimeSlot {
	c := s
	if s.Requests != nil {
		c.Requests = make([]BookingRequest, len(s.Requests))
		copy(c.Requests, s.Requests)
	}
	if s.ConfirmedSession != nil {
		cs := *s.ConfirmedSession
		c.ConfirmedSession = &cs
	}
	return c
}

// SlotID derives the calendar-unique slot id from its day and wall-clock window,
// e.g. 20261020-0900-1000.
func SlotID(start, end time.Time) string {
	return fmt.Sprintf("%s-%s-%s", start.Format("20060102"), start.Format("1504"), end.Format("1504"))
}

type DayAvailability struct {
	Date  string     `json:"date"`
	Slots []TimeSlot `json:"slots"`
}

type BookingRequest struct {
	ID           string        `json:"id"`
	SlotID       string        `json:"slot_id"`
	InstructorID string        `json:"instructor_id"`
	StudentID    string        `json:"student_id"`
	SessionKind  SessionKind   `json:"session_type"`
	OfferPrice   int64         `json:"offer_price"`
	Message      string        `json:"message"`
	Status       RequestStatus `json:"status"`
	SubmittedAt  time.Time     `json:"submitted_at"`
	ExpiresAt    time.Time     `json:"expires_at"`
	DecidedAt    *time.Time    `json:"decided_at,omitempty"`
}

type ConfirmedSession struct {
	SlotID      string      `json:"slot_id"`
	RequestID   string      `json:"request_id"`
	SessionType SessionType `json:"session_type"`
	Price       int64       `json:"price"`
	StudentID   string      `json:"student_id"`
	ConfirmedAt time.Time   `json:"confirmed_at"`
	ConfirmedBy string      `json:"confirmed_by"`
}

type InstructorSchedulingConfig struct {
	BufferTimeMinutes   int  `json:"buffer_time_minutes"`
	MaxSessionsPerDay   int  `json:"max_sessions_per_day"`
	MaxGroupSize        int  `json:"max_group_size"`
	AutoConfirmBookings bool `json:"auto_confirm_bookings"`
	// Under-bidding is off unless explicitly allowed; the floor is then
	// UnderbidFloorPercent of the base price (0 means any positive offer).
	AllowUnderbid        bool `json:"allow_underbid"`
	UnderbidFloorPercent int  `json:"underbid_floor_percent"`
}

func (c InstructorSchedulingConfig) Buffer() time.Duration {
	return time.Duration(c.BufferTimeMinutes) * time.Minute
}

func (c InstructorSchedulingConfig) Validate() error {
	switch {
	case c.BufferTimeMinutes < 0:
		return fmt.Errorf("buffer_time_minutes must not be negative")
	case c.MaxSessionsPerDay < 0:
		return fmt.Errorf("max_sessions_per_day must not be negative")
	case c.MaxGroupSize < 0:
		return fmt.Errorf("max_group_size must not be negative")
	case c.UnderbidFloorPercent < 0 || c.UnderbidFloorPercent > 100:
		return fmt.Errorf("underbid_floor_percent must be within 0..100")
	}
	return nil
}

type ActorRole string

const (
	RoleInstructor ActorRole = "instructor"
	RoleStudent    ActorRole = "student"
	RoleSystem     ActorRole = "system"
)

// Actor is the already-authenticated identity a command is executed for.
type Actor struct {
	ID   string    `json:"id"`
	Role ActorRole `json:"role"`
}

func SystemActor() Actor {
	return Actor{ID: "auto-confirm", Role: RoleSystem}
}
