package api

import "time"

type SessionType struct {
	Kind     string `json:"kind"`
	Capacity int    `json:"capacity,omitempty"`
}

type InstructorConfig struct {
	BufferTimeMinutes    int  `json:"buffer_time_minutes"`
	MaxSessionsPerDay    int  `json:"max_sessions_per_day"`
	MaxGroupSize         int  `json:"max_group_size"`
	AutoConfirmBookings  bool `json:"auto_confirm_bookings"`
	AllowUnderbid        bool `json:"allow_underbid"`
	UnderbidFloorPercent int  `json:"underbid_floor_percent"`
}

type SlotSpec struct {
	StartTime           string      `json:"start_time"`
	EndTime             string      `json:"end_time"`
	SessionType         SessionType `json:"session_type"`
	BasePriceIndividual int64       `json:"base_price_individual"`
	BasePriceGroup      int64       `json:"base_price_group"`
	MaxStudents         int         `json:"max_students"`
}

type PublishAvailabilityRequest struct {
	Date     string     `json:"date"`
	Timezone string     `json:"timezone,omitempty"`
	Slots    []SlotSpec `json:"slots"`
}

type GenerateAvailabilityRequest struct {
	Date                 string      `json:"date"`
	Timezone             string      `json:"timezone,omitempty"`
	DayStart             string      `json:"day_start"`
	DayEnd               string      `json:"day_end"`
	DurationMinutes      int         `json:"duration_minutes"`
	SessionType          SessionType `json:"session_type"`
	HourlyRateIndividual int64       `json:"hourly_rate_individual"`
	HourlyRateGroup      int64       `json:"hourly_rate_group"`
	MaxStudents          int         `json:"max_students"`
}

type BookingRequest struct {
	ID          string     `json:"id"`
	SlotID      string     `json:"slot_id"`
	Instructor  string     `json:"instructor_id"`
	StudentID   string     `json:"student_id,omitempty"`
	SessionType string     `json:"session_type"`
	OfferPrice  int64      `json:"offer_price"`
	Message     string     `json:"message,omitempty"`
	Status      string     `json:"status"`
	SubmittedAt time.Time  `json:"submitted_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
}

type ConfirmedSession struct {
	SlotID      string      `json:"slot_id"`
	RequestID   string      `json:"request_id"`
	SessionType SessionType `json:"session_type"`
	Price       int64       `json:"price"`
	StudentID   string      `json:"student_id,omitempty"`
	ConfirmedAt time.Time   `json:"confirmed_at"`
	ConfirmedBy string      `json:"confirmed_by"`
}

type Slot struct {
	ID                  string            `json:"id"`
	InstructorID        string            `json:"instructor_id"`
	Date                string            `json:"date"`
	StartTime           time.Time         `json:"start_time"`
	EndTime             time.Time         `json:"end_time"`
	SessionType         SessionType       `json:"session_type"`
	BasePriceIndividual int64             `json:"base_price_individual"`
	BasePriceGroup      int64             `json:"base_price_group"`
	MaxStudents         int               `json:"max_students"`
	Status              string            `json:"status"`
	Requests            []BookingRequest  `json:"requests"`
	ConfirmedSession    *ConfirmedSession `json:"confirmed_session,omitempty"`
	Version             int64             `json:"version"`
}

type DayAvailability struct {
	InstructorID string `json:"instructor_id"`
	Date         string `json:"date"`
	Slots        []Slot `json:"slots"`
}

type OfferRequest struct {
	SessionType string `json:"session_type"`
	OfferPrice  int64  `json:"offer_price"`
	Message     string `json:"message"`
}

type SubmitResult struct {
	Request   BookingRequest    `json:"request"`
	Slot      Slot              `json:"slot"`
	Confirmed *ConfirmedSession `json:"confirmed_session,omitempty"`
}

type DecisionRequest struct {
	Reason string `json:"reason"`
}

type AcceptResult struct {
	Session ConfirmedSession `json:"confirmed_session"`
	Slot    Slot             `json:"slot"`
}

type Review struct {
	SlotID    string    `json:"slot_id"`
	RequestID string    `json:"request_id"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
