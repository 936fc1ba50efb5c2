package service

import (
	"fmt"

	"bidding-service/api"
	"bidding-service/internal/models"
	"bidding-service/pkg/response"
)

func fromConfigDTO(c api.InstructorConfig) models.InstructorSchedulingConfig {
	return models.InstructorSchedulingConfig{
		BufferTimeMinutes:    c.BufferTimeMinutes,
		MaxSessionsPerDay:    c.MaxSessionsPerDay,
		MaxGroupSize:         c.MaxGroupSize,
		AutoConfirmBookings:  c.AutoConfirmBookings,
		AllowUnderbid:        c.AllowUnderbid,
		UnderbidFloorPercent: c.UnderbidFloorPercent,
	}
}

func toConfigDTO(c models.InstructorSchedulingConfig) api.InstructorConfig {
	return api.InstructorConfig{
		BufferTimeMinutes:    c.BufferTimeMinutes,
		MaxSessionsPerDay:    c.MaxSessionsPerDay,
		MaxGroupSize:         c.MaxGroupSize,
		AutoConfirmBookings:  c.AutoConfirmBookings,
		AllowUnderbid:        c.AllowUnderbid,
		UnderbidFloorPercent: c.UnderbidFloorPercent,
	}
}

func fromSessionTypeDTO(st api.SessionType) (models.SessionType, error) {
	switch models.SessionKind(st.Kind) {
	case models.SessionIndividual, "":
		return models.Individual(), nil
	case models.SessionGroup:
		if st.Capacity < 0 {
			return models.SessionType{}, fmt.Errorf("negative group capacity: %w", response.ErrInvalidInput)
		}
		return models.Group(st.Capacity), nil
	default:
		return models.SessionType{}, fmt.Errorf("unknown session type %q: %w", st.Kind, response.ErrInvalidInput)
	}
}

func toSessionTypeDTO(st models.SessionType) api.SessionType {
	return api.SessionType{Kind: string(st.Kind()), Capacity: st.Capacity()}
}

func isSlotOwner(instructorID string, actor models.Actor) bool {
	return actor.Role == models.RoleSystem ||
		(actor.Role == models.RoleInstructor && actor.ID == instructorID)
}

func canSee(req models.BookingRequest, actor models.Actor) bool {
	if isSlotOwner(req.InstructorID, actor) {
		return true
	}
	return actor.Role == models.RoleStudent && actor.ID == req.StudentID
}

// toRequestDTO hides who made an offer and what they wrote from everybody but
// that student and the instructor. Prices stay public so students can bid.
func toRequestDTO(r models.BookingRequest, viewer models.Actor) api.BookingRequest {
	out := api.BookingRequest{
		ID:          r.ID,
		SlotID:      r.SlotID,
		Instructor:  r.InstructorID,
		SessionType: string(r.SessionKind),
		OfferPrice:  r.OfferPrice,
		Status:      string(r.Status),
		SubmittedAt: r.SubmittedAt,
		ExpiresAt:   r.ExpiresAt,
		DecidedAt:   r.DecidedAt,
	}
	if canSee(r, viewer) {
		out.StudentID = r.StudentID
		out.Message = r.Message
	}
	return out
}

func toSessionDTO(cs models.ConfirmedSession, instructorID string, viewer models.Actor) api.ConfirmedSession {
	out := api.ConfirmedSession{
		SlotID:      cs.SlotID,
		RequestID:   cs.RequestID,
		SessionType: toSessionTypeDTO(cs.SessionType),
		Price:       cs.Price,
		ConfirmedAt: cs.ConfirmedAt,
		ConfirmedBy: cs.ConfirmedBy,
	}
	if isSlotOwner(instructorID, viewer) || (viewer.Role == models.RoleStudent && viewer.ID == cs.StudentID) {
		out.StudentID = cs.StudentID
	}
	return out
}

func toSlotDTO(s models.TimeSlot, viewer models.Actor) api.Slot {
	out := api.Slot{
		ID:                  s.ID,
		InstructorID:        s.InstructorID,
		Date:                s.Date,
		StartTime:           s.StartTime,
		EndTime:             s.EndTime,
		SessionType:         toSessionTypeDTO(s.SessionType),
		BasePriceIndividual: s.BasePriceIndividual,
		BasePriceGroup:      s.BasePriceGroup,
		MaxStudents:         s.MaxStudents,
		Status:              string(s.Status),
		Requests:            make([]api.BookingRequest, 0, len(s.Requests)),
		Version:             s.Version,
	}

	for _, r := range s.Requests {
		out.Requests = append(out.Requests, toRequestDTO(r, viewer))
	}

	if s.ConfirmedSession != nil {
		cs := toSessionDTO(*s.ConfirmedSession, s.InstructorID, viewer)
		out.ConfirmedSession = &cs
	}

	return out
}

func toDayDTO(instructorID string, d models.DayAvailability, viewer models.Actor) api.DayAvailability {
	out := api.DayAvailability{
		InstructorID: instructorID,
		Date:         d.Date,
		Slots:        make([]api.Slot, 0, len(d.Slots)),
	}
	for _, s := range d.Slots {
		out.Slots = append(out.Slots, toSlotDTO(s, viewer))
	}
	return out
}
