// Package pricing validates and classifies offers against a slot's base rates.
// Everything here is pure: no state, no I/O.
package pricing

import (
	"fmt"
	"time"

	"bidding-service/internal/models"
	"bidding-service/pkg/response"
)

type Offer struct {
	SessionKind models.SessionKind
	Price       int64
}

type Input struct {
	Slot   models.TimeSlot
	Offer  Offer
	Config models.InstructorSchedulingConfig
	// participants already holding a confirmed place on the slot
	AcceptedParticipants int
}

type ValidatedOffer struct {
	SessionKind    models.SessionKind
	Price          int64
	BasePrice      int64
	Floor          int64
	MeetsBasePrice bool
	Premium        int64
	Capacity       int
}

func Validate(in Input) (ValidatedOffer, error) {
	const op = "pricing.Validate"

	if in.Offer.SessionKind != in.Slot.SessionType.Kind() {
		return ValidatedOffer{}, fmt.Errorf("%s: offer %s on %s slot: %w",
			op, in.Offer.SessionKind, in.Slot.SessionType.Kind(), response.ErrSessionTypeMismatch)
	}

	base := BasePrice(in.Slot, in.Offer.SessionKind)
	floor := Floor(base, in.Config)

	if in.Offer.Price <= 0 || in.Offer.Price < floor {
		return ValidatedOffer{}, fmt.Errorf("%s: offer %d, floor %d: %w",
			op, in.Offer.Price, floor, response.ErrPriceBelowFloor)
	}

	capacity := Capacity(in.Slot, in.Config)
	if capacity > 0 && in.AcceptedParticipants+1 > capacity {
		return ValidatedOffer{}, fmt.Errorf("%s: %d of %d places taken: %w",
			op, in.AcceptedParticipants, capacity, response.ErrCapacityExceeded)
	}

	return ValidatedOffer{
		SessionKind:    in.Offer.SessionKind,
		Price:          in.Offer.Price,
		BasePrice:      base,
		Floor:          floor,
		MeetsBasePrice: in.Offer.Price >= base,
		Premium:        in.Offer.Price - base,
		Capacity:       capacity,
	}, nil
}

func BasePrice(slot models.TimeSlot, kind models.SessionKind) int64 {
	if kind == models.SessionGroup {
		return slot.BasePriceGroup
	}
	return slot.BasePriceIndividual
}

// Floor is the lowest acceptable offer for a base price under the instructor's
// negotiation settings.
func Floor(base int64, cfg models.InstructorSchedulingConfig) int64 {
	if !cfg.AllowUnderbid {
		return base
	}
	// round up so a 1 cent offer never slips under a non-zero percentage
	return (base*int64(cfg.UnderbidFloorPercent) + 99) / 100
}

// Capacity is the number of participants the slot can confirm; 0 means unbounded.
func Capacity(slot models.TimeSlot, cfg models.InstructorSchedulingConfig) int {
	if !slot.SessionType.IsGroup() {
		return 1
	}

	capacity := slot.SessionType.Capacity()
	for _, c := range []int{slot.MaxStudents, cfg.MaxGroupSize} {
		if c > 0 && (capacity == 0 || c < capacity) {
			capacity = c
		}
	}

	return capacity
}

// PriceForDuration converts an hourly rate into the price of a window.
func PriceForDuration(hourlyRate int64, d time.Duration) int64 {
	if hourlyRate <= 0 || d <= 0 {
		return 0
	}
	return hourlyRate * int64(d/time.Minute) / 60
}
