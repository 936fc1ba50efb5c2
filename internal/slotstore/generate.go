package slotstore

import (
	"fmt"
	"time"

	"bidding-service/internal/models"
	"bidding-service/internal/pricing"
	"bidding-service/pkg/response"
)

type GenerateParams struct {
	Date            string
	DayStart        string
	DayEnd          string
	DurationMinutes int
	SessionType     models.SessionType
	// hourly rates, converted to a per-slot base price by duration
	HourlyRateIndividual int64
	HourlyRateGroup      int64
	MaxStudents          int
	Location             *time.Location
}

// Generate splits [DayStart, DayEnd) into windows of DurationMinutes separated
// by the instructor's buffer time and publishes them as the day's availability.
func (s *Store) Generate(p GenerateParams) (models.DayAvailability, error) {
	const op = "slotstore.Generate"

	specs, err := s.generateSpecs(p)
	if err != nil {
		return models.DayAvailability{}, fmt.Errorf("%s: %w", op, err)
	}

	return s.Publish(p.Date, specs)
}

func (s *Store) generateSpecs(p GenerateParams) ([]SlotSpec, error) {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}

	day, err := time.ParseInLocation(models.DateLayout, p.Date, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", p.Date, response.ErrInvalidInput)
	}

	dayStart, dayEnd, err := Window(day, p.DayStart, p.DayEnd)
	if err != nil {
		return nil, err
	}

	if !dayEnd.After(dayStart) {
		return nil, fmt.Errorf("day end %s is not after start %s: %w", p.DayEnd, p.DayStart, response.ErrInvalidInput)
	}

	slotDur := time.Duration(p.DurationMinutes) * time.Minute
	if slotDur <= 0 {
		return nil, fmt.Errorf("invalid slot duration %d: %w", p.DurationMinutes, response.ErrInvalidInput)
	}

	buffer := s.Config().Buffer()

	var specs []SlotSpec
	for cur := dayStart; !cur.Add(slotDur).After(dayEnd); cur = cur.Add(slotDur + buffer) {
		specs = append(specs, SlotSpec{
			Start:               cur,
			End:                 cur.Add(slotDur),
			SessionType:         p.SessionType,
			BasePriceIndividual: pricing.PriceForDuration(p.HourlyRateIndividual, slotDur),
			BasePriceGroup:      pricing.PriceForDuration(p.HourlyRateGroup, slotDur),
			MaxStudents:         p.MaxStudents,
		})
	}

	return specs, nil
}

// Window resolves wall-clock bounds such as "09:00" and "10:30" on day. An end
// of "24:00" or "00:00" means the following midnight.
func Window(day time.Time, start, end string) (time.Time, time.Time, error) {
	from, err := clockOn(day, start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	var to time.Time
	if end == "24:00" || end == "00:00" {
		to = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, day.Location())
	} else if to, err = clockOn(day, end); err != nil {
		return time.Time{}, time.Time{}, err
	}

	return from, to, nil
}

func clockOn(day time.Time, clock string) (time.Time, error) {
	t, err := time.Parse(models.ClockLayout, clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", clock, response.ErrInvalidInput)
	}

	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}
