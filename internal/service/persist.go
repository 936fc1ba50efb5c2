package service

import (
	"context"
	"fmt"
	"log/slog"

	"bidding-service/internal/events"
	"bidding-service/internal/models"
	"bidding-service/pkg/response"
	"bidding-service/pkg/sl"
)

// Store persists the engine state. The in-memory coordinators stay
// authoritative; writes go out behind them and Restore reads them back on boot.
type Store interface {
	SaveInstructor(ctx context.Context, instructorID string, cfg models.InstructorSchedulingConfig) error
	SaveDay(ctx context.Context, instructorID string, day models.DayAvailability) error
	// SaveSlotWithEvent writes the slot snapshot, its requests and the event
	// into the outbox in one transaction.
	SaveSlotWithEvent(ctx context.Context, slot models.TimeSlot, requests []models.BookingRequest, ev events.Event) error
	// DeleteSlots removes pruned slots and their requests.
	DeleteSlots(ctx context.Context, instructorID string, slotIDs []string) error

	LoadInstructors(ctx context.Context) (map[string]models.InstructorSchedulingConfig, error)
	LoadSlots(ctx context.Context, instructorID string) ([]models.TimeSlot, error)
	LoadRequests(ctx context.Context, instructorID string) ([]models.BookingRequest, error)
}

// project is subscribed to every engine event and mirrors the touched slot
// into the store.
func (s *Service) project(ctx context.Context, ev events.Event) error {
	const op = "service.project"

	c, err := s.coordinator(ev.InstructorID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	slot, err := c.Slot(ev.SlotID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.store.SaveSlotWithEvent(ctx, slot, c.SlotRequests(ev.SlotID), ev); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Service) saveInstructor(ctx context.Context, instructorID string, cfg models.InstructorSchedulingConfig) {
	if s.store == nil {
		return
	}

	if err := s.store.SaveInstructor(ctx, instructorID, cfg); err != nil {
		s.log.Error("failed to persist instructor config",
			slog.String("instructor_id", instructorID), sl.Err(err))
	}
}

func (s *Service) saveDay(ctx context.Context, instructorID string, day models.DayAvailability) {
	if s.store == nil {
		return
	}

	if err := s.store.SaveDay(ctx, instructorID, day); err != nil {
		s.log.Error("failed to persist availability",
			slog.String("instructor_id", instructorID),
			slog.String("date", day.Date),
			sl.Err(err),
		)
	}
}

func (s *Service) deleteSlots(ctx context.Context, instructorID string, slotIDs []string) {
	if s.store == nil {
		return
	}

	if err := s.store.DeleteSlots(ctx, instructorID, slotIDs); err != nil {
		s.log.Error("failed to delete pruned slots",
			slog.String("instructor_id", instructorID),
			slog.Int("slots", len(slotIDs)),
			sl.Err(err),
		)
	}
}

// Restore rebuilds every instructor calendar from the store. It must run
// before the service takes traffic.
func (s *Service) Restore(ctx context.Context) error {
	const op = "service.Restore"

	if s.store == nil {
		return nil
	}

	configs, err := s.store.LoadInstructors(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var slots, requests int
	for instructorID, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			s.log.Warn("stored config is invalid, using defaults",
				slog.String("instructor_id", instructorID), sl.Err(err))
			cfg = s.settings.Defaults
		}

		storedSlots, err := s.store.LoadSlots(ctx, instructorID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		storedRequests, err := s.store.LoadRequests(ctx, instructorID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		c := s.newCoordinator(instructorID, cfg)
		c.Restore(storedSlots, storedRequests)

		s.mu.Lock()
		if _, exists := s.coordinators[instructorID]; exists {
			s.mu.Unlock()
			return fmt.Errorf("%s: instructor %q already loaded: %w", op, instructorID, response.ErrConflict)
		}
		s.coordinators[instructorID] = c
		for _, r := range storedRequests {
			s.requests[r.ID] = instructorID
		}
		s.mu.Unlock()

		slots += len(storedSlots)
		requests += len(storedRequests)
	}

	s.log.Info("engine state restored",
		slog.Int("instructors", len(configs)),
		slog.Int("slots", slots),
		slog.Int("requests", requests),
	)

	return nil
}
