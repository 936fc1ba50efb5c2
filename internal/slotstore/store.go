// Package slotstore owns an instructor's calendar: the day-by-day ordered
// sequence of time slots and the status of every slot. It is the only writer of
// slot status; callers move a slot through its lifecycle with Transition.
//
// Slots are kept as immutable snapshots. A transition builds a new snapshot,
// bumps its version and swaps it in, so readers never observe a half-applied
// change.
package slotstore

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"bidding-service/internal/models"
	"bidding-service/pkg/response"
)

type EventType string

const (
	RequestReceived  EventType = "RequestReceived"
	RequestWithdrawn EventType = "RequestWithdrawn"
	Confirmed        EventType = "Confirmed"
	Expired          EventType = "Expired"
	// Elapsed closes a slot whose start time passed without a confirmation.
	Elapsed EventType = "Elapsed"
)

type Event struct {
	Type EventType
	// Requests is the ledger's projection of active requests after the change.
	Requests []models.BookingRequest
	// Session must be set for Confirmed.
	Session *models.ConfirmedSession
	// ExpectedVersion guards against stale views; zero disables the check.
	ExpectedVersion int64
}

type SlotSpec struct {
	Start               time.Time
	End                 time.Time
	SessionType         models.SessionType
	BasePriceIndividual int64
	BasePriceGroup      int64
	MaxStudents         int
}

type Store struct {
	instructorID string
	log          *slog.Logger

	mu    sync.RWMutex
	cfg   models.InstructorSchedulingConfig
	slots map[string]*models.TimeSlot
	days  map[string][]string
	// last version of slots dropped by a republish, per date, so a slot
	// published again under the same id never reuses an old version
	retired map[string]map[string]int64
}

func New(instructorID string, cfg models.InstructorSchedulingConfig, log *slog.Logger) *Store {
	return &Store{
		instructorID: instructorID,
		log:          log.With(slog.String("instructor_id", instructorID)),
		cfg:          cfg,
		slots:        make(map[string]*models.TimeSlot),
		days:         make(map[string][]string),
		retired:      make(map[string]map[string]int64),
	}
}

func (s *Store) InstructorID() string {
	return s.instructorID
}

func (s *Store) Config() models.InstructorSchedulingConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cfg
}

func (s *Store) SetConfig(cfg models.InstructorSchedulingConfig) error {
	const op = "slotstore.SetConfig"

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%s: %s: %w", op, err.Error(), response.ErrInvalidInput)
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	return nil
}

func (s *Store) GetSlot(id string) (models.TimeSlot, error) {
	const op = "slotstore.GetSlot"

	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.slots[id]
	if !ok {
		return models.TimeSlot{}, fmt.Errorf("%s: %s: %w", op, id, response.ErrSlotNotFound)
	}

	return slot.Clone(), nil
}

func (s *Store) Day(date string) models.DayAvailability {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.dayLocked(date)
}

func (s *Store) dayLocked(date string) models.DayAvailability {
	ids := s.days[date]
	day := models.DayAvailability{Date: date, Slots: make([]models.TimeSlot, 0, len(ids))}
	for _, id := range ids {
		day.Slots = append(day.Slots, s.slots[id].Clone())
	}
	return day
}

func (s *Store) Dates() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dates := make([]string, 0, len(s.days))
	for d := range s.days {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	return dates
}

// Publish replaces the published availability of one day. Re-publishing is
// idempotent: slot ids derive from their window, slots already in negotiation or
// confirmed keep their state, and only available slots are refreshed or removed.
func (s *Store) Publish(date string, specs []SlotSpec) (models.DayAvailability, error) {
	const op = "slotstore.Publish"

	day, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return models.DayAvailability{}, fmt.Errorf("%s: invalid date %q: %w", op, date, response.ErrInvalidInput)
	}

	incoming := make(map[string]SlotSpec, len(specs))
	for _, spec := range specs {
		if err := validateSpec(day, spec); err != nil {
			return models.DayAvailability{}, fmt.Errorf("%s: %s: %w", op, err.Error(), response.ErrInvalidInput)
		}
		incoming[models.SlotID(spec.Start, spec.End)] = spec
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*models.TimeSlot, len(incoming))

	for _, id := range s.days[date] {
		cur := s.slots[id]
		spec, republished := incoming[id]

		switch {
		case cur.Status != models.SlotAvailable:
			next[id] = cur
		case republished:
			refreshed := cur.Clone()
			applySpec(&refreshed, spec)
			if refreshed.SessionType != cur.SessionType ||
				refreshed.BasePriceIndividual != cur.BasePriceIndividual ||
				refreshed.BasePriceGroup != cur.BasePriceGroup ||
				refreshed.MaxStudents != cur.MaxStudents {
				refreshed.Version++
			}
			next[id] = &refreshed
		}
	}

	for id, spec := range incoming {
		if _, ok := next[id]; ok {
			continue
		}

		slot := models.TimeSlot{
			ID:           id,
			InstructorID: s.instructorID,
			Date:         date,
			Status:       models.SlotAvailable,
			Version:      s.retired[date][id] + 1,
		}
		applySpec(&slot, spec)
		next[id] = &slot
	}

	ordered := make([]*models.TimeSlot, 0, len(next))
	for _, slot := range next {
		ordered = append(ordered, slot)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].StartTime.Before(ordered[j].StartTime)
	})

	for i := 1; i < len(ordered); i++ {
		if ordered[i].StartTime.Before(ordered[i-1].EndTime) {
			return models.DayAvailability{}, fmt.Errorf("%s: %s and %s: %w",
				op, ordered[i-1].ID, ordered[i].ID, response.ErrSlotOverlap)
		}
	}

	for _, id := range s.days[date] {
		if _, kept := next[id]; !kept {
			if s.retired[date] == nil {
				s.retired[date] = make(map[string]int64)
			}
			s.retired[date][id] = s.slots[id].Version
		}
		delete(s.slots, id)
	}
	for id := range next {
		delete(s.retired[date], id)
	}
	if len(s.retired[date]) == 0 {
		delete(s.retired, date)
	}

	ids := make([]string, 0, len(ordered))
	for _, slot := range ordered {
		s.slots[slot.ID] = slot
		ids = append(ids, slot.ID)
	}

	if len(ids) == 0 {
		delete(s.days, date)
	} else {
		s.days[date] = ids
	}

	s.log.Info("availability published", slog.String("date", date), slog.Int("slots", len(ids)))

	return s.dayLocked(date), nil
}

func validateSpec(day time.Time, spec SlotSpec) error {
	if !spec.End.After(spec.Start) {
		return fmt.Errorf("slot %s must end after it starts", spec.Start.Format(models.ClockLayout))
	}
	if spec.Start.Format(models.DateLayout) != day.Format(models.DateLayout) ||
		spec.End.Add(-time.Nanosecond).Format(models.DateLayout) != day.Format(models.DateLayout) {
		return fmt.Errorf("slot %s-%s is outside %s",
			spec.Start.Format(models.ClockLayout), spec.End.Format(models.ClockLayout), day.Format(models.DateLayout))
	}
	if spec.BasePriceIndividual < 0 || spec.BasePriceGroup < 0 || spec.MaxStudents < 0 {
		return fmt.Errorf("prices and max students must not be negative")
	}
	return nil
}

func applySpec(slot *models.TimeSlot, spec SlotSpec) {
	slot.StartTime = spec.Start
	slot.EndTime = spec.End
	slot.SessionType = spec.SessionType
	slot.BasePriceIndividual = spec.BasePriceIndividual
	slot.BasePriceGroup = spec.BasePriceGroup
	slot.MaxStudents = spec.MaxStudents
	if !spec.SessionType.IsGroup() {
		slot.MaxStudents = 1
	}
}

// Transition applies a lifecycle event to a slot and returns the committed
// snapshot. Illegal transitions fail with ErrInvalidSlotTransition and leave the
// slot untouched.
func (s *Store) Transition(id string, ev Event) (models.TimeSlot, error) {
	const op = "slotstore.Transition"

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.slots[id]
	if !ok {
		return models.TimeSlot{}, fmt.Errorf("%s: %s: %w", op, id, response.ErrSlotNotFound)
	}

	if ev.ExpectedVersion != 0 && ev.ExpectedVersion != cur.Version {
		return models.TimeSlot{}, fmt.Errorf("%s: %s at version %d, caller saw %d: %w",
			op, id, cur.Version, ev.ExpectedVersion, response.ErrConcurrentModification)
	}

	illegal := func() (models.TimeSlot, error) {
		return models.TimeSlot{}, fmt.Errorf("%s: %s on %s slot %s: %w",
			op, ev.Type, cur.Status, id, response.ErrInvalidSlotTransition)
	}

	next := cur.Clone()

	switch ev.Type {
	case RequestReceived:
		if (cur.Status != models.SlotAvailable && !cur.Status.Negotiable()) || len(ev.Requests) == 0 {
			return illegal()
		}
		next.Status = negotiationStatus(ev.Requests)
		next.Requests = copyRequests(ev.Requests)

	case RequestWithdrawn, Expired:
		if !cur.Status.Negotiable() {
			return illegal()
		}
		if len(ev.Requests) == 0 {
			next.Status = models.SlotAvailable
			next.Requests = nil
		} else {
			next.Status = negotiationStatus(ev.Requests)
			next.Requests = copyRequests(ev.Requests)
		}

	case Confirmed:
		if !cur.Status.Negotiable() || ev.Session == nil {
			return illegal()
		}
		if err := s.checkConfirmLocked(cur); err != nil {
			return models.TimeSlot{}, fmt.Errorf("%s: %w", op, err)
		}
		session := *ev.Session
		next.Status = models.SlotConfirmed
		next.ConfirmedSession = &session
		next.Requests = nil

	case Elapsed:
		if cur.Status != models.SlotAvailable && !cur.Status.Negotiable() {
			return illegal()
		}
		next.Status = models.SlotExpired
		next.Requests = nil

	default:
		return illegal()
	}

	next.Version++
	s.slots[id] = &next

	s.log.Debug("slot transitioned",
		slog.String("slot_id", id),
		slog.String("event", string(ev.Type)),
		slog.String("from", string(cur.Status)),
		slog.String("to", string(next.Status)),
		slog.Int64("version", next.Version),
	)

	return next.Clone(), nil
}

// CheckConfirm reports whether confirming the slot now would respect the
// instructor's daily cap and buffer time.
func (s *Store) CheckConfirm(id string) error {
	const op = "slotstore.CheckConfirm"

	s.mu.RLock()
	defer s.mu.RUnlock()

	cur, ok := s.slots[id]
	if !ok {
		return fmt.Errorf("%s: %s: %w", op, id, response.ErrSlotNotFound)
	}

	if err := s.checkConfirmLocked(cur); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Store) checkConfirmLocked(slot *models.TimeSlot) error {
	confirmed := make([]*models.TimeSlot, 0)
	for _, id := range s.days[slot.Date] {
		other := s.slots[id]
		if other.ID != slot.ID && other.Status == models.SlotConfirmed {
			confirmed = append(confirmed, other)
		}
	}

	if s.cfg.MaxSessionsPerDay > 0 && len(confirmed) >= s.cfg.MaxSessionsPerDay {
		return fmt.Errorf("%d sessions already confirmed on %s: %w",
			len(confirmed), slot.Date, response.ErrDailyCapExceeded)
	}

	buffer := s.cfg.Buffer()
	if buffer <= 0 {
		return nil
	}

	for _, other := range confirmed {
		if gap(slot, other) < buffer {
			return fmt.Errorf("%s is within %s of confirmed %s: %w",
				slot.ID, buffer, other.ID, response.ErrBufferViolation)
		}
	}

	return nil
}

// gap is the free time between two non-overlapping slots.
func gap(a, b *models.TimeSlot) time.Duration {
	if a.StartTime.Before(b.StartTime) {
		return b.StartTime.Sub(a.EndTime)
	}
	return a.StartTime.Sub(b.EndTime)
}

func negotiationStatus(requests []models.BookingRequest) models.SlotStatus {
	bidders := make(map[string]struct{}, len(requests))
	for _, r := range requests {
		bidders[r.StudentID] = struct{}{}
	}
	if len(bidders) >= 2 {
		return models.SlotCompetitiveBidding
	}
	return models.SlotPendingRequests
}

func copyRequests(in []models.BookingRequest) []models.BookingRequest {
	out := make([]models.BookingRequest, len(in))
	copy(out, in)
	return out
}

// StartedBy lists open slots (available or in negotiation) whose start time is
// not after now.
func (s *Store) StartedBy(now time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, slot := range s.slots {
		if slot.Status != models.SlotAvailable && !slot.Status.Negotiable() {
			continue
		}
		if !slot.StartTime.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	return ids
}

// PruneElapsed drops days that fully elapsed and returns the removed slot ids.
// A day that still has a slot in negotiation is kept until the negotiation is
// resolved.
func (s *Store) PruneElapsed(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for date, ids := range s.days {
		if len(ids) == 0 {
			delete(s.days, date)
			continue
		}

		first := s.slots[ids[0]]
		loc := first.StartTime.Location()
		y, m, d := first.StartTime.Date()
		if now.Before(time.Date(y, m, d+1, 0, 0, 0, 0, loc)) {
			continue
		}

		negotiating := false
		for _, id := range ids {
			if s.slots[id].Status.Negotiable() {
				negotiating = true
				break
			}
		}
		if negotiating {
			continue
		}

		for _, id := range ids {
			delete(s.slots, id)
		}
		delete(s.days, date)
		delete(s.retired, date)
		removed = append(removed, ids...)
	}

	if len(removed) > 0 {
		sort.Strings(removed)
		s.log.Info("elapsed days pruned", slog.Int("slots", len(removed)))
	}

	return removed
}

// Restore loads persisted snapshots, replacing any slot with the same id.
func (s *Store) Restore(slots []models.TimeSlot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, slot := range slots {
		c := slot.Clone()
		if _, exists := s.slots[c.ID]; !exists {
			s.days[c.Date] = append(s.days[c.Date], c.ID)
		}
		s.slots[c.ID] = &c
	}

	for date, ids := range s.days {
		sort.Slice(ids, func(i, j int) bool {
			return s.slots[ids[i]].StartTime.Before(s.slots[ids[j]].StartTime)
		})
		s.days[date] = ids
	}
}
