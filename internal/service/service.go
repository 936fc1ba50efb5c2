package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"bidding-service/api"
	"bidding-service/internal/coordinator"
	"bidding-service/internal/events"
	"bidding-service/internal/expiry"
	"bidding-service/internal/ledger"
	"bidding-service/internal/lock"
	"bidding-service/internal/models"
	"bidding-service/internal/pricing"
	"bidding-service/internal/slotstore"
	"bidding-service/pkg/response"
)

type Settings struct {
	RequestTTL time.Duration
	Lock       lock.Options
	// Defaults seeds the scheduling config of an instructor seen for the first time.
	Defaults models.InstructorSchedulingConfig
	Clock    func() time.Time
}

type Service struct {
	log      *slog.Logger
	locker   lock.Locker
	bus      *events.Bus
	store    Store
	settings Settings

	mu           sync.RWMutex
	coordinators map[string]*coordinator.Coordinator
	// request id -> instructor id
	requests map[string]string
}

// New builds the engine facade. store may be nil, the engine then keeps its
// state in memory only.
func New(log *slog.Logger, locker lock.Locker, bus *events.Bus, store Store, settings Settings) (*Service, error) {
	const op = "service.New"

	if settings.Clock == nil {
		settings.Clock = time.Now
	}
	if settings.RequestTTL <= 0 {
		settings.RequestTTL = ledger.DefaultTTL
	}
	if settings.Lock.Retries == 0 {
		settings.Lock = lock.DefaultOptions()
	}

	s := &Service{
		log:          log,
		locker:       locker,
		bus:          bus,
		store:        store,
		settings:     settings,
		coordinators: make(map[string]*coordinator.Coordinator),
		requests:     make(map[string]string),
	}

	if store != nil {
		if err := bus.SubscribeAll(s.project); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	return s, nil
}

func (s *Service) newCoordinator(instructorID string, cfg models.InstructorSchedulingConfig) *coordinator.Coordinator {
	store := slotstore.New(instructorID, cfg, s.log)
	led := ledger.New(s.log.With(slog.String("instructor_id", instructorID)),
		ledger.WithTTL(s.settings.RequestTTL),
		ledger.WithClock(s.settings.Clock),
	)

	return coordinator.New(s.log, store, led, s.locker, s.bus,
		coordinator.WithClock(s.settings.Clock),
		coordinator.WithLockOptions(s.settings.Lock),
	)
}

func (s *Service) coordinator(instructorID string) (*coordinator.Coordinator, error) {
	s.mu.RLock()
	c, ok := s.coordinators[instructorID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("instructor %q: %w", instructorID, response.ErrInstructorNotFound)
	}
	return c, nil
}

// ownCoordinator returns the instructor's coordinator, creating it on the
// instructor's first own write.
func (s *Service) ownCoordinator(instructorID string, actor models.Actor) (*coordinator.Coordinator, bool, error) {
	if instructorID == "" {
		return nil, false, fmt.Errorf("empty instructor id: %w", response.ErrInvalidInput)
	}
	if actor.Role != models.RoleSystem && (actor.Role != models.RoleInstructor || actor.ID != instructorID) {
		return nil, false, response.ErrForbidden
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.coordinators[instructorID]; ok {
		return c, false, nil
	}

	c := s.newCoordinator(instructorID, s.settings.Defaults)
	s.coordinators[instructorID] = c

	return c, true, nil
}

func (s *Service) coordinatorForRequest(requestID string) (*coordinator.Coordinator, error) {
	s.mu.RLock()
	instructorID, ok := s.requests[requestID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("request %q: %w", requestID, response.ErrRequestNotFound)
	}
	return s.coordinator(instructorID)
}

func (s *Service) index(requestID, instructorID string) {
	s.mu.Lock()
	s.requests[requestID] = instructorID
	s.mu.Unlock()
}

// Targets lists every instructor calendar for the expiry sweep.
func (s *Service) Targets() []expiry.Target {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.coordinators))
	for id := range s.coordinators {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	targets := make([]expiry.Target, 0, len(ids))
	for _, id := range ids {
		targets = append(targets, sweepTarget{Coordinator: s.coordinators[id], svc: s})
	}
	return targets
}

// sweepTarget routes pruning through the service so the request index and
// the store drop what the coordinator forgot.
type sweepTarget struct {
	*coordinator.Coordinator
	svc *Service
}

func (t sweepTarget) Prune(ctx context.Context, now time.Time) int {
	return t.svc.prune(ctx, t.Coordinator, now)
}

func (s *Service) prune(ctx context.Context, c *coordinator.Coordinator, now time.Time) int {
	pruned := c.Prune(now)
	if len(pruned.Slots) == 0 {
		return 0
	}

	s.mu.Lock()
	for _, id := range pruned.Requests {
		delete(s.requests, id)
	}
	s.mu.Unlock()

	s.deleteSlots(ctx, c.InstructorID(), pruned.Slots)

	return len(pruned.Slots)
}

func (s *Service) ConfigureInstructor(ctx context.Context, instructorID string, req api.InstructorConfig, actor models.Actor) (api.InstructorConfig, error) {
	const op = "service.ConfigureInstructor"

	c, _, err := s.ownCoordinator(instructorID, actor)
	if err != nil {
		return api.InstructorConfig{}, fmt.Errorf("%s: %w", op, err)
	}

	cfg := fromConfigDTO(req)
	if err := c.UpdateConfig(cfg, actor); err != nil {
		return api.InstructorConfig{}, fmt.Errorf("%s: %w", op, err)
	}

	s.saveInstructor(ctx, instructorID, c.Config())

	return toConfigDTO(c.Config()), nil
}

func (s *Service) GetInstructorConfig(_ context.Context, instructorID string) (api.InstructorConfig, error) {
	const op = "service.GetInstructorConfig"

	c, err := s.coordinator(instructorID)
	if err != nil {
		return api.InstructorConfig{}, fmt.Errorf("%s: %w", op, err)
	}

	return toConfigDTO(c.Config()), nil
}

func (s *Service) PublishAvailability(ctx context.Context, instructorID string, req api.PublishAvailabilityRequest, actor models.Actor) (api.DayAvailability, error) {
	const op = "service.PublishAvailability"

	loc, err := location(req.Timezone)
	if err != nil {
		return api.DayAvailability{}, fmt.Errorf("%s: %w", op, err)
	}

	day, err := time.ParseInLocation(models.DateLayout, req.Date, loc)
	if err != nil {
		return api.DayAvailability{}, fmt.Errorf("%s: invalid date %q: %w", op, req.Date, response.ErrInvalidInput)
	}

	specs := make([]slotstore.SlotSpec, 0, len(req.Slots))
	for _, sp := range req.Slots {
		start, end, err := slotstore.Window(day, sp.StartTime, sp.EndTime)
		if err != nil {
			return api.DayAvailability{}, fmt.Errorf("%s: %w", op, err)
		}

		st, err := fromSessionTypeDTO(sp.SessionType)
		if err != nil {
			return api.DayAvailability{}, fmt.Errorf("%s: %w", op, err)
		}

		specs = append(specs, slotstore.SlotSpec{
			Start:               start,
			End:                 end,
			SessionType:         st,
			BasePriceIndividual: sp.BasePriceIndividual,
			BasePriceGroup:      sp.BasePriceGroup,
			MaxStudents:         sp.MaxStudents,
		})
	}

	c, created, err := s.ownCoordinator(instructorID, actor)
	if err != nil {
		return api.DayAvailability{}, fmt.Errorf("%s: %w", op, err)
	}
	if created {
		s.saveInstructor(ctx, instructorID, c.Config())
	}

	published, err := c.Publish(req.Date, specs, actor)
	if err != nil {
		return api.DayAvailability{}, fmt.Errorf("%s: %w", op, err)
	}

	s.saveDay(ctx, instructorID, published)

	return toDayDTO(instructorID, published, actor), nil
}

func (s *Service) GenerateAvailability(ctx context.Context, instructorID string, req api.GenerateAvailabilityRequest, actor models.Actor) (api.DayAvailability, error) {
	const op = "service.GenerateAvailability"

	loc, err := location(req.Timezone)
	if err != nil {
		return api.DayAvailability{}, fmt.Errorf("%s: %w", op, err)
	}

	st, err := fromSessionTypeDTO(req.SessionType)
	if err != nil {
		return api.DayAvailability{}, fmt.Errorf("%s: %w", op, err)
	}

	c, created, err := s.ownCoordinator(instructorID, actor)
	if err != nil {
		return api.DayAvailability{}, fmt.Errorf("%s: %w", op, err)
	}
	if created {
		s.saveInstructor(ctx, instructorID, c.Config())
	}

	generated, err := c.Generate(slotstore.GenerateParams{
		Date:                 req.Date,
		DayStart:             req.DayStart,
		DayEnd:               req.DayEnd,
		DurationMinutes:      req.DurationMinutes,
		SessionType:          st,
		HourlyRateIndividual: req.HourlyRateIndividual,
		HourlyRateGroup:      req.HourlyRateGroup,
		MaxStudents:          req.MaxStudents,
		Location:             loc,
	}, actor)
	if err != nil {
		return api.DayAvailability{}, fmt.Errorf("%s: %w", op, err)
	}

	s.saveDay(ctx, instructorID, generated)

	return toDayDTO(instructorID, generated, actor), nil
}

func (s *Service) GetDay(_ context.Context, instructorID, date string, actor models.Actor) (api.DayAvailability, error) {
	const op = "service.GetDay"

	if _, err := time.Parse(models.DateLayout, date); err != nil {
		return api.DayAvailability{}, fmt.Errorf("%s: invalid date %q: %w", op, date, response.ErrInvalidInput)
	}

	c, err := s.coordinator(instructorID)
	if err != nil {
		return api.DayAvailability{}, fmt.Errorf("%s: %w", op, err)
	}

	return toDayDTO(instructorID, c.Day(date), actor), nil
}

func (s *Service) GetSlot(_ context.Context, instructorID, slotID string, actor models.Actor) (api.Slot, error) {
	const op = "service.GetSlot"

	c, err := s.coordinator(instructorID)
	if err != nil {
		return api.Slot{}, fmt.Errorf("%s: %w", op, err)
	}

	slot, err := c.Slot(slotID)
	if err != nil {
		return api.Slot{}, fmt.Errorf("%s: %w", op, err)
	}

	return toSlotDTO(slot, actor), nil
}

func (s *Service) Ranking(_ context.Context, instructorID, slotID string, actor models.Actor) ([]api.BookingRequest, error) {
	const op = "service.Ranking"

	c, err := s.coordinator(instructorID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ranked, err := c.Ranking(slotID, actor)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := make([]api.BookingRequest, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, toRequestDTO(r, actor))
	}
	return out, nil
}

func (s *Service) SubmitOffer(ctx context.Context, instructorID, slotID string, req api.OfferRequest, actor models.Actor) (api.SubmitResult, error) {
	const op = "service.SubmitOffer"

	kind, err := models.ParseSessionKind(req.SessionType)
	if err != nil {
		return api.SubmitResult{}, fmt.Errorf("%s: %v: %w", op, err, response.ErrInvalidInput)
	}

	c, err := s.coordinator(instructorID)
	if err != nil {
		return api.SubmitResult{}, fmt.Errorf("%s: %w", op, err)
	}

	res, err := c.Submit(ctx, slotID, pricing.Offer{SessionKind: kind, Price: req.OfferPrice}, req.Message, actor)
	if err != nil {
		return api.SubmitResult{}, fmt.Errorf("%s: %w", op, err)
	}

	s.index(res.Request.ID, instructorID)

	out := api.SubmitResult{
		Request: toRequestDTO(res.Request, actor),
		Slot:    toSlotDTO(res.Slot, actor),
	}
	if res.Confirmed != nil {
		cs := toSessionDTO(*res.Confirmed, instructorID, actor)
		out.Confirmed = &cs
	}

	return out, nil
}

// GetRequest is visible to the student who made the offer and to the slot's
// instructor.
func (s *Service) GetRequest(_ context.Context, requestID string, actor models.Actor) (api.BookingRequest, error) {
	const op = "service.GetRequest"

	c, err := s.coordinatorForRequest(requestID)
	if err != nil {
		return api.BookingRequest{}, fmt.Errorf("%s: %w", op, err)
	}

	req, err := c.Request(requestID)
	if err != nil {
		return api.BookingRequest{}, fmt.Errorf("%s: %w", op, err)
	}

	if !canSee(req, actor) {
		return api.BookingRequest{}, fmt.Errorf("%s: %w", op, response.ErrForbidden)
	}

	return toRequestDTO(req, actor), nil
}

func (s *Service) AcceptRequest(ctx context.Context, requestID string, actor models.Actor) (api.AcceptResult, error) {
	const op = "service.AcceptRequest"

	c, req, err := s.lookup(requestID)
	if err != nil {
		return api.AcceptResult{}, fmt.Errorf("%s: %w", op, err)
	}

	session, err := c.Accept(ctx, req.SlotID, requestID, actor)
	if err != nil {
		return api.AcceptResult{}, fmt.Errorf("%s: %w", op, err)
	}

	slot, err := c.Slot(req.SlotID)
	if err != nil {
		return api.AcceptResult{}, fmt.Errorf("%s: %w", op, err)
	}

	return api.AcceptResult{
		Session: toSessionDTO(session, slot.InstructorID, actor),
		Slot:    toSlotDTO(slot, actor),
	}, nil
}

func (s *Service) RejectRequest(ctx context.Context, requestID, reason string, actor models.Actor) (api.BookingRequest, error) {
	const op = "service.RejectRequest"

	c, req, err := s.lookup(requestID)
	if err != nil {
		return api.BookingRequest{}, fmt.Errorf("%s: %w", op, err)
	}

	rejected, err := c.Reject(ctx, req.SlotID, requestID, reason, actor)
	if err != nil {
		return api.BookingRequest{}, fmt.Errorf("%s: %w", op, err)
	}

	return toRequestDTO(rejected, actor), nil
}

func (s *Service) WithdrawRequest(ctx context.Context, requestID string, actor models.Actor) (api.BookingRequest, error) {
	const op = "service.WithdrawRequest"

	c, err := s.coordinatorForRequest(requestID)
	if err != nil {
		return api.BookingRequest{}, fmt.Errorf("%s: %w", op, err)
	}

	withdrawn, err := c.Withdraw(ctx, requestID, actor)
	if err != nil {
		return api.BookingRequest{}, fmt.Errorf("%s: %w", op, err)
	}

	return toRequestDTO(withdrawn, actor), nil
}

func (s *Service) lookup(requestID string) (*coordinator.Coordinator, models.BookingRequest, error) {
	c, err := s.coordinatorForRequest(requestID)
	if err != nil {
		return nil, models.BookingRequest{}, err
	}

	req, err := c.Request(requestID)
	if err != nil {
		return nil, models.BookingRequest{}, err
	}

	return c, req, nil
}

// Reviews lists the auto-confirmations waiting for the instructor's decision.
func (s *Service) Reviews(_ context.Context, instructorID string, actor models.Actor) ([]api.Review, error) {
	const op = "service.Reviews"

	if actor.Role != models.RoleSystem && (actor.Role != models.RoleInstructor || actor.ID != instructorID) {
		return nil, fmt.Errorf("%s: %w", op, response.ErrForbidden)
	}

	c, err := s.coordinator(instructorID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	reviews := c.Reviews()
	out := make([]api.Review, 0, len(reviews))
	for _, r := range reviews {
		out = append(out, api.Review{
			SlotID:    r.SlotID,
			RequestID: r.RequestID,
			Reason:    r.Reason,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

func location(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", tz, response.ErrInvalidInput)
	}
	return loc, nil
}
