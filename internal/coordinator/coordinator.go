// Package coordinator runs every booking command against one instructor's
// calendar. It validates offers, serializes mutations per slot (and per day for
// confirmations), keeps the ledger and the slot store in step and publishes the
// resulting events.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"bidding-service/internal/events"
	"bidding-service/internal/ledger"
	"bidding-service/internal/lock"
	"bidding-service/internal/models"
	"bidding-service/internal/pricing"
	"bidding-service/internal/slotstore"
	"bidding-service/pkg/response"
	"bidding-service/pkg/sl"
)

// Review is an auto-confirmation that could not be completed and waits for the
// instructor.
type Review struct {
	SlotID    string    `json:"slot_id"`
	RequestID string    `json:"request_id"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

type SubmitResult struct {
	Request models.BookingRequest
	Slot    models.TimeSlot
	// set when the submission was confirmed on the spot
	Confirmed *models.ConfirmedSession
}

type ExpireResult struct {
	Expired []models.BookingRequest
	Slot    models.TimeSlot
}

type Coordinator struct {
	instructorID string
	log          *slog.Logger
	store        *slotstore.Store
	ledger       *ledger.Ledger
	locker       lock.Locker
	lockOpts     lock.Options
	publisher    events.Publisher
	now          func() time.Time

	reviewMu sync.Mutex
	reviews  []Review
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithLockOptions(opts lock.Options) Option {
	return func(c *Coordinator) { c.lockOpts = opts }
}

func New(
	log *slog.Logger,
	store *slotstore.Store,
	led *ledger.Ledger,
	locker lock.Locker,
	publisher events.Publisher,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		instructorID: store.InstructorID(),
		log:          log.With(slog.String("instructor_id", store.InstructorID())),
		store:        store,
		ledger:       led,
		locker:       locker,
		lockOpts:     lock.DefaultOptions(),
		publisher:    publisher,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) InstructorID() string {
	return c.instructorID
}

func (c *Coordinator) isInstructor(actor models.Actor) bool {
	return actor.Role == models.RoleSystem ||
		(actor.Role == models.RoleInstructor && actor.ID == c.instructorID)
}

func (c *Coordinator) lockSlot(ctx context.Context, slotID string) (func(), error) {
	return lock.Acquire(ctx, c.log, c.locker, c.lockOpts, lock.SlotKey(c.instructorID, slotID))
}

func (c *Coordinator) publish(ctx context.Context, ev events.Event) {
	c.publisher.Publish(ctx, ev)
}

func (c *Coordinator) requestEvent(t events.Type, req models.BookingRequest, reason string) events.Event {
	ev := events.New(t, c.instructorID, req.SlotID, c.now())
	ev.RequestID = req.ID
	ev.StudentID = req.StudentID
	ev.Price = req.OfferPrice
	ev.SessionType = string(req.SessionKind)
	ev.Reason = reason
	return ev
}

// Submit places a student's offer on a slot. With auto-confirmation enabled an
// offer meeting the base price is confirmed right away; if that confirmation
// cannot be made the request stays pending and is queued for review.
func (c *Coordinator) Submit(ctx context.Context, slotID string, offer pricing.Offer, message string, actor models.Actor) (SubmitResult, error) {
	const op = "coordinator.Submit"

	if actor.Role != models.RoleStudent || actor.ID == "" {
		return SubmitResult{}, fmt.Errorf("%s: only students can submit offers: %w", op, response.ErrForbidden)
	}

	req, err := c.submit(ctx, slotID, offer, message, actor)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("%s: %w", op, err)
	}

	res := SubmitResult{Request: req}

	if c.store.Config().AutoConfirmBookings {
		res.Confirmed = c.autoConfirm(ctx, slotID)
	}

	if res.Request, err = c.ledger.Get(req.ID); err != nil {
		return SubmitResult{}, fmt.Errorf("%s: %w", op, err)
	}
	if res.Slot, err = c.store.GetSlot(slotID); err != nil {
		return SubmitResult{}, fmt.Errorf("%s: %w", op, err)
	}

	return res, nil
}

func (c *Coordinator) submit(ctx context.Context, slotID string, offer pricing.Offer, message string, actor models.Actor) (models.BookingRequest, error) {
	release, err := c.lockSlot(ctx, slotID)
	if err != nil {
		return models.BookingRequest{}, err
	}
	defer release()

	slot, err := c.store.GetSlot(slotID)
	if err != nil {
		return models.BookingRequest{}, err
	}

	if slot.Status != models.SlotAvailable && !slot.Status.Negotiable() {
		return models.BookingRequest{}, fmt.Errorf("slot %s is %s: %w", slotID, slot.Status, response.ErrSlotNotAvailable)
	}
	if !slot.StartTime.After(c.now()) {
		return models.BookingRequest{}, fmt.Errorf("slot %s already started: %w", slotID, response.ErrSlotNotAvailable)
	}

	// AcceptedParticipants stays zero: a slot confirms exactly one request and
	// is closed to offers afterwards, so no place is held while bidding is open.
	validated, err := pricing.Validate(pricing.Input{
		Slot:   slot,
		Offer:  offer,
		Config: c.store.Config(),
	})
	if err != nil {
		return models.BookingRequest{}, err
	}

	req, err := c.ledger.Submit(ledger.Submission{
		SlotID:       slotID,
		InstructorID: c.instructorID,
		StudentID:    actor.ID,
		SessionKind:  validated.SessionKind,
		Price:        validated.Price,
		Message:      message,
	})
	if err != nil {
		return models.BookingRequest{}, err
	}

	if _, err := c.store.Transition(slotID, slotstore.Event{
		Type:            slotstore.RequestReceived,
		Requests:        c.ledger.Rank(slotID),
		ExpectedVersion: slot.Version,
	}); err != nil {
		// roll the ledger back so the failed submission leaves no pending request
		if _, rbErr := c.ledger.Withdraw(req.ID); rbErr != nil {
			c.log.Error("failed to roll back submission", slog.String("request_id", req.ID), sl.Err(rbErr))
		}
		return models.BookingRequest{}, err
	}

	c.log.Info("offer submitted",
		slog.String("slot_id", slotID),
		slog.String("request_id", req.ID),
		slog.Int64("price", req.OfferPrice),
		slog.Bool("meets_base_price", validated.MeetsBasePrice),
	)

	c.publish(ctx, c.requestEvent(events.RequestSubmitted, req, ""))

	return req, nil
}

func (c *Coordinator) autoConfirm(ctx context.Context, slotID string) *models.ConfirmedSession {
	ranked := c.ledger.Rank(slotID)
	if len(ranked) == 0 {
		return nil
	}

	top := ranked[0]

	slot, err := c.store.GetSlot(slotID)
	if err != nil {
		return nil
	}
	if top.OfferPrice < pricing.BasePrice(slot, top.SessionKind) {
		return nil
	}

	session, err := c.Accept(ctx, slotID, top.ID, models.SystemActor())
	if err != nil {
		c.deferToReview(ctx, top, err)
		return nil
	}

	return &session
}

func (c *Coordinator) deferToReview(ctx context.Context, req models.BookingRequest, cause error) {
	_, code, _ := response.Classify(cause)

	review := Review{
		SlotID:    req.SlotID,
		RequestID: req.ID,
		Reason:    string(code),
		CreatedAt: c.now(),
	}

	c.dropReview(req.ID)

	c.reviewMu.Lock()
	c.reviews = append(c.reviews, review)
	c.reviewMu.Unlock()

	c.log.Warn("auto-confirmation deferred",
		slog.String("slot_id", req.SlotID),
		slog.String("request_id", req.ID),
		sl.Err(cause),
	)

	c.publish(ctx, c.requestEvent(events.AutoConfirmDeferred, req, review.Reason))
}

// Accept confirms a pending request. It holds the day lock and then the slot
// lock, runs every check and only then commits: slot confirmed, request
// accepted, siblings rejected.
func (c *Coordinator) Accept(ctx context.Context, slotID, requestID string, actor models.Actor) (models.ConfirmedSession, error) {
	const op = "coordinator.Accept"

	if !c.isInstructor(actor) {
		return models.ConfirmedSession{}, fmt.Errorf("%s: %w", op, response.ErrForbidden)
	}

	slot, err := c.store.GetSlot(slotID)
	if err != nil {
		return models.ConfirmedSession{}, fmt.Errorf("%s: %w", op, err)
	}

	release, err := lock.Acquire(ctx, c.log, c.locker, c.lockOpts,
		lock.DayKey(c.instructorID, slot.Date),
		lock.SlotKey(c.instructorID, slotID),
	)
	if err != nil {
		return models.ConfirmedSession{}, fmt.Errorf("%s: %w", op, err)
	}
	defer release()

	// re-read under the lock
	if slot, err = c.store.GetSlot(slotID); err != nil {
		return models.ConfirmedSession{}, fmt.Errorf("%s: %w", op, err)
	}

	req, err := c.requestOnSlot(slotID, requestID)
	if err != nil {
		return models.ConfirmedSession{}, fmt.Errorf("%s: %w", op, err)
	}

	if req.Status != models.RequestPending {
		return models.ConfirmedSession{}, fmt.Errorf("%s: %s is %s: %w", op, requestID, req.Status, response.ErrRequestNotPending)
	}
	if !slot.Status.Negotiable() {
		return models.ConfirmedSession{}, fmt.Errorf("%s: slot %s is %s: %w", op, slotID, slot.Status, response.ErrSlotNotAvailable)
	}

	// No accepted participants yet, same as in submit.
	if _, err := pricing.Validate(pricing.Input{
		Slot:   slot,
		Offer:  pricing.Offer{SessionKind: req.SessionKind, Price: req.OfferPrice},
		Config: c.store.Config(),
	}); err != nil {
		return models.ConfirmedSession{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := c.store.CheckConfirm(slotID); err != nil {
		return models.ConfirmedSession{}, fmt.Errorf("%s: %w", op, err)
	}

	session := models.ConfirmedSession{
		SlotID:      slotID,
		RequestID:   req.ID,
		SessionType: slot.SessionType,
		Price:       req.OfferPrice,
		StudentID:   req.StudentID,
		ConfirmedAt: c.now(),
		ConfirmedBy: actor.ID,
	}

	if _, err := c.store.Transition(slotID, slotstore.Event{
		Type:            slotstore.Confirmed,
		Session:         &session,
		ExpectedVersion: slot.Version,
	}); err != nil {
		return models.ConfirmedSession{}, fmt.Errorf("%s: %w", op, err)
	}

	accepted, err := c.ledger.Accept(req.ID)
	if err != nil {
		// the slot lock is held, so only a broken invariant gets here
		c.log.Error("slot confirmed but request could not be accepted",
			slog.String("slot_id", slotID), slog.String("request_id", req.ID), sl.Err(err))
		return models.ConfirmedSession{}, fmt.Errorf("%s: %w", op, err)
	}

	rejected := c.ledger.RejectAllExcept(slotID, req.ID, "another offer was confirmed")

	c.log.Info("booking confirmed",
		slog.String("slot_id", slotID),
		slog.String("request_id", req.ID),
		slog.String("student_id", req.StudentID),
		slog.Int64("price", req.OfferPrice),
		slog.String("confirmed_by", actor.ID),
		slog.Int("rejected", len(rejected)),
	)

	confirmed := c.requestEvent(events.BookingConfirmed, accepted, "")
	confirmed.Price = session.Price
	confirmed.SessionType = session.SessionType.String()
	c.publish(ctx, confirmed)

	for _, r := range rejected {
		c.publish(ctx, c.requestEvent(events.RequestRejected, r, "another offer was confirmed"))
	}

	c.dropReviews(slotID)

	return session, nil
}

func (c *Coordinator) requestOnSlot(slotID, requestID string) (models.BookingRequest, error) {
	req, err := c.ledger.Get(requestID)
	if err != nil {
		return models.BookingRequest{}, err
	}
	if req.SlotID != slotID {
		return models.BookingRequest{}, fmt.Errorf("%s is not on slot %s: %w", requestID, slotID, response.ErrRequestNotFound)
	}
	return req, nil
}

// Reject declines one request. When it was the last outstanding request the
// slot returns to available.
func (c *Coordinator) Reject(ctx context.Context, slotID, requestID, reason string, actor models.Actor) (models.BookingRequest, error) {
	const op = "coordinator.Reject"

	if !c.isInstructor(actor) {
		return models.BookingRequest{}, fmt.Errorf("%s: %w", op, response.ErrForbidden)
	}

	release, err := c.lockSlot(ctx, slotID)
	if err != nil {
		return models.BookingRequest{}, fmt.Errorf("%s: %w", op, err)
	}
	defer release()

	req, err := c.decide(slotID, requestID, func() (models.BookingRequest, error) {
		return c.ledger.Reject(requestID, reason)
	})
	if err != nil {
		return models.BookingRequest{}, fmt.Errorf("%s: %w", op, err)
	}

	c.log.Info("request rejected", slog.String("slot_id", slotID), slog.String("request_id", requestID))
	c.publish(ctx, c.requestEvent(events.RequestRejected, req, reason))
	c.dropReview(requestID)

	return req, nil
}

// Withdraw lets a student take back their own pending offer.
func (c *Coordinator) Withdraw(ctx context.Context, requestID string, actor models.Actor) (models.BookingRequest, error) {
	const op = "coordinator.Withdraw"

	req, err := c.ledger.Get(requestID)
	if err != nil {
		return models.BookingRequest{}, fmt.Errorf("%s: %w", op, err)
	}

	if actor.Role != models.RoleStudent || actor.ID != req.StudentID {
		return models.BookingRequest{}, fmt.Errorf("%s: %w", op, response.ErrForbidden)
	}

	release, err := c.lockSlot(ctx, req.SlotID)
	if err != nil {
		return models.BookingRequest{}, fmt.Errorf("%s: %w", op, err)
	}
	defer release()

	req, err = c.decide(req.SlotID, requestID, func() (models.BookingRequest, error) {
		return c.ledger.Withdraw(requestID)
	})
	if err != nil {
		return models.BookingRequest{}, fmt.Errorf("%s: %w", op, err)
	}

	c.log.Info("request withdrawn", slog.String("slot_id", req.SlotID), slog.String("request_id", requestID))
	c.publish(ctx, c.requestEvent(events.RequestWithdrawn, req, ""))
	c.dropReview(requestID)

	return req, nil
}

// decide applies a ledger decision and syncs the slot with the remaining
// requests. Must be called with the slot lock held.
func (c *Coordinator) decide(slotID, requestID string, apply func() (models.BookingRequest, error)) (models.BookingRequest, error) {
	req, err := c.requestOnSlot(slotID, requestID)
	if err != nil {
		return models.BookingRequest{}, err
	}
	if req.Status != models.RequestPending {
		return models.BookingRequest{}, fmt.Errorf("%s is %s: %w", requestID, req.Status, response.ErrRequestNotPending)
	}

	slot, err := c.store.GetSlot(slotID)
	if err != nil {
		return models.BookingRequest{}, err
	}
	if !slot.Status.Negotiable() {
		return models.BookingRequest{}, fmt.Errorf("slot %s is %s: %w", slotID, slot.Status, response.ErrSlotNotAvailable)
	}

	req, err = apply()
	if err != nil {
		return models.BookingRequest{}, err
	}

	if _, err := c.store.Transition(slotID, slotstore.Event{
		Type:     slotstore.RequestWithdrawn,
		Requests: c.ledger.Rank(slotID),
	}); err != nil {
		c.log.Error("request decided but slot not updated",
			slog.String("slot_id", slotID), slog.String("request_id", req.ID), sl.Err(err))
		return models.BookingRequest{}, err
	}

	return req, nil
}

// ExpireSlot expires the slot's requests whose TTL passed and closes the slot
// when its start time passed without a confirmation. Running it twice for the
// same instant changes nothing the second time.
func (c *Coordinator) ExpireSlot(ctx context.Context, slotID string, now time.Time) (ExpireResult, error) {
	const op = "coordinator.ExpireSlot"

	release, err := c.lockSlot(ctx, slotID)
	if err != nil {
		return ExpireResult{}, fmt.Errorf("%s: %w", op, err)
	}
	defer release()

	slot, err := c.store.GetSlot(slotID)
	if err != nil {
		return ExpireResult{}, fmt.Errorf("%s: %w", op, err)
	}

	started := !slot.StartTime.After(now)

	var res ExpireResult
	for _, req := range c.ledger.Active(slotID) {
		if !started && req.ExpiresAt.After(now) {
			continue
		}
		expired, err := c.ledger.Expire(req.ID, now)
		if err != nil {
			return res, fmt.Errorf("%s: %w", op, err)
		}
		res.Expired = append(res.Expired, expired)
	}

	elapsed := false
	switch {
	case started && (slot.Status == models.SlotAvailable || slot.Status.Negotiable()):
		if slot, err = c.store.Transition(slotID, slotstore.Event{Type: slotstore.Elapsed}); err != nil {
			return res, fmt.Errorf("%s: %w", op, err)
		}
		elapsed = true
	case len(res.Expired) > 0 && slot.Status.Negotiable():
		if slot, err = c.store.Transition(slotID, slotstore.Event{
			Type:     slotstore.Expired,
			Requests: c.ledger.Rank(slotID),
		}); err != nil {
			return res, fmt.Errorf("%s: %w", op, err)
		}
	}
	res.Slot = slot

	for _, req := range res.Expired {
		c.publish(ctx, c.requestEvent(events.RequestExpired, req, "ttl elapsed"))
		c.dropReview(req.ID)
	}

	// An elapsed slot always gets an event, even without requests, so the
	// expired status reaches the store.
	if elapsed || (len(res.Expired) > 0 && slot.Status == models.SlotAvailable) {
		ev := events.New(events.SlotExpired, c.instructorID, slotID, now)
		ev.Reason = "no active requests left"
		if elapsed {
			ev.Reason = "slot start time passed"
		}
		c.publish(ctx, ev)
	}

	if len(res.Expired) > 0 {
		c.log.Info("requests expired",
			slog.String("slot_id", slotID),
			slog.Int("count", len(res.Expired)),
			slog.String("slot_status", string(slot.Status)),
		)
	}

	return res, nil
}

// DueSlots lists the slots the expiry sweep has to visit at now.
func (c *Coordinator) DueSlots(now time.Time) []string {
	set := make(map[string]struct{})
	for slotID := range c.ledger.Due(now) {
		set[slotID] = struct{}{}
	}
	for _, slotID := range c.store.StartedBy(now) {
		set[slotID] = struct{}{}
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// Pruned lists what Prune dropped from memory.
type Pruned struct {
	Slots    []string
	Requests []string
}

// Prune drops fully elapsed days from the calendar together with their ledger
// history.
func (c *Coordinator) Prune(now time.Time) Pruned {
	var p Pruned
	p.Slots = c.store.PruneElapsed(now)
	for _, slotID := range p.Slots {
		requests := c.ledger.Requests(slotID)
		if !c.ledger.Forget(slotID) {
			continue
		}
		for _, r := range requests {
			p.Requests = append(p.Requests, r.ID)
		}
	}
	return p
}

func (c *Coordinator) UpdateConfig(cfg models.InstructorSchedulingConfig, actor models.Actor) error {
	const op = "coordinator.UpdateConfig"

	if !c.isInstructor(actor) {
		return fmt.Errorf("%s: %w", op, response.ErrForbidden)
	}

	if err := c.store.SetConfig(cfg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (c *Coordinator) Publish(date string, specs []slotstore.SlotSpec, actor models.Actor) (models.DayAvailability, error) {
	const op = "coordinator.Publish"

	if !c.isInstructor(actor) {
		return models.DayAvailability{}, fmt.Errorf("%s: %w", op, response.ErrForbidden)
	}

	day, err := c.store.Publish(date, specs)
	if err != nil {
		return models.DayAvailability{}, fmt.Errorf("%s: %w", op, err)
	}

	return day, nil
}

func (c *Coordinator) Generate(params slotstore.GenerateParams, actor models.Actor) (models.DayAvailability, error) {
	const op = "coordinator.Generate"

	if !c.isInstructor(actor) {
		return models.DayAvailability{}, fmt.Errorf("%s: %w", op, response.ErrForbidden)
	}

	day, err := c.store.Generate(params)
	if err != nil {
		return models.DayAvailability{}, fmt.Errorf("%s: %w", op, err)
	}

	return day, nil
}

func (c *Coordinator) Config() models.InstructorSchedulingConfig {
	return c.store.Config()
}

func (c *Coordinator) Slot(slotID string) (models.TimeSlot, error) {
	return c.store.GetSlot(slotID)
}

func (c *Coordinator) Day(date string) models.DayAvailability {
	return c.store.Day(date)
}

func (c *Coordinator) Dates() []string {
	return c.store.Dates()
}

func (c *Coordinator) Ranking(slotID string, actor models.Actor) ([]models.BookingRequest, error) {
	const op = "coordinator.Ranking"

	if !c.isInstructor(actor) {
		return nil, fmt.Errorf("%s: %w", op, response.ErrForbidden)
	}
	if _, err := c.store.GetSlot(slotID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return c.ledger.Rank(slotID), nil
}

func (c *Coordinator) Request(requestID string) (models.BookingRequest, error) {
	return c.ledger.Get(requestID)
}

// SlotRequests returns every request made on the slot, decided or not.
func (c *Coordinator) SlotRequests(slotID string) []models.BookingRequest {
	return c.ledger.Requests(slotID)
}

func (c *Coordinator) History(slotID string) []ledger.Entry {
	return c.ledger.History(slotID)
}

func (c *Coordinator) Reviews() []Review {
	c.reviewMu.Lock()
	defer c.reviewMu.Unlock()

	out := make([]Review, len(c.reviews))
	copy(out, c.reviews)
	return out
}

func (c *Coordinator) dropReview(requestID string) {
	c.filterReviews(func(r Review) bool { return r.RequestID != requestID })
}

func (c *Coordinator) dropReviews(slotID string) {
	c.filterReviews(func(r Review) bool { return r.SlotID != slotID })
}

func (c *Coordinator) filterReviews(keep func(Review) bool) {
	c.reviewMu.Lock()
	defer c.reviewMu.Unlock()

	kept := c.reviews[:0]
	for _, r := range c.reviews {
		if keep(r) {
			kept = append(kept, r)
		}
	}
	c.reviews = kept
}

// Restore loads persisted slots and requests into an empty coordinator.
func (c *Coordinator) Restore(slots []models.TimeSlot, requests []models.BookingRequest) {
	c.store.Restore(slots)
	c.ledger.Restore(requests)
}
