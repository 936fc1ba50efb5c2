package coordinator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"bidding-service/internal/events"
	"bidding-service/internal/ledger"
	"bidding-service/internal/lock"
	"bidding-service/internal/models"
	"bidding-service/internal/pricing"
	"bidding-service/internal/slotstore"
	"bidding-service/pkg/response"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	instructorID = "inst-1"
	testDate     = "2026-10-25"
)

var instructor = models.Actor{ID: instructorID, Role: models.RoleInstructor}

func student(id string) models.Actor {
	return models.Actor{ID: id, Role: models.RoleStudent}
}

type harness struct {
	*Coordinator
	rec *events.Recorder
	now time.Time
}

func newHarness(t *testing.T, cfg models.InstructorSchedulingConfig) *harness {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		rec: &events.Recorder{},
		now: time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }

	h.Coordinator = New(log,
		slotstore.New(instructorID, cfg, log),
		ledger.New(log, ledger.WithClock(clock)),
		lock.NewMemoryLock(),
		h.rec,
		WithClock(clock),
		WithLockOptions(lock.Options{
			TTL:        time.Minute,
			Retries:    200,
			Backoff:    time.Millisecond,
			MaxBackoff: 5 * time.Millisecond,
		}),
	)

	return h
}

func slotAt(hour, minute int) time.Time {
	return time.Date(2026, 10, 25, hour, minute, 0, 0, time.UTC)
}

func individual(startHour, endHour int) slotstore.SlotSpec {
	return slotstore.SlotSpec{
		Start:               slotAt(startHour, 0),
		End:                 slotAt(endHour, 0),
		SessionType:         models.Individual(),
		BasePriceIndividual: 10000,
		BasePriceGroup:      4000,
	}
}

func (h *harness) publish(t *testing.T, specs ...slotstore.SlotSpec) []string {
	t.Helper()

	day, err := h.Publish(testDate, specs, instructor)
	require.NoError(t, err)

	ids := make([]string, 0, len(day.Slots))
	for _, s := range day.Slots {
		ids = append(ids, s.ID)
	}
	return ids
}

func (h *harness) offer(t *testing.T, slotID, studentID string, price int64) SubmitResult {
	t.Helper()

	res, err := h.Submit(context.Background(), slotID,
		pricing.Offer{SessionKind: models.SessionIndividual, Price: price}, "hi", student(studentID))
	require.NoError(t, err)
	return res
}

func (h *harness) status(t *testing.T, slotID string) models.SlotStatus {
	t.Helper()

	slot, err := h.Slot(slotID)
	require.NoError(t, err)
	return slot.Status
}

func (h *harness) request(t *testing.T, id string) models.BookingRequest {
	t.Helper()

	req, err := h.Request(id)
	require.NoError(t, err)
	return req
}

func TestScenario_HighestBidIsConfirmedAndSiblingRejected(t *testing.T) {
	h := newHarness(t, models.InstructorSchedulingConfig{})
	slotID := h.publish(t, individual(9, 10))[0]

	low := h.offer(t, slotID, "alice", 10000)
	assert.Equal(t, models.SlotPendingRequests, low.Slot.Status)

	h.now = h.now.Add(time.Minute)
	high := h.offer(t, slotID, "bob", 12000)
	assert.Equal(t, models.SlotCompetitiveBidding, high.Slot.Status)

	ranked, err := h.Ranking(slotID, instructor)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, high.Request.ID, ranked[0].ID)

	session, err := h.Accept(context.Background(), slotID, high.Request.ID, instructor)
	require.NoError(t, err)
	assert.Equal(t, int64(12000), session.Price)
	assert.Equal(t, "bob", session.StudentID)
	assert.Equal(t, instructorID, session.ConfirmedBy)

	slot, err := h.Slot(slotID)
	require.NoError(t, err)
	assert.Equal(t, models.SlotConfirmed, slot.Status)
	require.NotNil(t, slot.ConfirmedSession)
	assert.Empty(t, slot.Requests)

	assert.Equal(t, models.RequestAccepted, h.request(t, high.Request.ID).Status)
	assert.Equal(t, models.RequestRejected, h.request(t, low.Request.ID).Status)

	confirmed := h.rec.OfType(events.BookingConfirmed)
	require.Len(t, confirmed, 1)
	assert.Equal(t, high.Request.ID, confirmed[0].RequestID)
	assert.Equal(t, int64(12000), confirmed[0].Price)
	assert.Equal(t, "bob", confirmed[0].StudentID)
	assert.Equal(t, instructorID, confirmed[0].InstructorID)

	rejected := h.rec.OfType(events.RequestRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, low.Request.ID, rejected[0].RequestID)
}

func TestScenario_DailyCapBlocksSeventhConfirmation(t *testing.T) {
	h := newHarness(t, models.InstructorSchedulingConfig{MaxSessionsPerDay: 6})

	specs := make([]slotstore.SlotSpec, 0, 7)
	for hour := 8; hour < 15; hour++ {
		specs = append(specs, individual(hour, hour+1))
	}
	ids := h.publish(t, specs...)
	require.Len(t, ids, 7)

	for _, id := range ids[:6] {
		res := h.offer(t, id, "alice", 10000)
		_, err := h.Accept(context.Background(), id, res.Request.ID, instructor)
		require.NoError(t, err)
	}

	last := h.offer(t, ids[6], "bob", 15000)
	_, err := h.Accept(context.Background(), ids[6], last.Request.ID, instructor)
	require.ErrorIs(t, err, response.ErrDailyCapExceeded)
	assert.True(t, response.IsState(err))

	assert.Equal(t, models.SlotPendingRequests, h.status(t, ids[6]))
	assert.Equal(t, models.RequestPending, h.request(t, last.Request.ID).Status)
}

func TestScenario_TTLExpiryReturnsSlotToAvailable(t *testing.T) {
	h := newHarness(t, models.InstructorSchedulingConfig{})
	slotID := h.publish(t, individual(9, 10))[0]

	res := h.offer(t, slotID, "alice", 10000)
	submittedAt := h.now

	h.now = submittedAt.Add(ledger.DefaultTTL + time.Second)
	out, err := h.ExpireSlot(context.Background(), slotID, h.now)
	require.NoError(t, err)
	require.Len(t, out.Expired, 1)
	assert.Equal(t, models.SlotAvailable, out.Slot.Status)
	assert.Empty(t, out.Slot.Requests)

	assert.Equal(t, models.RequestExpired, h.request(t, res.Request.ID).Status)
	assert.Len(t, h.rec.OfType(events.RequestExpired), 1)
	assert.Len(t, h.rec.OfType(events.SlotExpired), 1)

	again, err := h.ExpireSlot(context.Background(), slotID, h.now)
	require.NoError(t, err)
	assert.Empty(t, again.Expired)
	assert.Len(t, h.rec.OfType(events.RequestExpired), 1, "second pass expires nothing")
}

func TestExpireSlot_KeepsNegotiationWhileRequestsRemain(t *testing.T) {
	h := newHarness(t, models.InstructorSchedulingConfig{})
	slotID := h.publish(t, individual(9, 10))[0]

	early := h.offer(t, slotID, "alice", 10000)
	h.now = h.now.Add(time.Hour)
	late := h.offer(t, slotID, "bob", 11000)
	require.Equal(t, models.SlotCompetitiveBidding, late.Slot.Status)

	out, err := h.ExpireSlot(context.Background(), slotID, early.Request.ExpiresAt)
	require.NoError(t, err)
	require.Len(t, out.Expired, 1)
	assert.Equal(t, early.Request.ID, out.Expired[0].ID)
	assert.Equal(t, models.SlotPendingRequests, out.Slot.Status)
	assert.Empty(t, h.rec.OfType(events.SlotExpired))
}

func TestExpireSlot_StartTimePassed(t *testing.T) {
	h := newHarness(t, models.InstructorSchedulingConfig{})
	slotID := h.publish(t, individual(9, 10))[0]
	res := h.offer(t, slotID, "alice", 10000)

	out, err := h.ExpireSlot(context.Background(), slotID, slotAt(9, 5))
	require.NoError(t, err)
	require.Len(t, out.Expired, 1)
	assert.Equal(t, models.SlotExpired, out.Slot.Status)
	assert.Equal(t, models.RequestExpired, h.request(t, res.Request.ID).Status)

	slotEvents := h.rec.OfType(events.SlotExpired)
	require.Len(t, slotEvents, 1)
	assert.Equal(t, "slot start time passed", slotEvents[0].Reason)
}

func TestExpireSlot_ElapsedWithoutRequests(t *testing.T) {
	h := newHarness(t, models.InstructorSchedulingConfig{})
	slotID := h.publish(t, individual(9, 10))[0]

	out, err := h.ExpireSlot(context.Background(), slotID, slotAt(9, 30))
	require.NoError(t, err)
	assert.Empty(t, out.Expired)
	assert.Equal(t, models.SlotExpired, out.Slot.Status)

	slotEvents := h.rec.OfType(events.SlotExpired)
	require.Len(t, slotEvents, 1)
	assert.Equal(t, slotID, slotEvents[0].SlotID)
	assert.Equal(t, "slot start time passed", slotEvents[0].Reason)

	_, err = h.ExpireSlot(context.Background(), slotID, slotAt(9, 45))
	require.NoError(t, err)
	assert.Len(t, h.rec.OfType(events.SlotExpired), 1, "already expired slot stays quiet")
}

func TestScenario_AutoConfirm(t *testing.T) {
	h := newHarness(t, models.InstructorSchedulingConfig{AutoConfirmBookings: true, MaxSessionsPerDay: 6, BufferTimeMinutes: 15})
	slotID := h.publish(t, individual(9, 10))[0]

	res := h.offer(t, slotID, "alice", 10000)
	require.NotNil(t, res.Confirmed)
	assert.Equal(t, models.SystemActor().ID, res.Confirmed.ConfirmedBy)
	assert.Equal(t, models.SlotConfirmed, res.Slot.Status)
	assert.Equal(t, models.RequestAccepted, res.Request.Status)
	assert.Len(t, h.rec.OfType(events.BookingConfirmed), 1)
}

func TestAutoConfirm_UnderbidStaysPending(t *testing.T) {
	h := newHarness(t, models.InstructorSchedulingConfig{
		AutoConfirmBookings:  true,
		AllowUnderbid:        true,
		UnderbidFloorPercent: 80,
	})
	slotID := h.publish(t, individual(9, 10))[0]

	res := h.offer(t, slotID, "alice", 9000)
	assert.Nil(t, res.Confirmed)
	assert.Equal(t, models.SlotPendingRequests, res.Slot.Status)
	assert.Empty(t, h.Reviews())
}

func TestAutoConfirm_DeferredToReview(t *testing.T) {
	h := newHarness(t, models.InstructorSchedulingConfig{AutoConfirmBookings: true, MaxSessionsPerDay: 1})
	ids := h.publish(t, individual(9, 10), individual(11, 12))

	first := h.offer(t, ids[0], "alice", 10000)
	require.NotNil(t, first.Confirmed)

	second := h.offer(t, ids[1], "bob", 10000)
	assert.Nil(t, second.Confirmed)
	assert.Equal(t, models.RequestPending, second.Request.Status)
	assert.Equal(t, models.SlotPendingRequests, second.Slot.Status)

	reviews := h.Reviews()
	require.Len(t, reviews, 1)
	assert.Equal(t, second.Request.ID, reviews[0].RequestID)
	assert.Equal(t, string(response.DAILY_CAP_EXCEEDED), reviews[0].Reason)

	deferred := h.rec.OfType(events.AutoConfirmDeferred)
	require.Len(t, deferred, 1)
	assert.Equal(t, second.Request.ID, deferred[0].RequestID)

	_, err := h.Reject(context.Background(), ids[1], second.Request.ID, "fully booked", instructor)
	require.NoError(t, err)
	assert.Empty(t, h.Reviews())
	assert.Equal(t, models.SlotAvailable, h.status(t, ids[1]))
}

func TestSubmit_Errors(t *testing.T) {
	h := newHarness(t, models.InstructorSchedulingConfig{})
	ids := h.publish(t, individual(9, 10), individual(11, 12))

	ctx := context.Background()
	ok := pricing.Offer{SessionKind: models.SessionIndividual, Price: 10000}

	_, err := h.Submit(ctx, ids[0], ok, "", instructor)
	assert.ErrorIs(t, err, response.ErrForbidden)

	_, err = h.Submit(ctx, "20261025-1300-1400", ok, "", student("alice"))
	assert.ErrorIs(t, err, response.ErrSlotNotFound)

	_, err = h.Submit(ctx, ids[0], pricing.Offer{SessionKind: models.SessionGroup, Price: 10000}, "", student("alice"))
	assert.ErrorIs(t, err, response.ErrSessionTypeMismatch)

	_, err = h.Submit(ctx, ids[0], pricing.Offer{SessionKind: models.SessionIndividual, Price: 9999}, "", student("alice"))
	assert.ErrorIs(t, err, response.ErrPriceBelowFloor)

	res := h.offer(t, ids[0], "alice", 10000)
	_, err = h.Submit(ctx, ids[0], ok, "", student("alice"))
	assert.ErrorIs(t, err, response.ErrDuplicateRequest)

	_, err = h.Accept(ctx, ids[0], res.Request.ID, instructor)
	require.NoError(t, err)
	_, err = h.Submit(ctx, ids[0], ok, "", student("bob"))
	assert.ErrorIs(t, err, response.ErrSlotNotAvailable, "confirmed slot takes no more offers")

	h.now = slotAt(11, 0)
	_, err = h.Submit(ctx, ids[1], ok, "", student("bob"))
	assert.ErrorIs(t, err, response.ErrSlotNotAvailable, "slot already started")

	assert.Len(t, h.rec.OfType(events.RequestSubmitted), 1)
}

func TestAccept_Errors(t *testing.T) {
	h := newHarness(t, models.InstructorSchedulingConfig{})
	ids := h.publish(t, individual(9, 10), individual(11, 12))
	ctx := context.Background()

	a := h.offer(t, ids[0], "alice", 10000)
	b := h.offer(t, ids[1], "bob", 10000)

	_, err := h.Accept(ctx, ids[0], a.Request.ID, student("alice"))
	assert.ErrorIs(t, err, response.ErrForbidden)

	_, err = h.Accept(ctx, ids[0], a.Request.ID, models.Actor{ID: "inst-2", Role: models.RoleInstructor})
	assert.ErrorIs(t, err, response.ErrForbidden)

	_, err = h.Accept(ctx, ids[0], b.Request.ID, instructor)
	assert.ErrorIs(t, err, response.ErrRequestNotFound, "request belongs to another slot")

	_, err = h.Accept(ctx, "20261025-1300-1400", a.Request.ID, instructor)
	assert.ErrorIs(t, err, response.ErrSlotNotFound)

	_, err = h.Reject(ctx, ids[0], a.Request.ID, "", instructor)
	require.NoError(t, err)
	_, err = h.Accept(ctx, ids[0], a.Request.ID, instructor)
	assert.ErrorIs(t, err, response.ErrRequestNotPending)
}

func TestAccept_PriceFloorAtAcceptanceTime(t *testing.T) {
	h := newHarness(t, models.InstructorSchedulingConfig{AllowUnderbid: true, UnderbidFloorPercent: 80})
	slotID := h.publish(t, individual(9, 10))[0]

	res := h.offer(t, slotID, "alice", 8500)
	before, err := h.Slot(slotID)
	require.NoError(t, err)

	require.NoError(t, h.UpdateConfig(models.InstructorSchedulingConfig{}, instructor))

	_, err = h.Accept(context.Background(), slotID, res.Request.ID, instructor)
	require.ErrorIs(t, err, response.ErrPriceBelowFloor)

	after, err := h.Slot(slotID)
	require.NoError(t, err)
	assert.Equal(t, before, after, "failed accept leaves no partial state")
	assert.Equal(t, models.RequestPending, h.request(t, res.Request.ID).Status)
	assert.Empty(t, h.rec.OfType(events.BookingConfirmed))
}

func TestAccept_BufferViolation(t *testing.T) {
	h := newHarness(t, models.InstructorSchedulingConfig{BufferTimeMinutes: 30})

	near := individual(10, 11)
	near.Start = slotAt(10, 15)
	near.End = slotAt(11, 15)
	ids := h.publish(t, individual(9, 10), near)

	a := h.offer(t, ids[0], "alice", 10000)
	b := h.offer(t, ids[1], "bob", 10000)

	_, err := h.Accept(context.Background(), ids[0], a.Request.ID, instructor)
	require.NoError(t, err)

	_, err = h.Accept(context.Background(), ids[1], b.Request.ID, instructor)
	assert.ErrorIs(t, err, response.ErrBufferViolation)
	assert.Equal(t, models.SlotPendingRequests, h.status(t, ids[1]))
}

func TestReject_SlotFollowsRemainingRequests(t *testing.T) {
	h := newHarness(t, models.InstructorSchedulingConfig{})
	slotID := h.publish(t, individual(9, 10))[0]
	ctx := context.Background()

	a := h.offer(t, slotID, "alice", 10000)
	b := h.offer(t, slotID, "bob", 11000)

	_, err := h.Reject(ctx, slotID, a.Request.ID, "", student("bob"))
	assert.ErrorIs(t, err, response.ErrForbidden)

	rejected, err := h.Reject(ctx, slotID, a.Request.ID, "too low", instructor)
	require.NoError(t, err)
	assert.Equal(t, models.RequestRejected, rejected.Status)
	assert.Equal(t, models.SlotPendingRequests, h.status(t, slotID))

	_, err = h.Reject(ctx, slotID, a.Request.ID, "", instructor)
	assert.ErrorIs(t, err, response.ErrRequestNotPending)

	_, err = h.Reject(ctx, slotID, b.Request.ID, "", instructor)
	require.NoError(t, err)
	assert.Equal(t, models.SlotAvailable, h.status(t, slotID))

	assert.Len(t, h.rec.OfType(events.RequestRejected), 2)
}

func TestWithdraw(t *testing.T) {
	h := newHarness(t, models.InstructorSchedulingConfig{})
	slotID := h.publish(t, individual(9, 10))[0]
	ctx := context.Background()

	res := h.offer(t, slotID, "alice", 10000)

	_, err := h.Withdraw(ctx, res.Request.ID, student("bob"))
	assert.ErrorIs(t, err, response.ErrForbidden)

	_, err = h.Withdraw(ctx, "missing", student("alice"))
	assert.ErrorIs(t, err, response.ErrRequestNotFound)

	withdrawn, err := h.Withdraw(ctx, res.Request.ID, student("alice"))
	require.NoError(t, err)
	assert.Equal(t, models.RequestWithdrawn, withdrawn.Status)
	assert.Equal(t, models.SlotAvailable, h.status(t, slotID))
	assert.Len(t, h.rec.OfType(events.RequestWithdrawn), 1)

	_, err = h.Withdraw(ctx, res.Request.ID, student("alice"))
	assert.ErrorIs(t, err, response.ErrRequestNotPending)

	// the student may bid again after withdrawing
	h.offer(t, slotID, "alice", 10500)
}

func TestAccept_ConcurrentAcceptsConfirmOnce(t *testing.T) {
	h := newHarness(t, models.InstructorSchedulingConfig{})
	slotID := h.publish(t, individual(9, 10))[0]

	const bidders = 5
	requests := make([]string, 0, bidders)
	for i := 0; i < bidders; i++ {
		res := h.offer(t, slotID, fmt.Sprintf("student-%d", i), int64(10000+i*100))
		requests = append(requests, res.Request.ID)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for _, id := range requests {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()

			_, err := h.Accept(context.Background(), slotID, id, instructor)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			assert.True(t, response.IsState(err) || response.IsRetryable(err), err.Error())
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)

	slot, err := h.Slot(slotID)
	require.NoError(t, err)
	assert.Equal(t, models.SlotConfirmed, slot.Status)

	accepted := 0
	for _, id := range requests {
		switch h.request(t, id).Status {
		case models.RequestAccepted:
			accepted++
			assert.Equal(t, id, slot.ConfirmedSession.RequestID)
		case models.RequestRejected:
		default:
			t.Errorf("request %s left %s", id, h.request(t, id).Status)
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Len(t, h.rec.OfType(events.BookingConfirmed), 1)
}

func TestSubmit_ConcurrentOffersAllRecorded(t *testing.T) {
	h := newHarness(t, models.InstructorSchedulingConfig{})
	slotID := h.publish(t, individual(9, 10))[0]

	const bidders = 20

	var wg sync.WaitGroup
	errs := make(chan error, bidders)
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.Submit(context.Background(), slotID,
				pricing.Offer{SessionKind: models.SessionIndividual, Price: int64(10000 + i)},
				"", student(fmt.Sprintf("student-%d", i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	slot, err := h.Slot(slotID)
	require.NoError(t, err)
	assert.Equal(t, models.SlotCompetitiveBidding, slot.Status)
	assert.Len(t, slot.Requests, bidders)
	assert.Equal(t, int64(bidders+1), slot.Version)

	ranked, err := h.Ranking(slotID, instructor)
	require.NoError(t, err)
	assert.Equal(t, int64(10000+bidders-1), ranked[0].OfferPrice)
}

func TestDueSlotsAndPrune(t *testing.T) {
	h := newHarness(t, models.InstructorSchedulingConfig{})
	ids := h.publish(t, individual(9, 10), individual(11, 12))

	res := h.offer(t, ids[1], "alice", 10000)

	assert.Empty(t, h.DueSlots(h.now))
	assert.Equal(t, []string{ids[0]}, h.DueSlots(slotAt(9, 0)))
	assert.Equal(t, ids, h.DueSlots(slotAt(11, 0)))

	nextDay := time.Date(2026, 10, 26, 0, 0, 0, 0, time.UTC)
	assert.Empty(t, h.Prune(nextDay).Slots, "slot still negotiating")

	for _, id := range h.DueSlots(nextDay) {
		_, err := h.ExpireSlot(context.Background(), id, nextDay)
		require.NoError(t, err)
	}

	pruned := h.Prune(nextDay)
	assert.Equal(t, ids, pruned.Slots)
	assert.Equal(t, []string{res.Request.ID}, pruned.Requests)
	assert.Empty(t, h.Dates())

	_, err := h.Request(res.Request.ID)
	assert.ErrorIs(t, err, response.ErrRequestNotFound)
}

func TestInstructorOnlyOperations(t *testing.T) {
	h := newHarness(t, models.InstructorSchedulingConfig{})

	_, err := h.Publish(testDate, nil, student("alice"))
	assert.ErrorIs(t, err, response.ErrForbidden)

	_, err = h.Generate(slotstore.GenerateParams{Date: testDate}, student("alice"))
	assert.ErrorIs(t, err, response.ErrForbidden)

	assert.ErrorIs(t, h.UpdateConfig(models.InstructorSchedulingConfig{}, student("alice")), response.ErrForbidden)

	_, err = h.Ranking("any", student("alice"))
	assert.ErrorIs(t, err, response.ErrForbidden)
}
