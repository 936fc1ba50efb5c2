// Package ledger records booking requests as an append-only log of entries and
// keeps a projection of each request's current state next to it. Every offer
// ever made on a slot stays in the log; the projection answers "what is pending
// now" and is updated in the same critical section as the append.
package ledger

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"bidding-service/internal/models"
	"bidding-service/pkg/response"

	"github.com/google/uuid"
)

const DefaultTTL = 48 * time.Hour

type EntryKind string

const (
	EntrySubmitted EntryKind = "Submitted"
	EntryAccepted  EntryKind = "Accepted"
	EntryRejected  EntryKind = "Rejected"
	EntryWithdrawn EntryKind = "Withdrawn"
	EntryExpired   EntryKind = "Expired"
)

type Entry struct {
	Seq       int64     `json:"seq"`
	Kind      EntryKind `json:"kind"`
	RequestID string    `json:"request_id"`
	SlotID    string    `json:"slot_id"`
	StudentID string    `json:"student_id"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// Submission is an offer that already passed pricing validation.
type Submission struct {
	SlotID       string
	InstructorID string
	StudentID    string
	SessionKind  models.SessionKind
	Price        int64
	Message      string
}

type Ledger struct {
	log   *slog.Logger
	ttl   time.Duration
	now   func() time.Time
	newID func() string

	mu       sync.RWMutex
	seq      int64
	entries  map[string][]Entry
	requests map[string]*models.BookingRequest
	bySlot   map[string][]string
}

type Option func(*Ledger)

func WithTTL(ttl time.Duration) Option {
	return func(l *Ledger) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithIDs(newID func() string) Option {
	return func(l *Ledger) { l.newID = newID }
}

func New(log *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		log:      log,
		ttl:      DefaultTTL,
		now:      time.Now,
		newID:    uuid.NewString,
		entries:  make(map[string][]Entry),
		requests: make(map[string]*models.BookingRequest),
		bySlot:   make(map[string][]string),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) TTL() time.Duration {
	return l.ttl
}

func (l *Ledger) Submit(sub Submission) (models.BookingRequest, error) {
	const op = "ledger.Submit"

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range l.bySlot[sub.SlotID] {
		r := l.requests[id]
		if r.StudentID == sub.StudentID && r.Status == models.RequestPending {
			return models.BookingRequest{}, fmt.Errorf("%s: student %s on slot %s: %w",
				op, sub.StudentID, sub.SlotID, response.ErrDuplicateRequest)
		}
	}

	now := l.now()
	req := &models.BookingRequest{
		ID:           l.newID(),
		SlotID:       sub.SlotID,
		InstructorID: sub.InstructorID,
		StudentID:    sub.StudentID,
		SessionKind:  sub.SessionKind,
		OfferPrice:   sub.Price,
		Message:      sub.Message,
		Status:       models.RequestPending,
		SubmittedAt:  now,
		ExpiresAt:    now.Add(l.ttl),
	}

	l.requests[req.ID] = req
	l.bySlot[req.SlotID] = append(l.bySlot[req.SlotID], req.ID)
	l.appendLocked(EntrySubmitted, req, "", now)

	return *req, nil
}

func (l *Ledger) appendLocked(kind EntryKind, req *models.BookingRequest, reason string, at time.Time) {
	l.seq++
	l.entries[req.SlotID] = append(l.entries[req.SlotID], Entry{
		Seq:       l.seq,
		Kind:      kind,
		RequestID: req.ID,
		SlotID:    req.SlotID,
		StudentID: req.StudentID,
		Reason:    reason,
		At:        at,
	})
}

var entryStatus = map[EntryKind]models.RequestStatus{
	EntryAccepted:  models.RequestAccepted,
	EntryRejected:  models.RequestRejected,
	EntryWithdrawn: models.RequestWithdrawn,
	EntryExpired:   models.RequestExpired,
}

// decide moves a pending request to its terminal status.
func (l *Ledger) decide(op string, kind EntryKind, id, reason string, at time.Time) (models.BookingRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	req, ok := l.requests[id]
	if !ok {
		return models.BookingRequest{}, fmt.Errorf("%s: %s: %w", op, id, response.ErrRequestNotFound)
	}

	if req.Status != models.RequestPending {
		return models.BookingRequest{}, fmt.Errorf("%s: %s is %s: %w", op, id, req.Status, response.ErrRequestNotPending)
	}

	return l.decideLocked(req, kind, reason, at), nil
}

func (l *Ledger) decideLocked(req *models.BookingRequest, kind EntryKind, reason string, at time.Time) models.BookingRequest {
	decided := at
	next := *req
	next.Status = entryStatus[kind]
	next.DecidedAt = &decided

	l.requests[next.ID] = &next
	l.appendLocked(kind, &next, reason, at)

	return next
}

func (l *Ledger) Accept(id string) (models.BookingRequest, error) {
	return l.decide("ledger.Accept", EntryAccepted, id, "", l.now())
}

func (l *Ledger) Reject(id, reason string) (models.BookingRequest, error) {
	return l.decide("ledger.Reject", EntryRejected, id, reason, l.now())
}

func (l *Ledger) Withdraw(id string) (models.BookingRequest, error) {
	return l.decide("ledger.Withdraw", EntryWithdrawn, id, "", l.now())
}

func (l *Ledger) Expire(id string, at time.Time) (models.BookingRequest, error) {
	return l.decide("ledger.Expire", EntryExpired, id, "ttl elapsed", at)
}

// RejectAllExcept rejects every pending request on the slot other than keepID
// and returns the ones it changed. A second call finds nothing left to reject.
func (l *Ledger) RejectAllExcept(slotID, keepID, reason string) []models.BookingRequest {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	var rejected []models.BookingRequest
	for _, id := range l.bySlot[slotID] {
		req := l.requests[id]
		if id == keepID || req.Status != models.RequestPending {
			continue
		}
		rejected = append(rejected, l.decideLocked(req, EntryRejected, reason, now))
	}

	return rejected
}

func (l *Ledger) Get(id string) (models.BookingRequest, error) {
	const op = "ledger.Get"

	l.mu.RLock()
	defer l.mu.RUnlock()

	req, ok := l.requests[id]
	if !ok {
		return models.BookingRequest{}, fmt.Errorf("%s: %s: %w", op, id, response.ErrRequestNotFound)
	}

	return *req, nil
}

// Active lists the pending requests of a slot in submission order.
func (l *Ledger) Active(slotID string) []models.BookingRequest {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.activeLocked(slotID)
}

func (l *Ledger) activeLocked(slotID string) []models.BookingRequest {
	var active []models.BookingRequest
	for _, id := range l.bySlot[slotID] {
		if req := l.requests[id]; req.Status == models.RequestPending {
			active = append(active, *req)
		}
	}
	return active
}

// Requests lists every request ever made on the slot, in submission order.
func (l *Ledger) Requests(slotID string) []models.BookingRequest {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.BookingRequest, 0, len(l.bySlot[slotID]))
	for _, id := range l.bySlot[slotID] {
		out = append(out, *l.requests[id])
	}
	return out
}

// Rank orders the pending requests of a slot by offer price, highest first;
// ties go to the earlier submission, then to the smaller id.
func (l *Ledger) Rank(slotID string) []models.BookingRequest {
	l.mu.RLock()
	ranked := l.activeLocked(slotID)
	l.mu.RUnlock()

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.OfferPrice != b.OfferPrice {
			return a.OfferPrice > b.OfferPrice
		}
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.Before(b.SubmittedAt)
		}
		return a.ID < b.ID
	})

	return ranked
}

func (l *Ledger) History(slotID string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.entries[slotID]))
	copy(out, l.entries[slotID])

	return out
}

// Due returns the pending requests whose expiry is not after now, grouped by slot.
func (l *Ledger) Due(now time.Time) map[string][]models.BookingRequest {
	l.mu.RLock()
	defer l.mu.RUnlock()

	due := make(map[string][]models.BookingRequest)
	for _, req := range l.requests {
		if req.Status == models.RequestPending && !req.ExpiresAt.After(now) {
			due[req.SlotID] = append(due[req.SlotID], *req)
		}
	}

	return due
}

// Restore loads persisted requests into the projection. Their history starts
// with a single entry reflecting the restored status.
func (l *Ledger) Restore(requests []models.BookingRequest) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sort.SliceStable(requests, func(i, j int) bool {
		return requests[i].SubmittedAt.Before(requests[j].SubmittedAt)
	})

	for _, r := range requests {
		req := r
		if _, exists := l.requests[req.ID]; !exists {
			l.bySlot[req.SlotID] = append(l.bySlot[req.SlotID], req.ID)
		}
		l.requests[req.ID] = &req
		l.appendLocked(EntrySubmitted, &req, "restored", req.SubmittedAt)
	}

	l.log.Debug("ledger restored", slog.Int("requests", len(requests)))
}

// Forget drops a slot's requests and history once the slot itself is gone.
// Pending requests keep the slot alive, so Forget refuses while any remain.
func (l *Ledger) Forget(slotID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.activeLocked(slotID)) > 0 {
		return false
	}

	for _, id := range l.bySlot[slotID] {
		delete(l.requests, id)
	}
	delete(l.bySlot, slotID)
	delete(l.entries, slotID)

	return true
}
