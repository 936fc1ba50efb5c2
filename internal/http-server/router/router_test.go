package router

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bidding-service/api"
	"bidding-service/internal/events"
	"bidding-service/internal/lock"
	"bidding-service/internal/service"
	"bidding-service/pkg/response"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type client struct {
	t       *testing.T
	handler http.Handler
}

func newClient(t *testing.T, opts Options) *client {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := service.New(log, lock.NewMemoryLock(), events.NewBus(log), nil, service.Settings{
		Clock: func() time.Time { return time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)

	return &client{t: t, handler: New(log, svc, opts)}
}

func (c *client) do(method, path, actorID, role string, body, out any) int {
	c.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actorID != "" {
		req.Header.Set("X-Actor-ID", actorID)
		req.Header.Set("X-Actor-Role", role)
	}

	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)

	if out != nil {
		require.NoError(c.t, json.NewDecoder(rec.Body).Decode(out))
	}
	return rec.Code
}

type submitted struct {
	Request api.BookingRequest `json:"request"`
	Slot    api.Slot           `json:"slot"`
}

func TestBiddingOverHTTP(t *testing.T) {
	c := newClient(t, Options{})

	var published struct {
		Day api.DayAvailability `json:"day"`
	}
	code := c.do(http.MethodPost, "/instructors/inst-1/availability", "inst-1", "instructor", api.PublishAvailabilityRequest{
		Date: "2026-10-25",
		Slots: []api.SlotSpec{{
			StartTime:           "09:00",
			EndTime:             "10:00",
			SessionType:         api.SessionType{Kind: "individual"},
			BasePriceIndividual: 10000,
		}},
	}, &published)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, published.Day.Slots, 1)
	slotID := published.Day.Slots[0].ID

	var a, b submitted
	offerPath := "/instructors/inst-1/slots/" + slotID + "/requests"
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, offerPath, "A", "student",
		api.OfferRequest{SessionType: "individual", OfferPrice: 10000}, &a))
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, offerPath, "B", "student",
		api.OfferRequest{SessionType: "individual", OfferPrice: 12000}, &b))
	assert.Equal(t, "competitive_bidding", b.Slot.Status)

	var ranking struct {
		Requests []api.BookingRequest `json:"requests"`
	}
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/instructors/inst-1/slots/"+slotID+"/ranking", "inst-1", "instructor", nil, &ranking))
	require.Len(t, ranking.Requests, 2)
	assert.Equal(t, b.Request.ID, ranking.Requests[0].ID)

	assert.Equal(t, http.StatusForbidden, c.do(http.MethodGet, "/instructors/inst-1/slots/"+slotID+"/ranking", "A", "student", nil, nil))

	var accepted api.AcceptResult
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/requests/"+b.Request.ID+"/accept", "inst-1", "instructor", nil, &accepted))
	assert.Equal(t, "confirmed", accepted.Slot.Status)
	assert.Equal(t, int64(12000), accepted.Session.Price)

	var lost struct {
		Request api.BookingRequest `json:"request"`
	}
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/requests/"+a.Request.ID, "A", "student", nil, &lost))
	assert.Equal(t, "rejected", lost.Request.Status)

	var failure response.Response
	assert.Equal(t, http.StatusConflict, c.do(http.MethodPost, "/requests/"+a.Request.ID+"/accept", "inst-1", "instructor", nil, &failure))
	assert.Equal(t, string(response.REQUEST_NOT_PENDING), failure.Code)

	assert.Equal(t, http.StatusConflict, c.do(http.MethodPost, offerPath, "C", "student",
		api.OfferRequest{SessionType: "individual", OfferPrice: 20000}, nil))
}

func TestUnknownInstructorIs404(t *testing.T) {
	c := newClient(t, Options{})

	var failure response.Response
	assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, "/instructors/ghost/availability/2026-10-25", "", "", nil, &failure))
	assert.Equal(t, string(response.NOT_FOUND), failure.Code)
}

func TestSubmitRateLimit(t *testing.T) {
	c := newClient(t, Options{SubmitRatePerMinute: 1})

	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/instructors/inst-1/availability", "inst-1", "instructor", api.PublishAvailabilityRequest{
		Date:  "2026-10-25",
		Slots: []api.SlotSpec{{StartTime: "09:00", EndTime: "10:00", BasePriceIndividual: 10000}},
	}, nil))

	path := "/instructors/inst-1/slots/20261025-0900-1000/requests"
	offer := api.OfferRequest{SessionType: "individual", OfferPrice: 5}

	// the first offer is refused on price, the second never reaches the engine
	assert.Equal(t, http.StatusUnprocessableEntity, c.do(http.MethodPost, path, "A", "student", offer, nil))
	assert.Equal(t, http.StatusTooManyRequests, c.do(http.MethodPost, path, "A", "student", offer, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, c.do(http.MethodPost, path, "B", "student", offer, nil))
}
