package get

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"bidding-service/api"
	"bidding-service/internal/models"
	"bidding-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGetter struct {
	viewer models.Actor
}

func (f *fakeGetter) GetSlot(_ context.Context, instructorID, slotID string, actor models.Actor) (api.Slot, error) {
	f.viewer = actor
	if slotID == "missing" {
		return api.Slot{}, response.ErrSlotNotFound
	}
	return api.Slot{ID: slotID, InstructorID: instructorID, Status: "available"}, nil
}

func TestGet(t *testing.T) {
	f := &fakeGetter{}
	router := chi.NewRouter()
	router.Get("/instructors/{instructorID}/slots/{slotID}", New(slog.New(slog.NewTextHandler(io.Discard, nil)), f))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/instructors/inst-1/slots/s1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.Actor{}, f.viewer, "anonymous viewers may browse")

	var body Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "s1", body.Slot.ID)
	assert.Equal(t, "inst-1", body.Slot.InstructorID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/instructors/inst-1/slots/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
