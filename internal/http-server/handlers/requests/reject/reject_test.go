package reject

import (
	"bytes"
	"context"
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
)

type fakeRejecter struct {
	reason string
	err    error
}

func (f *fakeRejecter) RejectRequest(_ context.Context, requestID, reason string, _ models.Actor) (api.BookingRequest, error) {
	f.reason = reason
	return api.BookingRequest{ID: requestID, Status: "rejected"}, f.err
}

func call(t *testing.T, f *fakeRejecter, body string) int {
	t.Helper()

	router := chi.NewRouter()
	router.Post("/requests/{id}/reject", New(slog.New(slog.NewTextHandler(io.Discard, nil)), f))

	req := httptest.NewRequest(http.MethodPost, "/requests/req-1/reject", bytes.NewBufferString(body))
	req.Header.Set("X-Actor-ID", "inst-1")
	req.Header.Set("X-Actor-Role", "instructor")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec.Code
}

func TestReject(t *testing.T) {
	f := &fakeRejecter{}
	assert.Equal(t, http.StatusOK, call(t, f, `{"reason":"fully booked"}`))
	assert.Equal(t, "fully booked", f.reason)

	f = &fakeRejecter{}
	assert.Equal(t, http.StatusOK, call(t, f, ""), "body is optional")
	assert.Empty(t, f.reason)

	assert.Equal(t, http.StatusConflict, call(t, &fakeRejecter{err: response.ErrRequestNotPending}, ""))
	assert.Equal(t, http.StatusNotFound, call(t, &fakeRejecter{err: response.ErrRequestNotFound}, ""))
}
