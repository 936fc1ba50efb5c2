package reject

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"bidding-service/api"
	"bidding-service/internal/http-server/actor"
	"bidding-service/internal/models"
	"bidding-service/pkg/response"
	"bidding-service/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

type RequestRejecter interface {
	RejectRequest(ctx context.Context, requestID, reason string, actor models.Actor) (api.BookingRequest, error)
}

type Request struct {
	api.DecisionRequest
}

type Response struct {
	response.Response
	Request api.BookingRequest `json:"request"`
}

func New(log *slog.Logger, rejecter RequestRejecter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.requests.reject.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		who, err := actor.FromRequest(r)
		if err != nil {
			log.Warn("invalid actor", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}

		// the reason is optional, so is the body
		var req Request
		if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
			log.Error("Failed to decode request body", sl.Err(err))
			response.BadRequest(w, r, "failed to decode request")
			return
		}

		rejected, err := rejecter.RejectRequest(r.Context(), chi.URLParam(r, "id"), req.Reason, who)
		if err != nil {
			log.Error("Failed to reject booking request", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}

		log.Info("Booking request rejected", slog.String("booking_request_id", rejected.ID))

		response.Render(w, r, http.StatusOK, Response{Request: rejected})
	}
}
