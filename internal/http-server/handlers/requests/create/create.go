package create

import (
	"context"
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

type OfferSubmitter interface {
	SubmitOffer(ctx context.Context, instructorID, slotID string, req api.OfferRequest, actor models.Actor) (api.SubmitResult, error)
}

type Request struct {
	api.OfferRequest
}

type Response struct {
	response.Response
	api.SubmitResult
}

func New(log *slog.Logger, submitter OfferSubmitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.requests.create.New"

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

		var req Request
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("Failed to decode request body", sl.Err(err))
			response.BadRequest(w, r, "failed to decode request")
			return
		}

		if req.SessionType == "" {
			log.Error("session_type is empty")
			response.BadRequest(w, r, "session_type is required")
			return
		}

		res, err := submitter.SubmitOffer(r.Context(), chi.URLParam(r, "instructorID"), chi.URLParam(r, "slotID"), req.OfferRequest, who)
		if err != nil {
			log.Error("Failed to submit offer", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}

		log.Info("Offer submitted",
			slog.String("booking_request_id", res.Request.ID),
			slog.String("slot_status", res.Slot.Status),
			slog.Bool("confirmed", res.Confirmed != nil),
		)

		response.Render(w, r, http.StatusCreated, Response{SubmitResult: res})
	}
}
