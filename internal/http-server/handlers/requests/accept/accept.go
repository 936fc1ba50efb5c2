package accept

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
)

type RequestAccepter interface {
	AcceptRequest(ctx context.Context, requestID string, actor models.Actor) (api.AcceptResult, error)
}

type Response struct {
	response.Response
	api.AcceptResult
}

func New(log *slog.Logger, accepter RequestAccepter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.requests.accept.New"

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

		id := chi.URLParam(r, "id")

		res, err := accepter.AcceptRequest(r.Context(), id, who)
		if err != nil {
			if response.IsRetryable(err) {
				log.Warn("Accept lost a race, caller may retry", sl.Err(err))
			} else {
				log.Error("Failed to accept booking request", sl.Err(err))
			}
			response.RenderError(w, r, err)
			return
		}

		log.Info("Booking request accepted",
			slog.String("booking_request_id", id),
			slog.String("slot_id", res.Slot.ID),
		)

		response.Render(w, r, http.StatusOK, Response{AcceptResult: res})
	}
}
