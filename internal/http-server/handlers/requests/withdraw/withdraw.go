package withdraw

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

type RequestWithdrawer interface {
	WithdrawRequest(ctx context.Context, requestID string, actor models.Actor) (api.BookingRequest, error)
}

type Response struct {
	response.Response
	Request api.BookingRequest `json:"request"`
}

func New(log *slog.Logger, withdrawer RequestWithdrawer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.requests.withdraw.New"

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

		withdrawn, err := withdrawer.WithdrawRequest(r.Context(), chi.URLParam(r, "id"), who)
		if err != nil {
			log.Error("Failed to withdraw booking request", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}

		log.Info("Booking request withdrawn", slog.String("booking_request_id", withdrawn.ID))

		response.Render(w, r, http.StatusOK, Response{Request: withdrawn})
	}
}
