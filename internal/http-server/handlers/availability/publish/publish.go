package publish

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

type AvailabilityPublisher interface {
	PublishAvailability(ctx context.Context, instructorID string, req api.PublishAvailabilityRequest, actor models.Actor) (api.DayAvailability, error)
}

type Request struct {
	api.PublishAvailabilityRequest
}

type Response struct {
	response.Response
	Day api.DayAvailability `json:"day"`
}

func New(log *slog.Logger, publisher AvailabilityPublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.availability.publish.New"

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

		if req.Date == "" {
			log.Error("date is empty")
			response.BadRequest(w, r, "date is required")
			return
		}

		day, err := publisher.PublishAvailability(r.Context(), chi.URLParam(r, "instructorID"), req.PublishAvailabilityRequest, who)
		if err != nil {
			log.Error("Failed to publish availability", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}

		log.Info("Availability published", slog.String("date", day.Date), slog.Int("slots", len(day.Slots)))

		response.Render(w, r, http.StatusOK, Response{Day: day})
	}
}
