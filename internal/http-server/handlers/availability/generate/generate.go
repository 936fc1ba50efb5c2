package generate

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

type AvailabilityGenerator interface {
	GenerateAvailability(ctx context.Context, instructorID string, req api.GenerateAvailabilityRequest, actor models.Actor) (api.DayAvailability, error)
}

type Request struct {
	api.GenerateAvailabilityRequest
}

type Response struct {
	response.Response
	Day api.DayAvailability `json:"day"`
}

func New(log *slog.Logger, generator AvailabilityGenerator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.availability.generate.New"

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

		if req.Date == "" || req.DayStart == "" || req.DayEnd == "" {
			log.Error("date or day window is empty")
			response.BadRequest(w, r, "date, day_start and day_end are required")
			return
		}

		day, err := generator.GenerateAvailability(r.Context(), chi.URLParam(r, "instructorID"), req.GenerateAvailabilityRequest, who)
		if err != nil {
			log.Error("Failed to generate availability", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}

		log.Info("Availability generated", slog.String("date", day.Date), slog.Int("slots", len(day.Slots)))

		response.Render(w, r, http.StatusOK, Response{Day: day})
	}
}
