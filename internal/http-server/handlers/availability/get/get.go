package get

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

type DayGetter interface {
	GetDay(ctx context.Context, instructorID, date string, actor models.Actor) (api.DayAvailability, error)
}

type Response struct {
	response.Response
	Day api.DayAvailability `json:"day"`
}

func New(log *slog.Logger, getter DayGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.availability.get.New"

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

		day, err := getter.GetDay(r.Context(), chi.URLParam(r, "instructorID"), chi.URLParam(r, "date"), who)
		if err != nil {
			log.Error("Failed to get availability", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}

		response.Render(w, r, http.StatusOK, Response{Day: day})
	}
}
