package list

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

type ReviewLister interface {
	Reviews(ctx context.Context, instructorID string, actor models.Actor) ([]api.Review, error)
}

type Response struct {
	response.Response
	Reviews []api.Review `json:"reviews"`
}

func New(log *slog.Logger, lister ReviewLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.reviews.list.New"

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

		reviews, err := lister.Reviews(r.Context(), chi.URLParam(r, "instructorID"), who)
		if err != nil {
			log.Error("Failed to list reviews", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}

		response.Render(w, r, http.StatusOK, Response{Reviews: reviews})
	}
}
