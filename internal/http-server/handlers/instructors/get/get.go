package get

import (
	"context"
	"log/slog"
	"net/http"

	"bidding-service/api"
	"bidding-service/pkg/response"
	"bidding-service/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
)

type ConfigGetter interface {
	GetInstructorConfig(ctx context.Context, instructorID string) (api.InstructorConfig, error)
}

type Response struct {
	response.Response
	Config api.InstructorConfig `json:"config"`
}

func New(log *slog.Logger, getter ConfigGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.instructors.get.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		cfg, err := getter.GetInstructorConfig(r.Context(), chi.URLParam(r, "instructorID"))
		if err != nil {
			log.Error("Failed to get instructor config", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}

		response.Render(w, r, http.StatusOK, Response{Config: cfg})
	}
}
