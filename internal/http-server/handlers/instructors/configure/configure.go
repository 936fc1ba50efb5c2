package configure

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

type InstructorConfigurer interface {
	ConfigureInstructor(ctx context.Context, instructorID string, req api.InstructorConfig, actor models.Actor) (api.InstructorConfig, error)
}

type Request struct {
	api.InstructorConfig
}

type Response struct {
	response.Response
	Config api.InstructorConfig `json:"config"`
}

func New(log *slog.Logger, configurer InstructorConfigurer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.instructors.configure.New"

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

		instructorID := chi.URLParam(r, "instructorID")

		cfg, err := configurer.ConfigureInstructor(r.Context(), instructorID, req.InstructorConfig, who)
		if err != nil {
			log.Error("Failed to configure instructor", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}

		log.Info("Instructor configured", slog.String("instructor_id", instructorID))

		response.Render(w, r, http.StatusOK, Response{Config: cfg})
	}
}
