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

type SlotGetter interface {
	GetSlot(ctx context.Context, instructorID, slotID string, actor models.Actor) (api.Slot, error)
}

type Response struct {
	response.Response
	Slot api.Slot `json:"slot"`
}

func New(log *slog.Logger, getter SlotGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.slots.get.New"

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

		slot, err := getter.GetSlot(r.Context(), chi.URLParam(r, "instructorID"), chi.URLParam(r, "slotID"), who)
		if err != nil {
			log.Error("Failed to get slot", sl.Err(err))
			response.RenderError(w, r, err)
			return
		}

		response.Render(w, r, http.StatusOK, Response{Slot: slot})
	}
}
