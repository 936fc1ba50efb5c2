// Package router mounts the booking engine's HTTP API on a chi router.
package router

import (
	"log/slog"
	"net/http"

	"bidding-service/internal/http-server/actor"
	availGenerate "bidding-service/internal/http-server/handlers/availability/generate"
	availGet "bidding-service/internal/http-server/handlers/availability/get"
	availPublish "bidding-service/internal/http-server/handlers/availability/publish"
	instructorConfigure "bidding-service/internal/http-server/handlers/instructors/configure"
	instructorGet "bidding-service/internal/http-server/handlers/instructors/get"
	requestAccept "bidding-service/internal/http-server/handlers/requests/accept"
	requestCreate "bidding-service/internal/http-server/handlers/requests/create"
	requestGet "bidding-service/internal/http-server/handlers/requests/get"
	requestReject "bidding-service/internal/http-server/handlers/requests/reject"
	requestWithdraw "bidding-service/internal/http-server/handlers/requests/withdraw"
	reviewList "bidding-service/internal/http-server/handlers/reviews/list"
	slotGet "bidding-service/internal/http-server/handlers/slots/get"
	slotRank "bidding-service/internal/http-server/handlers/slots/rank"
	"bidding-service/pkg/middleware/mwLogger"
	"bidding-service/pkg/middleware/ratelimit"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
)

type Engine interface {
	instructorConfigure.InstructorConfigurer
	instructorGet.ConfigGetter
	availPublish.AvailabilityPublisher
	availGenerate.AvailabilityGenerator
	availGet.DayGetter
	slotGet.SlotGetter
	slotRank.Ranker
	requestCreate.OfferSubmitter
	requestGet.RequestGetter
	requestAccept.RequestAccepter
	requestReject.RequestRejecter
	requestWithdraw.RequestWithdrawer
	reviewList.ReviewLister
}

type Options struct {
	// offers one caller may submit per minute, 0 disables the limit
	SubmitRatePerMinute int
}

func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+actor.HeaderID+", "+actor.HeaderRole)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func New(log *slog.Logger, engine Engine, opts Options) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(mwLogger.New(log))
	router.Use(middleware.Recoverer)
	router.Use(CORS)

	router.Route("/instructors/{instructorID}", func(r chi.Router) {
		r.Get("/config", instructorGet.New(log, engine))
		r.Put("/config", instructorConfigure.New(log, engine))

		r.Post("/availability", availPublish.New(log, engine))
		r.Post("/availability/generate", availGenerate.New(log, engine))
		r.Get("/availability/{date}", availGet.New(log, engine))

		r.Get("/slots/{slotID}", slotGet.New(log, engine))
		r.Get("/slots/{slotID}/ranking", slotRank.New(log, engine))
		r.With(ratelimit.PerMinute(log, opts.SubmitRatePerMinute, actor.Key)).
			Post("/slots/{slotID}/requests", requestCreate.New(log, engine))

		r.Get("/reviews", reviewList.New(log, engine))
	})

	router.Get("/requests/{id}", requestGet.New(log, engine))
	router.Post("/requests/{id}/accept", requestAccept.New(log, engine))
	router.Post("/requests/{id}/reject", requestReject.New(log, engine))
	router.Post("/requests/{id}/withdraw", requestWithdraw.New(log, engine))

	return router
}
