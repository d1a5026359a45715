package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	custommiddleware "github.com/mmeshcher/race-economy/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса экономики.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	if len(h.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.corsOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{ReplayedHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", h.Health)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	r.Route("/api/economy", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/openCrate", h.OpenCrate)
		r.Post("/purchaseShopSku", h.PurchaseShopSku)
		r.Post("/purchaseOffer", h.PurchaseOffer)
		r.Post("/activateBooster", h.ActivateBooster)
		r.Post("/triggerFlashOffer", h.TriggerFlashOffer)
		r.Post("/startRace", h.StartRace)
		r.Post("/finishRace", h.FinishRace)

		r.Get("/inventory", h.GetInventory)
		r.Get("/offers", h.GetOffers)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
