/**
 * @description
 * HTTP router setup for the payment engine using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers payment engine routes.
func NewRouter(h *PaymentHandlers, jwksURL string, internalKey string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key", "X-Actor-Id"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Payment engine is healthy"))
	})

	// User-facing payment flow, authenticated by JWT.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))
		r.Post("/payments/intents", h.CreateIntentHandler)
		r.Get("/payments/intents/{id}", h.GetPaymentContextHandler)
		r.Post("/payments/intents/{id}/execute", h.ExecuteHandler)
		r.Post("/payments/intents/{id}/refund", h.RequestRefundHandler)
		r.Post("/subscriptions/renewal-config", h.ConfigureRenewalHandler)
	})

	// Server-to-server surface for operator tooling, monitors and bots.
	r.Route("/internal/payments", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))
		r.Post("/intents/{id}/signature", h.ProvideSignatureHandler)
		r.Post("/intents/{id}/execute", h.ExecuteHandler)
		r.Post("/refunds/{id}/process", h.ProcessRefundHandler)
		r.Post("/refunds/pool/fund", h.FundRefundPoolHandler)
		r.Get("/refunds/pool/metrics", h.RefundMetricsHandler)
	})

	// Admin surface behind the same internal key; role checks happen in the
	// admin manager against the X-Actor-Id principal.
	r.Route("/internal/admin", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))
		r.Post("/pause", h.PauseHandler)
		r.Post("/unpause", h.UnpauseHandler)
		r.Put("/fees", h.UpdateFeesHandler)
		r.Post("/signers", h.AddSignerHandler)
		r.Delete("/signers/{address}", h.RemoveSignerHandler)
		r.Post("/roles", h.GrantRoleHandler)
		r.Delete("/roles", h.RevokeRoleHandler)
		r.Get("/roles/audit", h.ListRoleGrantsHandler)
		r.Post("/recover-tokens", h.RecoverTokensHandler)
	})

	return r
}
