package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/carbonviet/carbonmarket-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware платформы.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/wallet", h.GetWallet)
			r.Post("/wallet/topup", h.RequestTopup)
			r.Get("/wallet/topups", h.GetTopups)

			r.Post("/certificates", h.RequestCertificate)
			r.Get("/certificates", h.GetCertificates)

			r.Post("/listings", h.SubmitListing)
			r.Get("/listings", h.GetOwnListings)

			r.Post("/transactions", h.CreateTransaction)
			r.Get("/transactions", h.GetTransactions)
			r.Post("/transactions/{id}/confirm", h.ConfirmTransaction)
			r.Post("/transactions/{id}/complete", h.CompleteTransaction)
			r.Post("/transactions/{id}/cancel", h.CancelTransaction)

			r.Get("/portfolio", h.Portfolio)
		})
	})

	r.Route("/api/market", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Get("/listings", h.MarketplaceListings)
		r.Get("/prices", h.MarketPrices)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(h.authMiddleware.RequireAdmin)

		r.Get("/topups", h.PendingTopups)
		r.Post("/topups/{id}/approve", h.ApproveTopup)
		r.Post("/topups/{id}/reject", h.RejectTopup)

		r.Get("/certificates", h.PendingCertificates)
		r.Post("/certificates/{id}/approve", h.ApproveCertificate)
		r.Post("/certificates/{id}/reject", h.RejectCertificate)

		r.Get("/listings", h.PendingListings)
		r.Post("/listings/{id}/approve", h.ApproveListing)
		r.Post("/listings/{id}/reject", h.RejectListing)

		r.Get("/users/{id}/portfolio", h.UserPortfolio)
		r.Get("/notifications", h.Notifications)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
