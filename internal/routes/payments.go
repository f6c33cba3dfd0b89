package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pocket-pay/pocket_pay/internal/payments"
)

// RegisterTransferRoutes wires transfer orchestration endpoints.
func RegisterTransferRoutes(r fiber.Router, h *payments.Handler) {
	r.Post("/transfers", h.Initiate)
	r.Post("/transfers/:id/complete", h.Complete)
	r.Get("/accounts/:id/transfers", h.List)
}
