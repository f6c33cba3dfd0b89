package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pocket-pay/pocket_pay/internal/account"
	"github.com/pocket-pay/pocket_pay/internal/reconcile"
)

// RegisterAccountRoutes wires account provisioning and balance endpoints.
func RegisterAccountRoutes(r fiber.Router, accounts *account.Handler, balances *reconcile.Handler) {
	r.Post("/accounts", accounts.Create)
	r.Get("/accounts/:id", accounts.Get)
	r.Get("/accounts/:id/children", accounts.ListChildren)
	r.Get("/accounts/:id/balance", balances.Balance)
	r.Post("/accounts/:id/sync", balances.Sync)
}
