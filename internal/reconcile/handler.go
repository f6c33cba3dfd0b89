package reconcile

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/pocket-pay/pocket_pay/internal/account"
	"github.com/pocket-pay/pocket_pay/internal/asset"
	"github.com/pocket-pay/pocket_pay/internal/grants"
)

// Handler exposes balance and sync endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a reconciliation handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Balance serves the cached balance, rebuilding it from the remote history
// on a cache miss so first reads after startup still succeed.
func (h *Handler) Balance(c *fiber.Ctx) error {
	accountID := c.Params("id")
	balance, err := h.service.GetCachedBalance(c.UserContext(), accountID)
	if errors.Is(err, ErrBalanceNotCached) {
		res, syncErr := h.service.Sync(c.UserContext(), accountID)
		if syncErr != nil {
			return mapError(syncErr)
		}
		balance = res.Balance
	} else if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	return c.Status(http.StatusOK).JSON(balance)
}

// Sync replays the wallet's remote history and returns the rebuilt balance
// together with the merged transaction records.
func (h *Handler) Sync(c *fiber.Ctx) error {
	res, err := h.service.Sync(c.UserContext(), c.Params("id"))
	if err != nil {
		return mapError(err)
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"balance":      res.Balance,
		"transactions": res.Records,
	})
}

func mapError(err error) error {
	switch {
	case errors.Is(err, account.ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, "account not found")
	case errors.Is(err, account.ErrWalletNotBound):
		return fiber.NewError(http.StatusConflict, "account has no wallet address")
	case errors.Is(err, asset.ErrScaleMismatch):
		return fiber.NewError(http.StatusBadGateway, "provider returned mixed asset denominations")
	case errors.Is(err, grants.ErrGrantNotFinalized), errors.Is(err, grants.ErrGrantExpired), errors.Is(err, grants.ErrProtocolViolation):
		return fiber.NewError(http.StatusBadGateway, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
