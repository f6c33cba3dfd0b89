package payments

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/pocket-pay/pocket_pay/internal/account"
	"github.com/pocket-pay/pocket_pay/internal/grants"
	"github.com/pocket-pay/pocket_pay/internal/ledger"
)

// Handler exposes transfer endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a transfer handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type transferRequest struct {
	FromAccountID string `json:"from_account_id"`
	ToAccountID   string `json:"to_account_id"`
	Amount        string `json:"amount"`
	Description   string `json:"description"`
}

// Initiate starts a transfer and returns the authorization redirect the
// caller must present to the paying user.
func (h *Handler) Initiate(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid amount")
	}

	res, err := h.service.Initiate(c.UserContext(), InitiateInput{
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        amount,
		Description:   req.Description,
	})
	if err != nil {
		return mapError(err)
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"transfer_id":            res.TransferID,
		"requires_authorization": res.RequiresAuthorization,
		"interact_url":           res.InteractURL,
	})
}

// Complete finalizes a transfer after the user approved the outgoing grant.
func (h *Handler) Complete(c *fiber.Ctx) error {
	res, err := h.service.Complete(c.UserContext(), c.Params("id"))
	if err != nil {
		return mapError(err)
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"transfer_id": c.Params("id"),
		"status":      res.Status,
	})
}

// List returns recent transfers touching an account, newest first.
func (h *Handler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	transfers, err := h.service.ListTransfers(c.UserContext(), c.Params("id"), limit)
	if err != nil {
		return mapError(err)
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"account_id": c.Params("id"),
		"transfers":  transferViews(transfers),
	})
}

type transferView struct {
	ID                string `json:"id"`
	FromAccountID     string `json:"from_account_id"`
	ToAccountID       string `json:"to_account_id"`
	Amount            string `json:"amount"`
	AssetCode         string `json:"asset_code"`
	Status            string `json:"status"`
	Description       string `json:"description,omitempty"`
	OutgoingPaymentID string `json:"outgoing_payment_id,omitempty"`
	ErrorMessage      string `json:"error_message,omitempty"`
	InteractURL       string `json:"interact_url,omitempty"`
	CreatedAt         string `json:"created_at"`
	CompletedAt       string `json:"completed_at,omitempty"`
}

func transferViews(transfers []ledger.PendingTransfer) []transferView {
	views := make([]transferView, 0, len(transfers))
	for _, t := range transfers {
		v := transferView{
			ID:                t.ID,
			FromAccountID:     t.FromAccountID,
			ToAccountID:       t.ToAccountID,
			Amount:            t.Amount.String(),
			AssetCode:         t.AssetCode,
			Status:            string(t.Status),
			Description:       t.Description,
			OutgoingPaymentID: t.OutgoingPaymentID,
			ErrorMessage:      t.ErrorMessage,
			CreatedAt:         t.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if t.Status == ledger.StatusAwaitingAuthorization {
			v.InteractURL = t.GrantInteractURL
		}
		if t.CompletedAt != nil {
			v.CompletedAt = t.CompletedAt.UTC().Format(time.RFC3339Nano)
		}
		views = append(views, v)
	}
	return views
}

func mapError(err error) error {
	var providerErr *ProviderError
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return fiber.NewError(http.StatusBadRequest, "invalid amount")
	case errors.Is(err, account.ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, "account not found")
	case errors.Is(err, account.ErrWalletNotBound):
		return fiber.NewError(http.StatusConflict, "account has no wallet address")
	case errors.Is(err, ledger.ErrTransferNotFound):
		return fiber.NewError(http.StatusNotFound, "transfer not found")
	case errors.Is(err, ErrNotYetAuthorized):
		return fiber.NewError(http.StatusConflict, "transfer not yet authorized")
	case errors.Is(err, ErrAlreadyFinalized):
		return fiber.NewError(http.StatusConflict, "transfer already finalized")
	case errors.Is(err, grants.ErrGrantExpired):
		return fiber.NewError(http.StatusGone, "authorization grant expired")
	case errors.As(err, &providerErr):
		return fiber.NewError(http.StatusBadGateway, providerErr.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
