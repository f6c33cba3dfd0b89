package account

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes account provisioning endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an account handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Name             string `json:"name"`
	Role             string `json:"role"`
	ParentID         string `json:"parent_id"`
	WalletAddressURL string `json:"wallet_address_url"`
}

// Create provisions an account with its wallet binding.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	acct, err := h.service.Create(c.UserContext(), CreateInput{
		Name:             req.Name,
		Role:             req.Role,
		ParentID:         req.ParentID,
		WalletAddressURL: req.WalletAddressURL,
	})
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return fiber.NewError(http.StatusNotFound, "parent account not found")
		}
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	return c.Status(http.StatusCreated).JSON(accountView(acct))
}

// Get returns a single account.
func (h *Handler) Get(c *fiber.Ctx) error {
	acct, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return fiber.NewError(http.StatusNotFound, "account not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(accountView(acct))
}

// ListChildren returns the accounts managed by a parent.
func (h *Handler) ListChildren(c *fiber.Ctx) error {
	children, err := h.service.ListChildren(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return fiber.NewError(http.StatusNotFound, "account not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	views := make([]fiber.Map, 0, len(children))
	for _, child := range children {
		views = append(views, accountView(child))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"parent_id": c.Params("id"),
		"children":  views,
	})
}

func accountView(acct Account) fiber.Map {
	view := fiber.Map{
		"id":                 acct.ID,
		"name":               acct.Name,
		"role":               acct.Role,
		"wallet_address_url": acct.WalletAddressURL,
		"created_at":         acct.CreatedAt,
	}
	if acct.ParentID != "" {
		view["parent_id"] = acct.ParentID
	}
	return view
}
