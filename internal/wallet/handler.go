package wallet

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/rent_wallet/internal/apierror"
	"github.com/congo-pay/rent_wallet/internal/auth"
	"github.com/congo-pay/rent_wallet/internal/ledger"
)

// Handler exposes ledger HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a ledger HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type initRequest struct {
	Admin string `json:"admin"`
}

type movementRequest struct {
	User   string          `json:"user"`
	Amount json.RawMessage `json:"amount"`
}

type setAdminRequest struct {
	NewAdmin string `json:"new_admin"`
}

// Init stores the first admin identity.
func (h *Handler) Init(c *fiber.Ctx) error {
	var req initRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	admin, err := parseAddress("admin", req.Admin)
	if err != nil {
		return err
	}
	if err := h.service.Init(c.UserContext(), admin); err != nil {
		return mapLedgerError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"admin": admin.String()})
}

// Credit adds to a user's balance.
func (h *Handler) Credit(c *fiber.Ctx) error {
	user, amount, err := h.parseMovement(c)
	if err != nil {
		return err
	}
	res, err := h.service.Credit(c.UserContext(), user, amount)
	if err != nil {
		return mapLedgerError(err)
	}
	return c.Status(http.StatusOK).JSON(res)
}

// Debit removes from a user's balance.
func (h *Handler) Debit(c *fiber.Ctx) error {
	user, amount, err := h.parseMovement(c)
	if err != nil {
		return err
	}
	res, err := h.service.Debit(c.UserContext(), user, amount)
	if err != nil {
		return mapLedgerError(err)
	}
	return c.Status(http.StatusOK).JSON(res)
}

// Balance returns a user's balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	user, err := parseAddress("address", c.Params("address"))
	if err != nil {
		return err
	}
	balance, err := h.service.Balance(c.UserContext(), user)
	if err != nil {
		return mapLedgerError(err)
	}
	return c.Status(http.StatusOK).JSON(balance)
}

// SetAdmin replaces the admin identity.
func (h *Handler) SetAdmin(c *fiber.Ctx) error {
	var req setAdminRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	newAdmin, err := parseAddress("new_admin", req.NewAdmin)
	if err != nil {
		return err
	}
	if err := h.service.SetAdmin(c.UserContext(), newAdmin); err != nil {
		return mapLedgerError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"admin": newAdmin.String()})
}

// Pause suspends credit and debit.
func (h *Handler) Pause(c *fiber.Ctx) error {
	return h.setPaused(c, true)
}

// Unpause resumes credit and debit.
func (h *Handler) Unpause(c *fiber.Ctx) error {
	return h.setPaused(c, false)
}

func (h *Handler) setPaused(c *fiber.Ctx, paused bool) error {
	if err := h.service.SetPaused(c.UserContext(), paused); err != nil {
		return mapLedgerError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"paused": paused})
}

// Paused reports the pause flag.
func (h *Handler) Paused(c *fiber.Ctx) error {
	paused, err := h.service.IsPaused(c.UserContext())
	if err != nil {
		return mapLedgerError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"paused": paused})
}

// Status summarizes the ledger instance.
func (h *Handler) Status(c *fiber.Ctx) error {
	st, err := h.service.Status(c.UserContext())
	if err != nil {
		return mapLedgerError(err)
	}
	return c.Status(http.StatusOK).JSON(st)
}

func (h *Handler) parseMovement(c *fiber.Ctx) (ledger.Address, ledger.Amount, error) {
	var req movementRequest
	if err := decodeBody(c, &req); err != nil {
		return "", ledger.Amount{}, err
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		return "", ledger.Amount{}, err
	}
	amount, err := h.parseAmount(c, req.Amount)
	if err != nil {
		return "", ledger.Amount{}, err
	}
	return user, amount, nil
}

// parseAmount decodes a movement amount. An amount outside the 128-bit range
// is reported only after the admin and pause checks pass, the same order the
// contract applies to amounts it can represent.
func (h *Handler) parseAmount(c *fiber.Ctx, raw json.RawMessage) (ledger.Amount, error) {
	var amount ledger.Amount
	if len(raw) == 0 {
		return amount, nil
	}
	err := json.Unmarshal(raw, &amount)
	if err == nil {
		return amount, nil
	}
	if !errors.Is(err, ledger.ErrOverflow) {
		return ledger.Amount{}, validationError("amount", "amount must be a base-10 integer")
	}
	if err := h.service.CheckMovement(c.UserContext()); err != nil {
		return ledger.Amount{}, mapLedgerError(err)
	}
	if strings.HasPrefix(strings.Trim(strings.TrimSpace(string(raw)), `"`), "-") {
		return ledger.Amount{}, mapLedgerError(ledger.ErrInvalidAmount)
	}
	return ledger.Amount{}, mapLedgerError(ledger.ErrOverflow)
}

func decodeBody(c *fiber.Ctx, dst any) error {
	if err := json.Unmarshal(c.Body(), dst); err != nil {
		return apierror.New(http.StatusBadRequest, apierror.CodeValidation, "invalid request body")
	}
	return nil
}

func parseAddress(field, raw string) (ledger.Address, error) {
	addr, err := auth.ParseAddress(raw)
	if err != nil {
		return "", validationError(field, field+": "+err.Error())
	}
	return addr, nil
}

func validationError(field, msg string) error {
	return apierror.New(http.StatusBadRequest, apierror.CodeValidation, msg).
		WithDetails(map[string]any{"field": field})
}

// mapLedgerError converts contract failures into API errors. Unknown errors
// pass through and are rendered as internal errors.
func mapLedgerError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrAlreadyInitialized):
		return apierror.New(http.StatusConflict, apierror.CodeAlreadyInitialized, ledger.ErrAlreadyInitialized.Error())
	case errors.Is(err, ledger.ErrNotInitialized):
		return apierror.New(http.StatusConflict, apierror.CodeNotInitialized, ledger.ErrNotInitialized.Error())
	case errors.Is(err, ledger.ErrUnauthorized):
		return apierror.New(http.StatusUnauthorized, apierror.CodeUnauthorized, ledger.ErrUnauthorized.Error())
	case errors.Is(err, ledger.ErrContractPaused):
		return apierror.New(http.StatusLocked, apierror.CodeContractPaused, ledger.ErrContractPaused.Error())
	case errors.Is(err, ledger.ErrInvalidAmount):
		return apierror.New(http.StatusBadRequest, apierror.CodeInvalidAmount, ledger.ErrInvalidAmount.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return apierror.New(http.StatusUnprocessableEntity, apierror.CodeInsufficientBalance, ledger.ErrInsufficientBalance.Error())
	case errors.Is(err, ledger.ErrOverflow):
		return apierror.New(http.StatusUnprocessableEntity, apierror.CodeOverflow, ledger.ErrOverflow.Error())
	}
	return err
}
