package handlers

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/messaging-bridge/internal/domain"
	"github.com/onurcolak/messaging-bridge/internal/middlewares"
	"github.com/onurcolak/messaging-bridge/internal/service"
	"github.com/onurcolak/messaging-bridge/pkg/response"
	"github.com/onurcolak/messaging-bridge/pkg/validator"
)

type accountService interface {
	CreateAccount(ctx context.Context, ownerUserID string, in service.CreateAccountInput) (*domain.Account, error)
	ListAccounts(ctx context.Context, ownerUserID string) ([]domain.Account, error)
	SetActive(ctx context.Context, ownerUserID string, accountID int64, active bool) (*domain.Account, error)
}

type AccountHandler struct {
	service accountService
}

func NewAccountHandler(service accountService) *AccountHandler {
	return &AccountHandler{service: service}
}

type CreateAccountRequest struct {
	Platform           string `json:"platform" validate:"required,platform"`
	Name               string `json:"name" validate:"max=255"`
	AccessToken        string `json:"accessToken" validate:"required"`
	WebhookSecret      string `json:"webhookSecret,omitempty"`
	VerifyToken        string `json:"verifyToken,omitempty"`
	PageID             string `json:"pageId,omitempty"`
	PageName           string `json:"pageName,omitempty"`
	PhoneNumberID      string `json:"phoneNumberId,omitempty"`
	BusinessAccountID  string `json:"businessAccountId,omitempty"`
	DisplayPhoneNumber string `json:"displayPhoneNumber,omitempty"`
}

// ListAccounts godoc
// @Summary List connected accounts
// @Description Returns the Facebook pages and WhatsApp numbers owned by the caller
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.SuccessResponse
// @Failure 401 {object} response.ErrorResponse
// @Router /api/v1/accounts [get]
func (h *AccountHandler) ListAccounts(c echo.Context) error {
	accounts, err := h.service.ListAccounts(c.Request().Context(), middlewares.UserID(c))
	if err != nil {
		return respondError(c, err)
	}

	if accounts == nil {
		accounts = []domain.Account{}
	}
	return response.Ok(c, accounts)
}

// CreateAccount godoc
// @Summary Connect a platform account
// @Tags accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateAccountRequest true "Account to connect"
// @Success 201 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Failure 422 {object} validator.ValidationErrorResponse
// @Router /api/v1/accounts [post]
func (h *AccountHandler) CreateAccount(c echo.Context) error {
	var req CreateAccountRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	platform, err := domain.ParsePlatform(req.Platform)
	if err != nil {
		return response.BadRequest(c, err)
	}

	account, err := h.service.CreateAccount(c.Request().Context(), middlewares.UserID(c), service.CreateAccountInput{
		Platform:           platform,
		Name:               req.Name,
		AccessToken:        req.AccessToken,
		WebhookSecret:      req.WebhookSecret,
		VerifyToken:        req.VerifyToken,
		PageID:             req.PageID,
		PageName:           req.PageName,
		PhoneNumberID:      req.PhoneNumberID,
		BusinessAccountID:  req.BusinessAccountID,
		DisplayPhoneNumber: req.DisplayPhoneNumber,
	})
	if err != nil {
		return respondError(c, err)
	}

	return response.Created(c, "Account connected", account)
}

// ActivateAccount godoc
// @Summary Activate an account
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Param id path int true "Account ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/v1/accounts/{id}/activate [post]
func (h *AccountHandler) ActivateAccount(c echo.Context) error {
	return h.setActive(c, true)
}

// DeactivateAccount godoc
// @Summary Deactivate an account
// @Description Soft-deactivates the account; its history is kept
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Param id path int true "Account ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/v1/accounts/{id}/deactivate [post]
func (h *AccountHandler) DeactivateAccount(c echo.Context) error {
	return h.setActive(c, false)
}

func (h *AccountHandler) setActive(c echo.Context, active bool) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return response.BadRequest(c, err)
	}

	account, err := h.service.SetActive(c.Request().Context(), middlewares.UserID(c), id, active)
	if err != nil {
		return respondError(c, err)
	}

	return response.Ok(c, account)
}
