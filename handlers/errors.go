package handlers

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/messaging-bridge/internal/domain"
	"github.com/onurcolak/messaging-bridge/pkg/logger"
	"github.com/onurcolak/messaging-bridge/pkg/response"
)

const (
	throttledRetryAfter = 5 * time.Second
	queueFullRetryAfter = 10 * time.Second
)

// respondError maps domain failures onto HTTP statuses.
func respondError(c echo.Context, err error) error {
	var (
		verificationErr *domain.WebhookVerificationError
		configErr       *domain.AccountConfigurationError
		apiErr          *domain.MessagingAPIError
	)

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return response.NotFound(c, err.Error())
	case errors.Is(err, domain.ErrInvalidMessage), errors.Is(err, domain.ErrInvalidAccount):
		return response.BadRequest(c, err)
	case errors.Is(err, domain.ErrDuplicate),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrInactiveAccount):
		return response.Conflict(c, err)
	case errors.Is(err, domain.ErrThrottled):
		return response.TooManyRequests(c, err, throttledRetryAfter)
	case errors.Is(err, domain.ErrQueueFull):
		return response.ServiceUnavailable(c, err, queueFullRetryAfter)
	case errors.As(err, &verificationErr):
		return response.Unauthorized(c, err.Error())
	case errors.As(err, &configErr):
		return response.Forbidden(c, err.Error())
	case errors.As(err, &apiErr):
		return response.BadGateway(c, err)
	}

	logger.Errorf("Request %s %s failed: %v", c.Request().Method, c.Path(), err)
	return response.InternalServerError(c, err)
}

func parseIDParam(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

func parsePaginationParams(c echo.Context) (int, int, error) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)

	pageStr := c.QueryParam("page")
	pageSizeStr := c.QueryParam("pageSize")

	// Page
	page := defaultPage
	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p <= 0 {
			return 0, 0, fmt.Errorf("page must be a positive integer")
		}
		page = p
	}

	// Page size
	pageSize := defaultPageSize
	if pageSizeStr != "" {
		ps, err := strconv.Atoi(pageSizeStr)
		if err != nil || ps <= 0 || ps > maxPageSize {
			return 0, 0, fmt.Errorf("pageSize must be between 1 and %d", maxPageSize)
		}

		pageSize = ps
	}

	return page, pageSize, nil
}

// parseLimitParam reads an optional positive "limit" query parameter; 0 means unset.
func parseLimitParam(c echo.Context) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return 0, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return limit, nil
}
