package response

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// FailureResponse is an error that still carries the resource it left behind.
type FailureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    any    `json:"data,omitempty"`
}

type PaginatedResponse struct {
	Success    bool  `json:"success"`
	Data       any   `json:"data"`
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	TotalCount int64 `json:"totalCount"`
	TotalPages int   `json:"totalPages"`
}

func Ok(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Data:    data,
	})
}

func OkWithMessage(c echo.Context, message string, data any) error {
	return c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func Created(c echo.Context, message string, data any) error {
	return c.JSON(http.StatusCreated, SuccessResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func Accepted(c echo.Context, message string, data any) error {
	return c.JSON(http.StatusAccepted, SuccessResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func NoContent(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

func errorJSON(c echo.Context, status int, message string) error {
	return c.JSON(status, ErrorResponse{
		Success: false,
		Error:   message,
	})
}

func BadRequest(c echo.Context, err error) error {
	return errorJSON(c, http.StatusBadRequest, err.Error())
}

func BadRequestWithMessage(c echo.Context, message string) error {
	return errorJSON(c, http.StatusBadRequest, message)
}

func Unauthorized(c echo.Context, message string) error {
	if message == "" {
		message = "Invalid or missing credentials"
	}
	return errorJSON(c, http.StatusUnauthorized, message)
}

func Forbidden(c echo.Context, message string) error {
	return errorJSON(c, http.StatusForbidden, message)
}

func NotFound(c echo.Context, message string) error {
	return errorJSON(c, http.StatusNotFound, message)
}

func Conflict(c echo.Context, err error) error {
	return errorJSON(c, http.StatusConflict, err.Error())
}

// TooManyRequests tells the caller to back off for retryAfter.
func TooManyRequests(c echo.Context, err error, retryAfter time.Duration) error {
	setRetryAfter(c, retryAfter)
	return errorJSON(c, http.StatusTooManyRequests, err.Error())
}

// ServiceUnavailable is used to reject webhook deliveries so the platform redelivers later.
func ServiceUnavailable(c echo.Context, err error, retryAfter time.Duration) error {
	setRetryAfter(c, retryAfter)
	return errorJSON(c, http.StatusServiceUnavailable, err.Error())
}

func BadGateway(c echo.Context, err error) error {
	return errorJSON(c, http.StatusBadGateway, err.Error())
}

// BadGatewayWithData reports an upstream platform failure together with data,
// e.g. the message that was marked FAILED.
func BadGatewayWithData(c echo.Context, err error, data any) error {
	return c.JSON(http.StatusBadGateway, FailureResponse{
		Success: false,
		Error:   err.Error(),
		Data:    data,
	})
}

func InternalServerError(c echo.Context, err error) error {
	return errorJSON(c, http.StatusInternalServerError, err.Error())
}

func UnprocessableEntity(c echo.Context, err error) error {
	return errorJSON(c, http.StatusUnprocessableEntity, err.Error())
}

func Paginated(c echo.Context, data any, page, pageSize int, totalCount int64) error {
	totalPages := int(totalCount) / pageSize
	if int(totalCount)%pageSize > 0 {
		totalPages++
	}

	return c.JSON(http.StatusOK, PaginatedResponse{
		Success:    true,
		Data:       data,
		Page:       page,
		PageSize:   pageSize,
		TotalCount: totalCount,
		TotalPages: totalPages,
	})
}

func setRetryAfter(c echo.Context, retryAfter time.Duration) {
	seconds := int(retryAfter.Round(time.Second).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
}
