// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/signage-publisher/app/dto"
	businessflow "github.com/amirphl/signage-publisher/business_flow"
	"github.com/amirphl/signage-publisher/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const (
	defaultRequestTimeout = 30 * time.Second
	longRequestTimeout    = 10 * time.Minute
)

// baseHandler carries the response helpers shared by every handler.
type baseHandler struct {
	validator *validator.Validate
}

func newBaseHandler() baseHandler {
	return baseHandler{validator: validator.New()}
}

func (h *baseHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode, nextAction string, details any) error {
	c.Locals(utils.ErrorCodeLocal, errorCode)
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:       errorCode,
			Message:    message,
			NextAction: nextAction,
			Details:    details,
		},
	})
}

func (h *baseHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// validate runs struct validation and writes a 400 on failure. It returns true when the
// request may proceed.
func (h *baseHandler) validate(c fiber.Ctx, req any) (bool, error) {
	if err := h.validator.Struct(req); err != nil {
		var validationErrors []string
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			for _, fe := range fieldErrors {
				validationErrors = append(validationErrors, getValidationErrorMessage(fe))
			}
		} else {
			validationErrors = append(validationErrors, err.Error())
		}
		return false, h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", businessflow.CodeInvalidRequest, "", validationErrors)
	}
	return true, nil
}

// flowError maps a business error to its HTTP status and writes the {code, message,
// next_action} body.
func (h *baseHandler) flowError(c fiber.Ctx, err error, fallback string) error {
	var be *businessflow.BusinessError
	if !errors.As(err, &be) {
		log.Printf("handlers: %s: %v", fallback, err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, fallback, "INTERNAL_ERROR", businessflow.NextActionRetry, nil)
	}
	var details any
	if len(be.Details) > 0 {
		details = be.Details
	}
	return h.ErrorResponse(c, statusForError(be), be.Message, be.Code, be.NextAction, details)
}

func statusForError(be *businessflow.BusinessError) int {
	switch be.Code {
	case businessflow.CodeInvalidRequest:
		return fiber.StatusBadRequest
	case businessflow.CodeInvalidContainer:
		return fiber.StatusUnprocessableEntity
	case businessflow.CodeAssetNotFound, businessflow.CodeScreenNotFound,
		businessflow.CodeLocationNotFound, businessflow.CodeQueueItemNotFound,
		businessflow.CodeUploadJobNotFound:
		return fiber.StatusNotFound
	case businessflow.CodeMediaNotReady, businessflow.CodeNoCanonicalAsset,
		businessflow.CodeInvalidTransition, businessflow.CodeUploadInProgress,
		businessflow.CodeQueueItemNotCancel, businessflow.CodeQueueItemNotRetryable:
		return fiber.StatusConflict
	}
	switch be.Category {
	case businessflow.CategoryTransient:
		return fiber.StatusServiceUnavailable
	case businessflow.CategoryTerminal:
		return fiber.StatusBadGateway
	case businessflow.CategoryPrecondition:
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

// createRequestContext creates a context with a deadline and request-scoped values.
func createRequestContext(c fiber.Ctx, endpoint string, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	requestID := c.Get("X-Request-ID")
	if rid, ok := c.Locals("requestid").(string); ok && rid != "" {
		requestID = rid
	}
	ctx = context.WithValue(ctx, utils.RequestIDKey, requestID)
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, timeout)
	return ctx, cancel
}

func parseIDParam(c fiber.Ctx, name string) (uint, bool) {
	raw := strings.TrimSpace(c.Params(name))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "min":
		return err.Field() + " must have at least " + err.Param() + " elements"
	case "max":
		return err.Field() + " must have at most " + err.Param() + " elements"
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", err.Field(), err.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", err.Field(), err.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", err.Field(), err.Param())
	default:
		return err.Field() + " is invalid"
	}
}
