package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/dashvault/internal/audit/domain"
	"github.com/smallbiznis/dashvault/internal/authorization"
	earningsdomain "github.com/smallbiznis/dashvault/internal/earnings/domain"
	monitoringdomain "github.com/smallbiznis/dashvault/internal/monitoring/domain"
	operatorkeydomain "github.com/smallbiznis/dashvault/internal/operatorkey/domain"
	recoverydomain "github.com/smallbiznis/dashvault/internal/recovery/domain"
	submissiondomain "github.com/smallbiznis/dashvault/internal/submission/domain"
	webhookdomain "github.com/smallbiznis/dashvault/internal/webhook/domain"
	"github.com/smallbiznis/dashvault/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	Detail  string            `json:"detail,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// classifyErrorForLog feeds the request logger the same type the client sees.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, payload.Message
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if code, ok := validationErrorCode(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, operatorkeydomain.ErrUnauthenticated),
		errors.Is(err, webhookdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
			Detail:  err.Error(),
		}
	case errors.Is(err, submissiondomain.ErrUploadRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many uploads",
			Detail:  err.Error(),
		}
	case errors.Is(err, submissiondomain.ErrUploadTargetFailed),
		errors.Is(err, recoverydomain.ErrProviderUnavailable):
		return http.StatusBadGateway, errorPayload{
			Type:    "external_service_error",
			Message: "upstream provider unavailable",
			Detail:  err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

// validationSentinels maps domain input errors onto their request field.
var validationSentinels = []struct {
	err   error
	field string
}{
	{ErrInvalidRequest, "request"},
	{webhookdomain.ErrInvalidPayload, "payload"},
	{submissiondomain.ErrInvalidID, "id"},
	{submissiondomain.ErrInvalidDriver, "driver_id"},
	{submissiondomain.ErrInvalidFilename, "filename"},
	{submissiondomain.ErrInvalidContentType, "content_type"},
	{submissiondomain.ErrInvalidExtension, "filename"},
	{submissiondomain.ErrInvalidSize, "size_bytes"},
	{submissiondomain.ErrFileTooLarge, "size_bytes"},
	{earningsdomain.ErrInvalidID, "id"},
	{earningsdomain.ErrInvalidPaymentStatus, "payment_status"},
	{earningsdomain.ErrInvalidQualityScore, "quality_score"},
	{earningsdomain.ErrInvalidDriver, "driver_id"},
	{recoverydomain.ErrInvalidAction, "action"},
	{recoverydomain.ErrInvalidStatus, "status"},
	{recoverydomain.ErrInvalidPageToken, "page_token"},
	{auditdomain.ErrInvalidPageToken, "page_token"},
	{auditdomain.ErrInvalidTimeRange, "start_at"},
	{auditdomain.ErrInvalidAction, "action"},
	{pagination.ErrInvalidPageToken, "page_token"},
	{monitoringdomain.ErrInvalidWindow, "window"},
	{operatorkeydomain.ErrInvalidName, "name"},
	{operatorkeydomain.ErrInvalidRole, "role"},
	{operatorkeydomain.ErrInvalidID, "id"},
}

func validationErrorCode(err error) (string, bool) {
	for _, v := range validationSentinels {
		if errors.Is(err, v.err) {
			return v.err.Error(), true
		}
	}
	return "", false
}

func validationErrorField(code string) string {
	for _, v := range validationSentinels {
		if v.err.Error() == code {
			return v.field
		}
	}
	return strings.TrimPrefix(code, "invalid_")
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "file_too_large":
		return "file exceeds the upload size limit"
	default:
		return "invalid value"
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, submissiondomain.ErrNotFound),
		errors.Is(err, earningsdomain.ErrNotFound),
		errors.Is(err, operatorkeydomain.ErrNotFound),
		errors.Is(err, webhookdomain.ErrProviderNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, earningsdomain.ErrAlreadyCalculated),
		errors.Is(err, earningsdomain.ErrEarningSettled),
		errors.Is(err, earningsdomain.ErrSubmissionNotCompleted),
		errors.Is(err, earningsdomain.ErrIllegalPaymentTransition),
		errors.Is(err, recoverydomain.ErrActionNotApplicable):
		return true
	default:
		return false
	}
}
