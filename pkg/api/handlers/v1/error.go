package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/scope"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	// Retryable tells the client the outcome is unknown and the same request may be sent again.
	Retryable bool `json:"retryable,omitempty"`
}

func makeErrorResponse(err error) ErrorResponse {
	return ErrorResponse{Success: false, Error: err.Error(), Retryable: protocol.IsRetryable(err)}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case protocol.IsRetryable(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, protocol.ErrUnknownEntity):
		return http.StatusNotFound
	case errors.Is(err, protocol.ErrDuplicateSubmission),
		errors.Is(err, protocol.ErrDuplicateAttestation),
		errors.Is(err, protocol.ErrEmptyBatch):
		return http.StatusConflict
	case errors.Is(err, protocol.ErrInvalidInput),
		errors.Is(err, protocol.ErrInvalidTransition):
		return http.StatusBadRequest
	case errors.Is(err, protocol.ErrUnknownValidator):
		return http.StatusForbidden
	case errors.Is(err, protocol.ErrAttestationTimeout):
		return http.StatusGone
	case errors.Is(err, protocol.ErrPaymentReplay),
		errors.Is(err, protocol.ErrPaymentUnverifiable),
		errors.Is(err, protocol.ErrNoMatchingOffer),
		errors.Is(err, protocol.ErrOfferExpired),
		errors.Is(err, protocol.ErrInsufficientPayment):
		return http.StatusPaymentRequired
	case errors.Is(err, protocol.ErrNotConfigured):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, lggr logger.SugaredLogger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		scope.AugmentLogger(c.Request.Context(), lggr).Errorw("Request failed",
			"path", c.FullPath(),
			"error", err)
		c.JSON(status, ErrorResponse{Success: false, Error: "An unexpected error occurred. Please try again later."})
		return
	}
	c.JSON(status, makeErrorResponse(err))
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Success: false, Error: err.Error()})
}
