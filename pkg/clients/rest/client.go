// Package rest holds the HTTP adapters for the anchor service, the payment facilitator and the
// remote validator set.
package rest

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/resilience"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
)

func newClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
}

// errorBody is the error envelope the collaborators answer with.
type errorBody struct {
	Error string `json:"error"`
}

// checkResponse turns a transport failure or an unsuccessful status into an error. Client
// errors are definitive and marked permanent. Server errors and throttling stay retryable.
func checkResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsSuccess() {
		return nil
	}

	reason := resp.String()
	if body, ok := resp.Error().(*errorBody); ok && body.Error != "" {
		reason = body.Error
	}
	status := resp.StatusCode()
	switch {
	case status == http.StatusNotFound:
		return resilience.Permanent(fmt.Errorf("%w: %s returned 404: %s", protocol.ErrUnknownEntity, op, reason))
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return fmt.Errorf("%s returned %d: %s", op, status, reason)
	default:
		return resilience.Permanent(fmt.Errorf("%s returned %d: %s", op, status, reason))
	}
}
