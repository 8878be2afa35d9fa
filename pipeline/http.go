package pipeline

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/xraph/mediaflow/executor"
)

// maxErrorBody caps how much of an error response is kept in messages.
const maxErrorBody = 512

// StatusError is a non-2xx response from a model service.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Service, e.StatusCode, e.Body)
}

// responseError classifies a failed call. Transport errors are left for
// executor.Classify. Timeouts, throttling and server errors are transient;
// other HTTP errors mean the request itself is wrong.
func responseError(service string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s request: %w", service, err)
	}
	if !resp.IsError() {
		return nil
	}

	body := strings.TrimSpace(resp.String())
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	serr := &StatusError{Service: service, StatusCode: resp.StatusCode(), Body: body}

	switch code := resp.StatusCode(); {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return executor.Transient(serr)
	default:
		return executor.Permanent(serr)
	}
}
