package admission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"admission/internal/models"
)

// statusError marks a 5xx response as a dependency failure while the
// response itself is still handed back to the caller.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream responded %d", e.code)
}

type breakerTransport struct {
	pipeline *Pipeline
	name     string
	base     http.RoundTripper
}

// Transport wraps base so every round trip goes through the circuit for
// name. Transport errors and 5xx responses count as failures. While the
// circuit is open a 503 response with Retry-After is synthesized without
// touching the network.
func (p *Pipeline) Transport(name string, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &breakerTransport{pipeline: p, name: name, base: base}
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := Call(req.Context(), t.pipeline, t.name, func(ctx context.Context) (*http.Response, error) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return resp, &statusError{code: resp.StatusCode}
		}
		return resp, nil
	}, func() *http.Response {
		return t.unavailable(req)
	})

	var se *statusError
	if errors.As(err, &se) {
		return resp, nil
	}
	return resp, err
}

func (t *breakerTransport) unavailable(req *http.Request) *http.Response {
	retryAfter := 1
	if status, ok := t.pipeline.breaker.Snapshot(t.name); ok && !status.RetryAt.IsZero() {
		retryAfter = retryAfterSeconds(status.RetryAt.Sub(t.pipeline.now()))
	}

	body, _ := json.Marshal(models.NewErrorResponse(
		fmt.Sprintf("Dependency %s is unavailable", t.name),
		models.ErrorCodeServiceUnavailable,
	).WithDetail("dependency", t.name))

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set("Retry-After", strconv.Itoa(retryAfter))

	return &http.Response{
		Status:        "503 Service Unavailable",
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
