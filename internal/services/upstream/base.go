// Package upstream holds the HTTP clients of the external collaborators: the
// price oracle and the investor registry.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"FundGuard/internal/domain/models"
	svcmetrics "FundGuard/internal/service/metrics"
	xhttp "FundGuard/pkg/http"
)

// HTTPServiceBase centralizes client construction, JSON requests, retries
// and call metrics for one upstream.
type HTTPServiceBase struct {
	name    string
	baseURL string
	client  *xhttp.Client
	metrics *svcmetrics.ClientMetrics
}

func NewHTTPServiceBase(name, baseURL string, timeout time.Duration, metrics *svcmetrics.ClientMetrics, opts ...xhttp.ClientOption) *HTTPServiceBase {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	opts = append([]xhttp.ClientOption{xhttp.WithTimeout(timeout)}, opts...)
	return &HTTPServiceBase{
		name:    name,
		baseURL: baseURL,
		client:  xhttp.NewClient(opts...),
		metrics: metrics,
	}
}

// GetJSON fetches path under baseURL and decodes JSON into dest. A 404 is
// reported as models.ErrNotFound.
func (b *HTTPServiceBase) GetJSON(ctx context.Context, path, endpoint string, dest interface{}) error {
	return b.do(ctx, xhttp.MethodGet, path, endpoint, nil, dest)
}

// PostJSON posts the given payload to path under baseURL and decodes JSON into dest.
func (b *HTTPServiceBase) PostJSON(ctx context.Context, path, endpoint string, payload, dest interface{}) error {
	return b.do(ctx, xhttp.MethodPost, path, endpoint, payload, dest)
}

func (b *HTTPServiceBase) do(ctx context.Context, method, path, endpoint string, payload, dest interface{}) error {
	if b.client == nil || b.baseURL == "" {
		return fmt.Errorf("%s http client not initialized", b.name)
	}
	start := time.Now()
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  method,
		URL:     b.baseURL + path,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    payload,
	}, dest)
	b.metrics.Observe(b.name, endpoint, start, err)
	if err != nil {
		var se *xhttp.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return fmt.Errorf("%s %s: %w", method, path, models.ErrNotFound)
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}

// GetJSONWithRetry retries transient failures up to attempts times. Not
// found and other 4xx answers are returned at once.
func (b *HTTPServiceBase) GetJSONWithRetry(ctx context.Context, path, endpoint string, dest interface{}, attempts int) error {
	var err error
	for i := 1; ; i++ {
		err = b.GetJSON(ctx, path, endpoint, dest)
		if err == nil || i >= attempts || !retryable(err) {
			return err
		}
		// simple backoff
		select {
		case <-time.After(time.Duration(i) * 50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func retryable(err error) bool {
	if errors.Is(err, models.ErrNotFound) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
