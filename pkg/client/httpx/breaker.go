// Package httpx provides resilient outbound HTTP transports.
package httpx

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/abgdnv/storefront/pkg/config"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// upstreamFailure carries a 5xx response through the breaker so it is counted
// as a failure while the caller still receives the response.
type upstreamFailure struct {
	resp *http.Response
}

func (e *upstreamFailure) Error() string {
	return fmt.Sprintf("upstream responded with status %d", e.resp.StatusCode)
}

// BreakerTransport wraps an http.RoundTripper in a circuit breaker.
// Transport errors and 5xx responses count as failures; 4xx responses are business answers and do not.
type BreakerTransport struct {
	next http.RoundTripper
	cb   *gobreaker.CircuitBreaker[*http.Response]
}

// NewBreakerTransport creates a traced transport guarded by a breaker configured from cfg.
// A nil next uses http.DefaultTransport.
func NewBreakerTransport(cfg config.CircuitBreakerConfig, next http.RoundTripper) *BreakerTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	st := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures ||
				(counts.Requests > cfg.ConsecutiveFailures &&
					float64(counts.TotalFailures)/float64(counts.Requests)*100 > float64(cfg.ErrorRatePercent))
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	}
	return &BreakerTransport{
		next: otelhttp.NewTransport(next),
		cb:   gobreaker.NewCircuitBreaker[*http.Response](st),
	}
}

// RoundTrip executes the request inside the breaker. When the breaker is open the request
// is not sent and the returned error wraps gobreaker.ErrOpenState.
func (t *BreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.cb.Execute(func() (*http.Response, error) {
		resp, err := t.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, &upstreamFailure{resp: resp}
		}
		return resp, nil
	})
	var failure *upstreamFailure
	if errors.As(err, &failure) {
		return failure.resp, nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// State reports the current breaker state.
func (t *BreakerTransport) State() gobreaker.State {
	return t.cb.State()
}
