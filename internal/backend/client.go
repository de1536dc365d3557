// Package backend is the HTTP client for the commerce backend.
//
// Every method maps to one logical backend operation. Failures are returned as *APIError
// values that unwrap to the sentinel errors in internal/errors; the client never retries.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	sferrors "github.com/abgdnv/storefront/internal/errors"
	"github.com/sony/gobreaker/v2"
)

const idempotencyHeader = "Idempotency-Key"

// TokenSource supplies the bearer token of the current session. It is implemented by the auth collaborator.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// APIError is a non-success answer from the backend or a transport failure.
type APIError struct {
	Op      string
	Status  int
	Code    string
	Message string
	err     error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.Status)
}

func (e *APIError) Unwrap() error {
	return e.err
}

// errorBody is the backend's error envelope.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Client talks to the commerce backend over HTTP/JSON.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	tokens  TokenSource
	logger  *slog.Logger
}

// NewClient creates a backend client. httpClient carries timeouts and the circuit breaker;
// tokens may be nil for anonymous storefront sessions.
func NewClient(baseURL string, httpClient *http.Client, tokens TokenSource, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL '%s': %w", baseURL, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: u,
		http:    httpClient,
		tokens:  tokens,
		logger:  logger.With("component", "backend"),
	}, nil
}

type request struct {
	op             string
	method         string
	path           string
	query          url.Values
	body           any
	idempotencyKey string
}

// do sends req and decodes a 2xx JSON response into out (when out is not nil).
func (c *Client) do(ctx context.Context, req request, out any) error {
	target := c.baseURL.JoinPath(req.path)
	if len(req.query) > 0 {
		target.RawQuery = req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return &APIError{Op: req.op, err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target.String(), body)
	if err != nil {
		return &APIError{Op: req.op, err: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.idempotencyKey != "" {
		httpReq.Header.Set(idempotencyHeader, req.idempotencyKey)
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return &APIError{Op: req.op, err: fmt.Errorf("%w: %v", sferrors.ErrUnauthorized, err)}
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return &APIError{Op: req.op, err: ctx.Err()}
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &APIError{Op: req.op, err: fmt.Errorf("%w: circuit open", sferrors.ErrBackendUnavailable)}
		}
		return &APIError{Op: req.op, err: fmt.Errorf("%w: %v", sferrors.ErrBackendUnavailable, err)}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.toAPIError(ctx, req.op, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Op: req.op, Status: resp.StatusCode, err: fmt.Errorf("%w: decode response: %v", sferrors.ErrBackendUnavailable, err)}
	}
	return nil
}

// toAPIError maps a non-2xx response onto the error taxonomy.
func (c *Client) toAPIError(ctx context.Context, op string, resp *http.Response) error {
	var eb errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &eb); err != nil {
			eb.Error = strings.TrimSpace(string(raw))
		}
	}
	apiErr := &APIError{Op: op, Status: resp.StatusCode, Code: eb.Code, Message: eb.Error}
	switch {
	case eb.Code == "offer_expired" || resp.StatusCode == http.StatusGone:
		apiErr.err = sferrors.ErrOfferExpired
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		apiErr.err = sferrors.ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		apiErr.err = sferrors.ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		apiErr.err = sferrors.ErrConflict
	case resp.StatusCode >= http.StatusInternalServerError:
		apiErr.err = sferrors.ErrBackendUnavailable
	default:
		apiErr.err = sferrors.ErrBadRequest
	}
	c.logger.DebugContext(ctx, "Backend returned an error", "op", op, "status", resp.StatusCode, "code", eb.Code)
	return apiErr
}

// Healthy checks the backend health endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	return c.do(ctx, request{op: "health", method: http.MethodGet, path: "/healthz"}, nil)
}
