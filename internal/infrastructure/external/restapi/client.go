// Package restapi implements the client for the remote student-records API.
//
// Every call maps a non-2xx status to *APIError and every transport failure
// to a network error. The client never retries; callers own retry policy.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/schooladmin/recordsync/internal/domain/records"
	"github.com/schooladmin/recordsync/internal/domain/shared"
	"github.com/schooladmin/recordsync/pkg/circuitbreaker"
	"github.com/schooladmin/recordsync/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Outcome labels passed to an Observer.
const (
	OutcomeOK               = "ok"
	OutcomeServerValidation = "server_validation"
	OutcomeNetwork          = "network"
)

// Observer receives one notification per remote call. Metrics implement it.
type Observer interface {
	ObserveRequest(op string, kind records.Kind, outcome string, d time.Duration)
}

// ClientConfig contains configuration for the records API client.
type ClientConfig struct {
	// BaseURL is the server root; resources live under BaseURL/api.
	BaseURL string

	// Timeout bounds each request.
	Timeout time.Duration

	// RateLimit in requests per second; zero disables limiting.
	RateLimit float64
	Burst     int

	// Breaker is optional; while open, calls fail fast with a network error.
	Breaker *circuitbreaker.CircuitBreaker

	Observer   Observer
	Logger     *logger.Logger
	HTTPClient *http.Client
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:   baseURL,
		Timeout:   15 * time.Second,
		RateLimit: 20,
		Burst:     5,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the records API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuitbreaker.CircuitBreaker
	observer   Observer
	logger     *logger.Logger
}

// NewClient creates a new records API client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		limiter:    limiter,
		breaker:    cfg.Breaker,
		observer:   cfg.Observer,
		logger:     cfg.Logger.With(logger.Component("restapi")),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// COLLECTION OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// List fetches the whole collection of a kind.
func (c *Client) List(ctx context.Context, kind records.Kind) ([]records.Record, error) {
	body, err := c.do(ctx, "list", kind, http.MethodGet, collectionPath(kind), nil, "")
	if err != nil {
		return nil, err
	}
	recs, err := records.DecodeRecords(bytes.NewReader(body))
	if err != nil {
		return nil, shared.WrapError("restapi", "List", shared.ErrNetwork,
			"unreadable "+kind.Label()+" list", err)
	}
	return recs, nil
}

// Get fetches one record.
func (c *Client) Get(ctx context.Context, kind records.Kind, id records.ID) (records.Record, error) {
	body, err := c.do(ctx, "get", kind, http.MethodGet, itemPath(kind, id), nil, "")
	if err != nil {
		return nil, err
	}
	return decodeOptional(body, "Get", kind)
}

// Create posts a new record. The created record is returned when the server
// echoes it, otherwise nil.
func (c *Client) Create(ctx context.Context, kind records.Kind, payload any) (records.Record, error) {
	return c.send(ctx, "create", kind, http.MethodPost, collectionPath(kind), payload)
}

// UpdatePartial sends only the changed fields with PATCH.
func (c *Client) UpdatePartial(ctx context.Context, kind records.Kind, id records.ID, patch records.Patch) (records.Record, error) {
	return c.send(ctx, "update_partial", kind, http.MethodPatch, itemPath(kind, id), patch)
}

// UpdateFull replaces the record with PUT.
func (c *Client) UpdateFull(ctx context.Context, kind records.Kind, id records.ID, payload any) (records.Record, error) {
	return c.send(ctx, "update_full", kind, http.MethodPut, itemPath(kind, id), payload)
}

// Delete removes a record.
func (c *Client) Delete(ctx context.Context, kind records.Kind, id records.ID) error {
	_, err := c.do(ctx, "delete", kind, http.MethodDelete, itemPath(kind, id), nil, "")
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT-SPECIFIC OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// CreateAggregate creates a student together with its addresses, contacts and
// enrollments in one server-side transaction.
func (c *Client) CreateAggregate(ctx context.Context, payload *records.PersonDraft) (records.Record, error) {
	return c.send(ctx, "create_aggregate", records.Person, http.MethodPost,
		collectionPath(records.Person)+"/aggregate", payload)
}

// UploadCSV streams a CSV file to the bulk import endpoint of a kind as the
// multipart field "file". It returns the server's confirmation text.
func (c *Client) UploadCSV(ctx context.Context, kind records.Kind, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", shared.WrapError("restapi", "UploadCSV", shared.ErrClientValidation, "cannot prepare upload", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", shared.WrapError("restapi", "UploadCSV", shared.ErrClientValidation, "cannot read "+filename, err)
	}
	if err := mw.Close(); err != nil {
		return "", shared.WrapError("restapi", "UploadCSV", shared.ErrClientValidation, "cannot prepare upload", err)
	}

	body, err := c.do(ctx, "upload_csv", kind, http.MethodPost, collectionPath(kind)+"/upload-csv", &buf, mw.FormDataContentType())
	if err != nil {
		return "", err
	}
	var msg struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &msg) == nil && msg.Message != "" {
		return msg.Message, nil
	}
	return strings.TrimSpace(string(body)), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// INTERNAL HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func collectionPath(kind records.Kind) string { return "/api/" + string(kind) }

func itemPath(kind records.Kind, id records.ID) string {
	return collectionPath(kind) + "/" + id.String()
}

func (c *Client) send(ctx context.Context, op string, kind records.Kind, method, path string, payload any) (records.Record, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, shared.WrapError("restapi", op, shared.ErrClientValidation, "cannot encode "+kind.Label(), err)
	}
	body, err := c.do(ctx, op, kind, method, path, bytes.NewReader(data), "application/json")
	if err != nil {
		return nil, err
	}
	return decodeOptional(body, op, kind)
}

// decodeOptional decodes an echoed record. Empty or non-object bodies are
// accepted as success without a record.
func decodeOptional(body []byte, op string, kind records.Kind) (records.Record, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, nil
	}
	rec, err := records.DecodeRecord(trimmed)
	if err != nil {
		return nil, shared.WrapError("restapi", op, shared.ErrNetwork, "unreadable "+kind.Label(), err)
	}
	return rec, nil
}

// do executes one request through the rate limiter and circuit breaker and
// returns the response body of a 2xx response.
func (c *Client) do(ctx context.Context, op string, kind records.Kind, method, path string, body io.Reader, contentType string) ([]byte, error) {
	start := time.Now()
	var respBody []byte

	call := func(ctx context.Context) error {
		var err error
		respBody, err = c.roundTrip(ctx, method, path, body, contentType)
		return err
	}

	var err error
	if c.limiter != nil {
		if werr := c.limiter.Wait(ctx); werr != nil {
			err = shared.WrapError("restapi", op, shared.ErrNetwork, "request not sent", werr)
		}
	}
	if err == nil {
		if c.breaker != nil {
			err = c.breaker.Execute(ctx, call)
			if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
				err = shared.WrapError("restapi", op, shared.ErrNetwork, "remote store unavailable, try again later", err)
			}
		} else {
			err = call(ctx)
		}
	}

	elapsed := time.Since(start)
	outcome := OutcomeOK
	switch {
	case err == nil:
	case shared.IsServerValidation(err):
		outcome = OutcomeServerValidation
	default:
		outcome = OutcomeNetwork
	}
	if c.observer != nil {
		c.observer.ObserveRequest(op, kind, outcome, elapsed)
	}
	if err != nil {
		c.logger.Debug("remote call failed",
			logger.Operation(op), logger.Kind(string(kind)),
			logger.String("method", method), logger.String("path", path),
			logger.Latency(elapsed), logger.Err(err))
		return nil, err
	}
	c.logger.Debug("remote call",
		logger.Operation(op), logger.Kind(string(kind)),
		logger.String("method", method), logger.String("path", path),
		logger.Latency(elapsed))
	return respBody, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, shared.WrapError("restapi", method, shared.ErrNetwork, "cannot build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, shared.WrapError("restapi", method, shared.ErrNetwork,
			fmt.Sprintf("cannot reach remote store (%s %s)", method, path), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, shared.WrapError("restapi", method, shared.ErrNetwork, "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
		var payload struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &payload) == nil {
			apiErr.Message = strings.TrimSpace(payload.Message)
		}
		return nil, apiErr
	}
	return respBody, nil
}
