// Package api implements the submission/retrieval client for the render
// service: the HTTP create/get/trigger calls the delivery pipe depends
// on. Failures are classified (conflict, quota, transient, permanent) so
// the pipe's retry policy never inspects status codes itself.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/xraph/courier/middleware"
	"github.com/xraph/courier/wire"
)

// CreateRequest holds the parameters of one creation attempt.
type CreateRequest struct {
	// Inventory is the opaque creative payload.
	Inventory json.RawMessage

	// Render requests server-side rendering and completion tracking.
	Render bool

	// CorrelID is the client-generated correlation id the server uses
	// to deduplicate resubmissions.
	CorrelID string

	// SceneID and ActID are optional routing identifiers.
	SceneID string
	ActID   string

	// OnProgress, if set, receives upload progress in [0, 1].
	OnProgress func(float64)
}

// Client is the boundary contract the delivery pipe consumes.
type Client interface {
	// CreateExperience submits a new render job. Fails with a conflict
	// classification on correlation-id collision, quota on limit
	// exhaustion, and transient on retriable network failures.
	CreateExperience(ctx context.Context, req *CreateRequest) (*wire.Experience, error)

	// GetExperience retrieves an experience record by id.
	GetExperience(ctx context.Context, experienceID string) (*wire.Experience, error)

	// TriggerRender starts the server-side render for an existing
	// experience, forwarding the optional routing identifiers.
	TriggerRender(ctx context.Context, experienceID, sceneID, actID string) error
}

// HTTPClient is the default Client backed by net/http.
type HTTPClient struct {
	base   string
	token  string
	http   *http.Client
	logger *slog.Logger
	chain  middleware.Middleware
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient sets the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.http = hc }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *HTTPClient) { c.logger = logger }
}

// WithMiddleware sets the middleware applied around every call.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *HTTPClient) { c.chain = middleware.Chain(mws...) }
}

// NewHTTP creates an HTTP submission client for the given base URL and
// bearer token.
func NewHTTP(baseURL, token string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		base:   baseURL,
		token:  token,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.chain == nil {
		c.chain = middleware.Chain(middleware.Recover(c.logger), middleware.Logging(c.logger))
	}
	return c
}

// createBody is the wire shape of a creation request.
type createBody struct {
	Inventory     json.RawMessage `json:"inventory"`
	Render        bool            `json:"render"`
	CorrelationID string          `json:"correlation_id"`
	SceneID       string          `json:"scene_id,omitempty"`
	ActID         string          `json:"act_id,omitempty"`
}

// triggerBody is the wire shape of a stream-trigger request.
type triggerBody struct {
	SceneID string `json:"scene_id,omitempty"`
	ActID   string `json:"act_id,omitempty"`
}

// CreateExperience implements Client.
func (c *HTTPClient) CreateExperience(ctx context.Context, req *CreateRequest) (*wire.Experience, error) {
	body, err := json.Marshal(createBody{
		Inventory:     req.Inventory,
		Render:        req.Render,
		CorrelationID: req.CorrelID,
		SceneID:       req.SceneID,
		ActID:         req.ActID,
	})
	if err != nil {
		return nil, fmt.Errorf("api: marshal create body: %w", err)
	}

	var exp wire.Experience
	op := &middleware.Operation{Name: middleware.OpCreate, CorrelID: req.CorrelID}
	err = c.chain(ctx, op, func(ctx context.Context) error {
		var rd io.Reader = bytes.NewReader(body)
		if req.OnProgress != nil {
			rd = newProgressReader(rd, int64(len(body)), req.OnProgress)
		}
		return c.do(ctx, http.MethodPost, "/experience", rd, int64(len(body)), middleware.OpCreate, &exp)
	})
	if err != nil {
		return nil, err
	}
	return &exp, nil
}

// GetExperience implements Client.
func (c *HTTPClient) GetExperience(ctx context.Context, experienceID string) (*wire.Experience, error) {
	var exp wire.Experience
	op := &middleware.Operation{Name: middleware.OpGet, ExperienceID: experienceID}
	err := c.chain(ctx, op, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/experience/"+experienceID, nil, 0, middleware.OpGet, &exp)
	})
	if err != nil {
		return nil, err
	}
	return &exp, nil
}

// TriggerRender implements Client.
func (c *HTTPClient) TriggerRender(ctx context.Context, experienceID, sceneID, actID string) error {
	body, err := json.Marshal(triggerBody{SceneID: sceneID, ActID: actID})
	if err != nil {
		return fmt.Errorf("api: marshal trigger body: %w", err)
	}

	op := &middleware.Operation{Name: middleware.OpTrigger, ExperienceID: experienceID}
	return c.chain(ctx, op, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, "/experience/"+experienceID+"/trigger", bytes.NewReader(body), int64(len(body)), middleware.OpTrigger, nil)
	})
}

// do performs one HTTP round trip and decodes the response into out
// (when non-nil). Failures come back as classified *StatusError values.
func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader, contentLength int64, opName string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return &StatusError{Op: opName, Kind: KindPermanent, Err: err}
	}
	if body != nil {
		req.ContentLength = contentLength
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		// Never produced a response: retriable.
		return &StatusError{Op: opName, Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{
			Op:   opName,
			Kind: classify(resp.StatusCode),
			Code: resp.StatusCode,
			Body: string(bytes.TrimSpace(msg)),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &StatusError{Op: opName, Kind: KindPermanent, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}
