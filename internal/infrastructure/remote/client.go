// Package remote talks to the ERP backend REST API: it pages through the
// reference data the offline cache preloads and replays queued writes.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/erp/offline/internal/domain/offline"
	"github.com/erp/offline/internal/infrastructure/config"
	"go.uber.org/zap"
)

// maxPages bounds a paged fetch in case the backend keeps reporting more pages
const maxPages = 1000

// envelope is the response shape of the ERP backend
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Meta *struct {
		Total      int64 `json:"total"`
		Page       int   `json:"page"`
		PageSize   int   `json:"page_size"`
		TotalPages int   `json:"total_pages"`
	} `json:"meta"`
}

// Client is the HTTP client of the ERP backend
type Client struct {
	baseURL    *url.URL
	paths      map[offline.EntityType]string
	healthPath string
	pageSize   int
	tokens     *TokenSource
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient uses a copy of hc as the transport. The copy's timeout is
// overridden by remote.timeout unless the configured timeout is zero; hc
// itself is left untouched.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc == nil {
			return
		}
		copied := *hc
		c.httpClient = &copied
	}
}

// WithTokenSource shares a TokenSource between clients
func WithTokenSource(ts *TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

// NewClient creates a Client for cfg
func NewClient(cfg config.RemoteConfig, logger *zap.Logger, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid remote base URL %q", cfg.BaseURL)
	}

	c := &Client{
		baseURL: base,
		paths: map[offline.EntityType]string{
			offline.EntityTypeProvider: cfg.ProvidersPath,
			offline.EntityTypeClient:   cfg.ClientsPath,
		},
		healthPath: cfg.HealthPath,
		pageSize:   cfg.PageSize,
		httpClient: &http.Client{},
		logger:     logger.Named("remote"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tokens == nil {
		c.tokens = NewTokenSource(cfg.Token)
	}
	if cfg.Timeout > 0 {
		c.httpClient.Timeout = cfg.Timeout
	}
	if c.pageSize <= 0 {
		c.pageSize = 100
	}
	return c, nil
}

// FetchProviders downloads every provider
func (c *Client) FetchProviders(ctx context.Context) ([]offline.Provider, error) {
	return fetchAll[offline.Provider](ctx, c, offline.EntityTypeProvider)
}

// FetchClients downloads every client
func (c *Client) FetchClients(ctx context.Context) ([]offline.Client, error) {
	return fetchAll[offline.Client](ctx, c, offline.EntityTypeClient)
}

func fetchAll[T any](ctx context.Context, c *Client, entityType offline.EntityType) ([]T, error) {
	path := c.paths[entityType]
	var all []T
	for page := 1; page <= maxPages; page++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("page_size", strconv.Itoa(c.pageSize))

		env, err := c.do(ctx, http.MethodGet, path, query, nil, true)
		if err != nil {
			return nil, err
		}

		var items []T
		if len(env.Data) > 0 && string(env.Data) != "null" {
			if err := json.Unmarshal(env.Data, &items); err != nil {
				return nil, &offline.NetworkError{
					Endpoint:   path,
					StatusCode: http.StatusOK,
					Err:        fmt.Errorf("decode %s page %d: %w", entityType, page, err),
				}
			}
		}
		all = append(all, items...)

		if env.Meta == nil || page >= env.Meta.TotalPages || len(items) == 0 {
			break
		}
	}

	c.logger.Debug("Fetched reference data",
		zap.String("entity_type", string(entityType)),
		zap.Int("count", len(all)),
	)
	return all, nil
}

// Replay sends one pending operation to the backend.
// A rejected request is returned as *offline.NetworkError carrying the status code.
func (c *Client) Replay(ctx context.Context, op offline.PendingOperation) error {
	path, ok := c.paths[op.EntityType]
	if !ok {
		return fmt.Errorf("%w: %q", offline.ErrInvalidEntityType, op.EntityType)
	}

	var (
		method string
		body   []byte
	)
	switch op.OperationType {
	case offline.OperationCreate:
		method, body = http.MethodPost, op.Payload
	case offline.OperationUpdate:
		method, body = http.MethodPut, op.Payload
		path += "/" + url.PathEscape(op.EntityID)
	case offline.OperationDelete:
		method = http.MethodDelete
		path += "/" + url.PathEscape(op.EntityID)
	default:
		return fmt.Errorf("%w: %q", offline.ErrInvalidOperationType, op.OperationType)
	}

	_, err := c.do(ctx, method, path, nil, body, false)
	return err
}

// Health calls the backend health endpoint
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, c.healthPath, nil, nil, false)
	return err
}

// do sends one request. Any status >= 400 is a NetworkError; when expectEnvelope
// is set the body must also decode as the backend envelope.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, expectEnvelope bool) (*envelope, error) {
	endpoint := c.baseURL.JoinPath(path)
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}
	netErr := func(status int, err error) error {
		return &offline.NetworkError{Endpoint: method + " " + path, StatusCode: status, Err: err}
	}

	token, err := c.tokens.Token()
	if err != nil {
		return nil, netErr(0, err)
	}

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reqBody)
	if err != nil {
		return nil, netErr(0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, netErr(0, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, netErr(resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	c.logger.Debug("Backend request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	var env envelope
	var decodeErr error
	if len(respBody) > 0 {
		decodeErr = json.Unmarshal(respBody, &env)
	}

	if resp.StatusCode >= 400 {
		if decodeErr == nil && env.Error != nil && env.Error.Code != "" {
			return nil, netErr(resp.StatusCode, fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message))
		}
		return nil, netErr(resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
	}
	if !expectEnvelope {
		return &env, nil
	}
	if decodeErr != nil {
		return nil, netErr(resp.StatusCode, fmt.Errorf("decode response: %w", decodeErr))
	}
	if !env.Success && env.Error != nil {
		return nil, netErr(resp.StatusCode, fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message))
	}
	return &env, nil
}
