// Package homeassistant implements the Home Assistant REST actuation client.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/hasta/internal/dispatch"
)

// MinTokenLength is the shortest token that does not trigger a warning.
// Long-lived Home Assistant tokens are usually well over 100 characters.
const MinTokenLength = 50

// DefaultTimeout is the per-request timeout when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// ErrTokenNotSet is returned when the token environment variable is empty.
var ErrTokenNotSet = errors.New("home assistant token not set")

// Config holds the client configuration.
type Config struct {
	// URL is any URL on the Home Assistant instance, typically the MCP SSE
	// endpoint. Only its scheme and host are used.
	URL        string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client calls Home Assistant services over its REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// LoadToken reads the access token from the environment variable envVar.
// The token value itself is never logged.
func LoadToken(envVar string, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	token := os.Getenv(envVar)
	if token == "" {
		return "", fmt.Errorf("%w: %s", ErrTokenNotSet, envVar)
	}
	if len(token) < MinTokenLength {
		logger.Warn("Token appears to be too short for a valid Home Assistant token", zap.String("env_var", envVar))
	}
	logger.Info("Token loaded", zap.String("env_var", envVar), zap.Int("length", len(token)))
	return token, nil
}

// BaseURL reduces rawURL to its scheme and host.
func BaseURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid home assistant url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid home assistant url %q: scheme and host required", rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	base, err := BaseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	cfg.Logger.Info("Home Assistant client initialized", zap.String("base_url", base))
	return &Client{
		baseURL: base,
		token:   cfg.Token,
		http:    httpClient,
		logger:  cfg.Logger,
	}, nil
}

// CallService calls domain.service on entityID with data merged into the
// request body. Every failure is reported in the returned Outcome.
func (c *Client) CallService(ctx context.Context, domain, service, entityID string, data map[string]any) dispatch.Outcome {
	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["entity_id"] = entityID

	body, err := json.Marshal(payload)
	if err != nil {
		return dispatch.Outcome{
			Error: fmt.Sprintf("failed to encode service data: %v", err),
			Kind:  dispatch.ErrorKindMalformed,
		}
	}

	endpoint := c.baseURL + "/api/services/" + url.PathEscape(domain) + "/" + url.PathEscape(service)
	c.logger.Info("Calling service",
		zap.String("service", domain+"."+service),
		zap.String("entity_id", entityID),
	)
	c.logger.Debug("Service payload", zap.ByteString("payload", body))

	resp, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("Service call failed",
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("response", respBody),
		)
		return dispatch.Outcome{
			Error:      fmt.Sprintf("Service call failed: HTTP %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
			Kind:       dispatch.ErrorKindStatus,
		}
	}

	return dispatch.Outcome{
		Success:    true,
		Message:    fmt.Sprintf("%s - %s executed successfully", entityID, service),
		StatusCode: resp.StatusCode,
	}
}

// TestConnection checks that the API answers with 200.
func (c *Client) TestConnection(ctx context.Context) bool {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/api/", nil)
	if err != nil {
		c.logger.Error("Connection test failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Failed to connect to Home Assistant", zap.Int("status_code", resp.StatusCode))
		return false
	}

	var info struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err == nil && info.Message != "" {
		c.logger.Info("Connected to Home Assistant", zap.String("message", info.Message))
	}
	return true
}

// State is an entity state as returned by /api/states.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
}

// GetState fetches the current state of entityID.
func (c *Client) GetState(ctx context.Context, entityID string) (*State, error) {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/api/states/"+url.PathEscape(entityID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get state for %s: %w", entityID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get state for %s: HTTP %d", entityID, resp.StatusCode)
	}

	var st State
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("failed to decode state for %s: %w", entityID, err)
	}
	return &st, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

func classify(err error) dispatch.Outcome {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return dispatch.Outcome{Error: "Service call timed out", Kind: dispatch.ErrorKindTimeout}
	}
	return dispatch.Outcome{Error: fmt.Sprintf("HTTP error: %v", err), Kind: dispatch.ErrorKindNetwork}
}
