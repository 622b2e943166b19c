package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gtzirun/cloud/internal/relay"
)

// Errors returned for the daemon's error statuses. They are the relay
// package's sentinels, so errors.Is works across the HTTP boundary.
var (
	ErrNotFound           = relay.ErrNotFound
	ErrAlreadyRunning     = relay.ErrAlreadyRunning
	ErrSpawnFailed        = relay.ErrSpawnFailed
	ErrInvalidDestination = relay.ErrInvalidDestination
	ErrClosed             = relay.ErrClosed
)

type (
	Stream       = relay.Stream
	StreamStatus = relay.StreamStatus
)

// Client talks to a relayd daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
	// TLS is used for https base URLs; nil means system roots.
	TLS *tls.Config
}

func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:5000",
		Timeout: 30 * time.Second,
	}
}

func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  newHTTPClient(config),
	}
}

func newHTTPClient(config Config) *http.Client {
	hc := &http.Client{Timeout: config.Timeout}
	if config.TLS != nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = config.TLS
		hc.Transport = tr
	}
	return hc
}

// TLSWithCA trusts the PEM certificates in caFile, e.g. the daemon's
// self-signed tls.crt.
func TLSWithCA(caFile string) (*tls.Config, error) {
	pemBytes, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// IsReachable checks the daemon's health endpoint.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// CreateStream requests a new stream key for clientID ("" for anonymous).
func (c *Client) CreateStream(ctx context.Context, clientID string) (Stream, error) {
	form := url.Values{}
	if clientID != "" {
		form.Set("client_id", clientID)
	}
	var out Stream
	err := c.postForm(ctx, "/generate_push_url", form, &out)
	return out, err
}

func (c *Client) ConfigureDestination(ctx context.Context, key, dest string) error {
	return c.postForm(ctx, "/configure_third_party", url.Values{"stream_key": {key}, "third_party_url": {dest}}, nil)
}

func (c *Client) StartStream(ctx context.Context, key string) error {
	return c.postForm(ctx, "/start_stream", url.Values{"stream_key": {key}}, nil)
}

func (c *Client) StopStream(ctx context.Context, key string) error {
	return c.postForm(ctx, "/stop_stream", url.Values{"stream_key": {key}}, nil)
}

func (c *Client) Status(ctx context.Context, key string) (StreamStatus, error) {
	var out struct {
		Stream StreamStatus `json:"stream"`
	}
	err := c.get(ctx, "/streams/"+url.PathEscape(key), &out)
	return out.Stream, err
}

func (c *Client) List(ctx context.Context) ([]StreamStatus, error) {
	var out struct {
		Streams []StreamStatus `json:"streams"`
	}
	err := c.get(ctx, "/streams", &out)
	return out.Streams, err
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var ar apiResponse
		_ = json.Unmarshal(body, &ar)
		return statusError(resp.StatusCode, ar.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func statusError(code int, msg string) error {
	if msg == "" {
		msg = http.StatusText(code)
	}
	switch code {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, msg)
	case http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", ErrClosed, msg)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidDestination, msg)
	case http.StatusInternalServerError:
		if msg == "failed to start relay" {
			return fmt.Errorf("%w: %s", ErrSpawnFailed, msg)
		}
	}
	return fmt.Errorf("relayd status %d: %s", code, msg)
}
