package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultTimeout = 60 * time.Second
	UploadTimeout  = 120 * time.Second
	HealthTimeout  = 5 * time.Second

	// maxResponseSize bounds how much of a provider response is buffered.
	maxResponseSize = 32 << 20
)

// Request describes one provider call. Body is a byte slice so the same
// request can be replayed by the retry engine.
type Request struct {
	// Op names the logical operation for logs and metrics (e.g. "ingest_file").
	Op          string
	Method      string
	Path        string
	Query       url.Values
	Body        []byte
	ContentType string
	Headers     map[string]string
	Timeout     time.Duration
}

// Response is a successful (2xx) provider response.
type Response struct {
	StatusCode int
	Body       []byte
}

// Observer receives one callback per completed provider call.
type Observer interface {
	ObserveCall(op string, status int, kind Kind, elapsed time.Duration)
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the pooled default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithObserver installs a call observer.
func WithObserver(o Observer) ClientOption {
	return func(c *Client) { c.observer = o }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// Client talks to the provider API. It is stateless per call and safe for
// concurrent use.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	observer   Observer
	logger     *slog.Logger
}

// NewClient creates a client for cfg. A missing API key is not an error here;
// it is reported by the first Send.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	c := &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: newHTTPClient(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the immutable provider configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Configured reports whether the client has credentials.
func (c *Client) Configured() bool {
	return c.cfg.Configured()
}

// Send performs a single provider call. Every failure is returned as a
// *GatewayError; non-2xx responses are failures.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := c.send(ctx, req)
	if c.observer != nil {
		status, kind := 0, Kind("")
		if resp != nil {
			status = resp.StatusCode
		}
		if ge := AsGatewayError(err); ge != nil {
			status, kind = ge.Status, ge.Kind
		}
		c.observer.ObserveCall(req.Op, status, kind, time.Since(start))
	}
	return resp, err
}

func (c *Client) send(ctx context.Context, req Request) (*Response, error) {
	if ge := c.cfg.Check(); ge != nil {
		return nil, ge
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(reqCtx, req.Method, target, body)
	if err != nil {
		return nil, NewConfigurationError(fmt.Sprintf("creating request: %v", err), err)
	}
	c.setHeaders(httpReq, req)

	c.logger.Debug("provider request", "op", req.Op, "method", req.Method, "path", req.Path)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(reqCtx, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, classifyTransportError(reqCtx, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, newHTTPError(httpResp.StatusCode, respBody)
	}
	return &Response{StatusCode: httpResp.StatusCode, Body: respBody}, nil
}

func (c *Client) setHeaders(httpReq *http.Request, req Request) {
	httpReq.Header.Set("Accept", "application/json")
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
}

// classifyTransportError maps a failed round trip to timeout or network.
func classifyTransportError(ctx context.Context, err error) *GatewayError {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &GatewayError{Kind: KindTimeout, Message: err.Error(), Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &GatewayError{Kind: KindTimeout, Message: err.Error(), Err: err}
	}
	return &GatewayError{Kind: KindNetwork, Message: err.Error(), Err: err}
}

// newHTTPClient builds a pooled client. Request deadlines come from the
// per-call context, so the client itself has no overall timeout.
func newHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport}
}
