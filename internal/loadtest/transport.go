package loadtest

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MaxResponseBody bounds how much of a response body is read for checks.
const MaxResponseBody = 1 << 20

// Response is what a check sees of an HTTP response.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Transport issues requests against the service under test. Implementations
// must be safe for concurrent use by many virtual users.
type Transport interface {
	Get(ctx context.Context, url string, headers map[string]string) (*Response, error)
	Post(ctx context.Context, url string, body []byte, headers map[string]string) (*Response, error)
}

// TransportError wraps a failure to obtain any response.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	// Timeout for HTTP requests
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// DisableKeepAlives disables HTTP keep-alives
	DisableKeepAlives bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool

	// UserAgent is sent with every request when set
	UserAgent string
}

// DefaultHTTPClientConfig returns sensible defaults for load testing.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     0, // Unlimited
		IdleConnTimeout:     90 * time.Second,
		UserAgent:           "merchload",
	}
}

// HTTPTransport is a Transport backed by one pooled http.Client shared by
// every virtual user.
type HTTPTransport struct {
	client    *http.Client
	userAgent string
}

// NewHTTPTransport creates a transport with the given client settings.
func NewHTTPTransport(cfg HTTPClientConfig) *HTTPTransport {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &HTTPTransport{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		userAgent: cfg.UserAgent,
	}
}

// Get issues a GET request.
func (t *HTTPTransport) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return t.do(ctx, http.MethodGet, url, nil, headers)
}

// Post issues a POST request with body.
func (t *HTTPTransport) Post(ctx context.Context, url string, body []byte, headers map[string]string) (*Response, error) {
	return t.do(ctx, http.MethodPost, url, body, headers)
}

func (t *HTTPTransport) do(ctx context.Context, method, url string, body []byte, headers map[string]string) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &TransportError{Method: method, URL: url, Err: err}
	}
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &TransportError{Method: method, URL: url, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBody))
	if err != nil {
		return nil, &TransportError{Method: method, URL: url, Err: fmt.Errorf("failed to read response body: %w", err)}
	}
	// Drain the remainder so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       data,
	}, nil
}

// CloseIdleConnections releases pooled connections.
func (t *HTTPTransport) CloseIdleConnections() {
	t.client.CloseIdleConnections()
}

// issue dispatches req through transport by method.
func issue(ctx context.Context, transport Transport, req *Request) (*Response, error) {
	switch req.Method {
	case http.MethodGet:
		return transport.Get(ctx, req.URL, req.Headers)
	case http.MethodPost:
		return transport.Post(ctx, req.URL, req.Body, req.Headers)
	default:
		return nil, &TransportError{Method: req.Method, URL: req.URL, Err: fmt.Errorf("unsupported method")}
	}
}
