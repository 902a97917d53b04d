package connection

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/yndnr/cloudlock-go/internal/infra/buildinfo"
	"github.com/yndnr/cloudlock-go/internal/infra/tlsroots"
)

// DefaultTimeout bounds a request when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Options configures an HTTPClient.
type Options struct {
	Timeout time.Duration

	// CAFile is a PEM file or directory of trusted server CAs. Empty means
	// the system roots.
	CAFile string

	// Insecure disables server certificate verification.
	Insecure bool
}

// unixScheme prefixes the path of a server's local admin socket.
const unixScheme = "unix://"

// HTTPClient provides HTTP communication with the server.
type HTTPClient struct {
	baseURL   string
	label     string
	client    *http.Client
	userAgent string
}

// NewHTTPClient creates a client for server, given as host:port, URL or
// unix:///path/to/admin.sock.
func NewHTTPClient(server string, opts Options) (*HTTPClient, error) {
	server = strings.TrimSpace(server)
	baseURL := server
	if !strings.HasPrefix(server, unixScheme) {
		baseURL = strings.TrimRight(server, "/")
	}
	if baseURL == "" {
		return nil, errors.New("server address is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	label := baseURL
	switch {
	case strings.HasPrefix(baseURL, unixScheme):
		socket := strings.TrimPrefix(baseURL, unixScheme)
		if socket == "" {
			return nil, errors.New("unix server address needs a socket path")
		}
		transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socket)
		}
		transport.Proxy = nil
		baseURL = "http://localhost"
	case !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://"):
		baseURL = "http://" + baseURL
		label = baseURL
	}
	if opts.CAFile != "" || opts.Insecure {
		cfg := &tls.Config{MinVersion: tls.VersionTLS12}
		if opts.CAFile != "" {
			pool, err := tlsroots.LoadCA(opts.CAFile)
			if err != nil {
				return nil, fmt.Errorf("load ca: %w", err)
			}
			cfg = pool.TLSConfig()
		}
		cfg.InsecureSkipVerify = opts.Insecure
		transport.TLSClientConfig = cfg
	}

	return &HTTPClient{
		baseURL:   baseURL,
		label:     label,
		userAgent: buildinfo.UserAgent("cli"),
		client:    &http.Client{Timeout: opts.Timeout, Transport: transport},
	}, nil
}

// BaseURL returns the server address the client was created for.
func (c *HTTPClient) BaseURL() string {
	return c.label
}

// Get performs a GET request.
func (c *HTTPClient) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Put performs a PUT request with a JSON body.
func (c *HTTPClient) Put(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.Do(ctx, http.MethodPut, path, body)
}

// Post performs a POST request with a JSON body.
func (c *HTTPClient) Post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// Delete performs a DELETE request.
func (c *HTTPClient) Delete(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil)
}

// Do sends a request. A []byte or json.RawMessage body is sent as is, any
// other non-nil body is JSON encoded.
func (c *HTTPClient) Do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		r = bytes.NewReader(b)
	case json.RawMessage:
		r = bytes.NewReader(b)
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if r != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// APIError is an error document returned by the server.
type APIError struct {
	Status    int    `json:"-"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// ParseResponse closes resp and decodes its JSON body into target, which
// may be nil. A status of 400 or above yields an *APIError.
func ParseResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Code = ""
		}
		return apiErr
	}

	if target == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
