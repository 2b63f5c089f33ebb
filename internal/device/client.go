package device

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/lumina-control/backend/internal/storage/models"
)

// maxBodySize bounds how much of a status answer is read.
const maxBodySize = 64 << 10

// Resolver maps a host name to an address the HTTP client can dial.
type Resolver interface {
	Resolve(ctx context.Context, host string) (string, error)
}

// Client is the command channel to relay controllers.
// Deadlines come from the caller's context.
type Client struct {
	httpClient *http.Client
	resolver   Resolver
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithResolver resolves ".local" controller addresses before dialing.
func WithResolver(r Resolver) Option {
	return func(c *Client) { c.resolver = r }
}

// NewClient creates a new controller client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			// ESP8266 firmware serves a single connection at a time.
			Transport: &http.Transport{DisableKeepAlives: true},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status probes GET /status?key=<secret> and decodes the pin report.
func (c *Client) Status(ctx context.Context, ctrl models.Controller) (*StatusReport, error) {
	u, err := c.endpoint(ctx, ctrl, "/status", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProbeTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProbeTransport, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, ErrProbeTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrProbeTransport, unwrapURLError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, fmt.Errorf("%w: HTTP %d", ErrProbeTransport, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, ErrProbeTimeout
		}
		return nil, fmt.Errorf("%w: reading body: %v", ErrProbeTransport, err)
	}

	return DecodeStatus(body)
}

// Toggle sends GET /toggle?key=<secret>&pin=<pin>&state=on|off.
// Only transport-level success matters; the answer body is ignored.
func (c *Client) Toggle(ctx context.Context, ctrl models.Controller, pin int, on bool) error {
	params := url.Values{}
	params.Set("pin", strconv.Itoa(pin))
	params.Set("state", models.StateString(on))

	u, err := c.endpoint(ctx, ctrl, "/toggle", params)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCommandTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCommandTransport, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return fmt.Errorf("%w: timeout", ErrCommandTransport)
		}
		return fmt.Errorf("%w: %v", ErrCommandTransport, unwrapURLError(err))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: HTTP %d", ErrCommandTransport, resp.StatusCode)
	}
	return nil
}

// endpoint builds the request URL for a controller, resolving mDNS names when configured.
func (c *Client) endpoint(ctx context.Context, ctrl models.Controller, path string, params url.Values) (string, error) {
	host := strings.TrimSpace(ctrl.Address)
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimSuffix(host, "/")
	if host == "" {
		return "", fmt.Errorf("controller %s has no address", ctrl.ID)
	}

	if c.resolver != nil {
		name, port := host, ""
		if h, p, err := net.SplitHostPort(host); err == nil {
			name, port = h, p
		}
		if strings.HasSuffix(strings.ToLower(name), ".local") {
			ip, err := c.resolver.Resolve(ctx, name)
			if err != nil {
				return "", fmt.Errorf("resolving %s: %w", name, err)
			}
			host = ip
			if port != "" {
				host = net.JoinHostPort(ip, port)
			} else if strings.Contains(ip, ":") {
				host = "[" + ip + "]"
			}
		}
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("key", ctrl.SharedSecret)

	u := url.URL{Scheme: "http", Host: host, Path: path, RawQuery: params.Encode()}
	return u.String(), nil
}

// unwrapURLError drops the "Get <url>:" prefix so secrets in query strings never reach logs.
func unwrapURLError(err error) error {
	if ue, ok := err.(*url.Error); ok {
		return ue.Err
	}
	return err
}
