// Package client talks to the status server of a running battprof.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrServerNotRunning is returned when nothing listens on the address.
	ErrServerNotRunning = errors.New("battprof status server not running")

	// ErrNotFound is returned when 404 is returned from the server
	ErrNotFound = errors.New("404 not found")
)

// Client is a struct for communicating with a battprof status server
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client for the server at addr, given as host:port or
// as a URL.
func NewClient(addr string) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	base = strings.TrimSuffix(base, "/")

	dialer := &net.Dialer{Timeout: 5 * time.Second}

	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
					conn, err := dialer.DialContext(ctx, network, address)
					if err != nil {
						if errors.Is(err, syscall.ECONNREFUSED) {
							return nil, ErrServerNotRunning
						}
						logrus.Errorf("failed to connect to %s: %v", address, err)
						return nil, err
					}
					return conn, nil
				},
			},
		},
	}
}

// BaseURL returns the server URL requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get sends a GET request and returns the response body.
func (c *Client) Get(ctx context.Context, path string) (string, error) {
	resp, err := c.do(ctx, path)
	if err != nil {
		return "", err
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.Errorf("failed to close response body: %v", err)
		}
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	return string(b), nil
}

// do sends a GET request and checks the status. The caller closes the body.
func (c *Client) do(ctx context.Context, path string) (*http.Response, error) {
	url := c.baseURL + path
	logrus.WithFields(logrus.Fields{
		"method": http.MethodGet,
		"url":    url,
	}).Debug("sending request")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, ErrServerNotRunning) {
			return nil, ErrServerNotRunning
		}
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("got %d: %s", resp.StatusCode, string(b))
	}

	return resp, nil
}
