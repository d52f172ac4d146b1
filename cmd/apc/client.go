// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package main

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	apcerr "github.com/apc-dev/apc/pkg/errors"
)

// defaultHTTPClient is the package-level HTTP client used for daemon probes.
// Overridden in tests via httptest.
var defaultHTTPClient = &http.Client{
	Timeout: 5 * time.Second,
}

// daemonHTTPClient reads the optional HTTP surface a daemon may expose next
// to its WebSocket endpoint.
type daemonHTTPClient struct {
	baseURL string
	http    *http.Client
}

// newDaemonHTTPClient creates a client targeting the given host:port address.
func newDaemonHTTPClient(addr string) *daemonHTTPClient {
	return &daemonHTTPClient{
		baseURL: "http://" + addr,
		http:    defaultHTTPClient,
	}
}

// getJSON performs a GET request and decodes the JSON response into dest.
// Connection refused maps to CodeCLIDaemonNotRunning.
func (c *daemonHTTPClient) getJSON(path string, dest any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		if isDialError(err) {
			return apcerr.New(apcerr.CodeCLIDaemonNotRunning, "daemon is not running (connection refused)")
		}
		return apcerr.Errorf(apcerr.CodeCLIRequestFailure, "request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apcerr.Errorf(apcerr.CodeCLIRequestFailure, "daemon returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return apcerr.Errorf(apcerr.CodeCLIRequestFailure, "invalid response: %w", err)
	}
	return nil
}

// isDialError returns true if err is a net dial error (connection refused, etc.).
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
