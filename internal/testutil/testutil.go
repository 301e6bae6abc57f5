// Package testutil provides an HTTP client and assertion helpers for
// testing the storefront API end to end.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// Client is an HTTP client for exercising the API in tests.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Token      string
	t          *testing.T
}

// NewClient creates a client pointed at a test server.
func NewClient(t *testing.T, server *httptest.Server) *Client {
	return &Client{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		t:          t,
	}
}

// WithToken returns a copy of the client that sends a bearer token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.Token = token
	return &cp
}

// Response wraps an HTTP response with helper methods.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	t          *testing.T
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) {
	r.t.Helper()
	if err := json.Unmarshal(r.Body, v); err != nil {
		r.t.Fatalf("failed to unmarshal response: %v\nbody: %s", err, string(r.Body))
	}
}

// JSONMap returns the response body as a map.
func (r *Response) JSONMap() map[string]any {
	r.t.Helper()
	var m map[string]any
	r.JSON(&m)
	return m
}

// JSONList returns the response body as a list of objects.
func (r *Response) JSONList() []map[string]any {
	r.t.Helper()
	var l []map[string]any
	r.JSON(&l)
	return l
}

// AssertStatus asserts the response has the expected status code.
func (r *Response) AssertStatus(expected int) *Response {
	r.t.Helper()
	if r.StatusCode != expected {
		r.t.Errorf("expected status %d, got %d\nbody: %s", expected, r.StatusCode, string(r.Body))
	}
	return r
}

// AssertBodyContains asserts the response body contains the given substring.
func (r *Response) AssertBodyContains(substr string) *Response {
	r.t.Helper()
	if !strings.Contains(string(r.Body), substr) {
		r.t.Errorf("expected body to contain %q, got: %s", substr, string(r.Body))
	}
	return r
}

// AssertErrorType asserts the body is an error of the given type.
func (r *Response) AssertErrorType(errType string) *Response {
	r.t.Helper()
	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	r.JSON(&body)
	if body.Error.Type != errType {
		r.t.Errorf("expected error type %q, got %q\nbody: %s", errType, body.Error.Type, string(r.Body))
	}
	return r
}

// Get performs a GET request.
func (c *Client) Get(path string) *Response {
	c.t.Helper()
	return c.do(http.MethodGet, path, nil, nil)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(path string, body any) *Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, nil)
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(path string, body any) *Response {
	c.t.Helper()
	return c.do(http.MethodPut, path, body, nil)
}

// Patch performs a PATCH request with a JSON body.
func (c *Client) Patch(path string, body any) *Response {
	c.t.Helper()
	return c.do(http.MethodPatch, path, body, nil)
}

// Delete performs a DELETE request.
func (c *Client) Delete(path string) *Response {
	c.t.Helper()
	return c.do(http.MethodDelete, path, nil, nil)
}

// DoWithHeaders performs a request with custom headers.
func (c *Client) DoWithHeaders(method, path string, body any, headers map[string]string) *Response {
	c.t.Helper()
	return c.do(method, path, body, headers)
}

func (c *Client) do(method, path string, body any, headers map[string]string) *Response {
	c.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		var data []byte
		switch b := body.(type) {
		case []byte:
			data = b
		case string:
			data = []byte(b)
		default:
			var err error
			if data, err = json.Marshal(body); err != nil {
				c.t.Fatalf("failed to marshal body: %v", err)
			}
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bodyReader)
	if err != nil {
		c.t.Fatalf("failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.t.Fatalf("failed to read response: %v", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Headers:    resp.Header,
		t:          c.t,
	}
}

// Login posts password to the back-office login endpoint and returns a
// client that carries the issued token.
func (c *Client) Login(password string) *Client {
	c.t.Helper()
	resp := c.Post("/api/v1/admin/login", map[string]string{"password": password}).AssertStatus(http.StatusOK)
	var body struct {
		Token string `json:"token"`
	}
	resp.JSON(&body)
	if body.Token == "" {
		c.t.Fatalf("login returned no token: %s", string(resp.Body))
	}
	return c.WithToken(body.Token)
}

// OpsClient provides convenience methods for the /ops control plane.
type OpsClient struct {
	*Client
}

// NewOpsClient wraps an authenticated client.
func NewOpsClient(c *Client) *OpsClient {
	return &OpsClient{c}
}

// Reset calls POST /ops/reset.
func (oc *OpsClient) Reset() *Response {
	oc.t.Helper()
	return oc.Post("/ops/reset", nil)
}

// GetState calls GET /ops/state.
func (oc *OpsClient) GetState() *Response {
	oc.t.Helper()
	return oc.Get("/ops/state")
}

// LoadState calls POST /ops/state with the given state data.
func (oc *OpsClient) LoadState(state any) *Response {
	oc.t.Helper()
	return oc.Post("/ops/state", state)
}

// GetRequests calls GET /ops/requests.
func (oc *OpsClient) GetRequests() *Response {
	oc.t.Helper()
	return oc.Get("/ops/requests")
}

// PushDeliveries calls GET /ops/push/deliveries.
func (oc *OpsClient) PushDeliveries() *Response {
	oc.t.Helper()
	return oc.Get("/ops/push/deliveries")
}

// Health calls GET /ops/health.
func (oc *OpsClient) Health() *Response {
	oc.t.Helper()
	return oc.Get("/ops/health")
}
