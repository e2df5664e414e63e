// Package client provides the renderledger Go SDK for driving capture
// sessions, submitting artifacts and querying the registry.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// maxResponseBytes caps how much of a response body is read. Inspect and
// project log responses carry whole chains.
const maxResponseBytes = 8 << 20

// APIError is returned when the registry answers with a non-2xx status.
// Code is the stable rejection code from the body's "error" field, if any.
type APIError struct {
	StatusCode int
	Code       string
	Body       map[string]any
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("registry returned HTTP %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("registry returned HTTP %d", e.StatusCode)
}

// Field returns a string field from the error body, such as "expectedPrev"
// on a prev_hash_mismatch rejection.
func (e *APIError) Field(key string) string {
	s, _ := e.Body[key].(string)
	return s
}

// IsCode reports whether err is an *APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client is the renderledger SDK entry point.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
	now         func() time.Time
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a user token to every request. Project routes
// require one.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithTimeout replaces the default 30s request timeout. Large artifact
// uploads usually need more.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		c.httpClient.Timeout = d
		return nil
	}
}

// New creates a new Client for the registry API rooted at base, for example
// "http://localhost:4000/api".
//
//	c, err := client.New("http://localhost:4000/api",
//	    client.WithTimeout(5*time.Minute),
//	)
func New(base string, opts ...Option) (*Client, error) {
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// LookupResult is the answer to a registration lookup.
type LookupResult struct {
	Registered bool            `json:"registered"`
	Record     *ApprovedRecord `json:"record"`
	Hash       string          `json:"hash"`
}

// ApprovedRecord describes a verified artifact.
type ApprovedRecord struct {
	OutputID    string    `json:"id"`
	FinalHash   string    `json:"final_hash"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	ProjectName string    `json:"project_name"`
	Filename    string    `json:"final_filename,omitempty"`
	FileURL     string    `json:"file_url,omitempty"`
	ApprovedAt  time.Time `json:"approved_at"`
}

// Check looks up a SHA-256 hex digest in the approved registry.
func (c *Client) Check(ctx context.Context, hash string) (*LookupResult, error) {
	var res LookupResult
	if err := c.getJSON(ctx, "/check/"+url.PathEscape(strings.TrimSpace(hash)), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CheckFile uploads data and asks whether its digest is registered.
func (c *Client) CheckFile(ctx context.Context, filename string, data []byte) (*LookupResult, error) {
	body, contentType, err := multipartBody(nil, "file", filename, data)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/checkFile", contentType, body)
	if err != nil {
		return nil, err
	}
	var res LookupResult
	if _, err := c.do(req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// MyApproved lists approved artifacts for userID. An empty userID falls back
// to the bearer token's subject on the server.
func (c *Client) MyApproved(ctx context.Context, userID string, limit, offset int) ([]ApprovedRecord, error) {
	q := url.Values{}
	if userID != "" {
		q.Set("user_id", userID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/my/approved"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var res struct {
		Outputs []ApprovedRecord `json:"outputs"`
	}
	if err := c.getJSON(ctx, path, &res); err != nil {
		return nil, err
	}
	return res.Outputs, nil
}

func (c *Client) newRequest(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return err
	}
	_, err = c.do(req, out)
	return err
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	_, err = c.do(req, out)
	return err
}

// do executes req, attaching the bearer token if present, and decodes a 2xx
// body into out. Non-2xx responses become *APIError; the decoded body is
// also returned so callers can read structured rejections.
func (c *Client) do(req *http.Request, out any) (map[string]any, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(body, &apiErr.Body) == nil {
			apiErr.Code, _ = apiErr.Body["error"].(string)
		}
		return apiErr.Body, apiErr
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return nil, nil
}

func multipartBody(fields map[string]string, fileField, filename string, data []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if data != nil {
		if filename == "" {
			filename = "artifact"
		}
		fw, err := mw.CreateFormFile(fileField, filename)
		if err != nil {
			return nil, "", fmt.Errorf("create form file: %w", err)
		}
		if _, err := fw.Write(data); err != nil {
			return nil, "", fmt.Errorf("write form file: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}
