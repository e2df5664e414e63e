package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/jmerrifield20/renderledger/internal/canonical"
)

// StartProjectRequest is the payload for StartProject.
type StartProjectRequest struct {
	ProjectID   string   `json:"projectId"`
	FileHash    string   `json:"fileHash"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// AppendResult describes an accepted project action.
type AppendResult struct {
	ProjectID  string `json:"projectId"`
	EntryIndex int    `json:"entryIndex"`
	Hash       string `json:"hash"`
}

// ProjectVerification is the outcome of a project chain replay.
type ProjectVerification struct {
	ProjectID string `json:"projectId"`
	Valid     bool   `json:"valid"`
	Count     int    `json:"count"`
	Error     string `json:"error,omitempty"`
}

// StartProject registers a project and its genesis entry. Requires a bearer
// token.
func (c *Client) StartProject(ctx context.Context, req StartProjectRequest) error {
	return c.postJSON(ctx, "/project/start", req, nil)
}

// AppendAction records action on the caller's project. action is any
// JSON-compatible value; a plain string is the common case.
func (c *Client) AppendAction(ctx context.Context, projectID string, action any) (*AppendResult, error) {
	v, err := toValue(action)
	if err != nil {
		return nil, fmt.Errorf("canonicalise action: %w", err)
	}
	payload, err := canonical.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalise action: %w", err)
	}

	var res AppendResult
	err = c.postJSON(ctx, "/log/append", map[string]any{
		"projectId": projectID,
		"action":    json.RawMessage(payload),
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ProjectLogs returns the project's chain in order.
func (c *Client) ProjectLogs(ctx context.Context, projectID string) ([]Event, error) {
	var res struct {
		Logs []Event `json:"logs"`
	}
	if err := c.getJSON(ctx, "/logs/"+url.PathEscape(projectID), &res); err != nil {
		return nil, err
	}
	return res.Logs, nil
}

// VerifyProject asks the server to replay the project chain. A project with
// no entries yields an *APIError with code "no_logs".
func (c *Client) VerifyProject(ctx context.Context, projectID string) (*ProjectVerification, error) {
	var res ProjectVerification
	if err := c.getJSON(ctx, "/verify/"+url.PathEscape(projectID), &res); err != nil {
		return nil, err
	}
	return &res, nil
}
