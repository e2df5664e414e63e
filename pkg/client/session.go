package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jmerrifield20/renderledger/internal/canonical"
	"github.com/jmerrifield20/renderledger/internal/ledger"
)

// TimestampLayout is the format Append uses when the caller supplies no
// timestamp.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Session is a client-side handle on an open capture session. It tracks the
// chain tip so each Append links to the previous accepted event. A Session
// is safe for concurrent use; appends are serialised.
type Session struct {
	c  *Client
	ID string

	mu   sync.Mutex
	prev string
}

// StartSession opens a capture session on the registry.
func (c *Client) StartSession(ctx context.Context, userID, projectName string) (*Session, error) {
	var res struct {
		SessionID string `json:"session_id"`
	}
	err := c.postJSON(ctx, "/log/start", map[string]string{
		"user_id":      userID,
		"project_name": projectName,
	}, &res)
	if err != nil {
		return nil, err
	}
	if res.SessionID == "" {
		return nil, fmt.Errorf("start session: empty session_id in response")
	}
	return c.Resume(res.SessionID, ledger.SentinelHash), nil
}

// Resume returns a handle for an existing session whose current tip hash is
// prev. Use ledger.SentinelHash for a session with no events.
func (c *Client) Resume(sessionID, prev string) *Session {
	return &Session{c: c, ID: sessionID, prev: prev}
}

// Prev returns the hash the next Append will link to.
func (s *Session) Prev() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prev
}

// Append canonicalises event, links it to the current tip and posts it.
// event may be JSON bytes (json.RawMessage or []byte), a canonical.Value,
// or a value built from maps, slices and scalars. An empty timestamp is
// replaced with the current UTC time. It returns the accepted entry hash.
//
// A rejected append leaves the tip unchanged; a prev_hash_mismatch or
// hash_mismatch rejection also means the server has invalidated the session.
func (s *Session) Append(ctx context.Context, timestamp string, event any) (string, error) {
	v, err := toValue(event)
	if err != nil {
		return "", fmt.Errorf("canonicalise event: %w", err)
	}
	payload, err := canonical.Encode(v)
	if err != nil {
		return "", fmt.Errorf("canonicalise event: %w", err)
	}
	if timestamp == "" {
		timestamp = s.c.now().UTC().Format(TimestampLayout)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hash := ledger.ComputeHash(s.prev, timestamp, payload)
	err = s.c.postJSON(ctx, "/log/event", map[string]any{
		"session_id": s.ID,
		"timestamp":  timestamp,
		"event":      json.RawMessage(payload),
		"prev_hash":  s.prev,
		"hash":       hash,
	}, nil)
	if err != nil {
		return "", err
	}
	s.prev = hash
	return hash, nil
}

func toValue(event any) (canonical.Value, error) {
	switch ev := event.(type) {
	case json.RawMessage:
		return canonical.Parse(ev)
	case []byte:
		return canonical.Parse(ev)
	default:
		return canonical.FromAny(ev)
	}
}

// FinishResult is the registry's verdict on a submitted artifact.
type FinishResult struct {
	Approved bool   `json:"ok"`
	Status   string `json:"status"`
	Reason   string `json:"reason"`
	File     string `json:"file,omitempty"`
}

// Finish submits the artifact bytes as a raw body. contentType drives the
// stored extension; leave it empty to let the server sniff the bytes.
func (s *Session) Finish(ctx context.Context, data []byte, contentType string) (*FinishResult, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req, err := s.c.newRequest(ctx, http.MethodPost, "/log/finish_raw/"+url.PathEscape(s.ID), contentType, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return s.c.finish(req)
}

// FinishMultipart submits a declared hash, an uploaded file, or both. With
// both, the server rejects the call if they disagree.
func (s *Session) FinishMultipart(ctx context.Context, declaredHash, filename string, data []byte) (*FinishResult, error) {
	fields := map[string]string{"session_id": s.ID}
	if declaredHash != "" {
		fields["final_hash"] = declaredHash
	}
	body, contentType, err := multipartBody(fields, "final_file", filename, data)
	if err != nil {
		return nil, err
	}
	req, err := s.c.newRequest(ctx, http.MethodPost, "/log/finish", contentType, body)
	if err != nil {
		return nil, err
	}
	return s.c.finish(req)
}

// finish treats a 400 carrying a verdict as a result rather than an error.
func (c *Client) finish(req *http.Request) (*FinishResult, error) {
	var res FinishResult
	body, err := c.do(req, &res)
	if err != nil {
		status, _ := body["status"].(string)
		if status == "" {
			return nil, err
		}
		reason, _ := body["reason"].(string)
		return &FinishResult{Status: status, Reason: reason}, nil
	}
	return &res, nil
}

// Event is one accepted ledger entry as returned by Inspect and the
// project log endpoints.
type Event struct {
	StreamID  string    `json:"stream_id"`
	Seq       int       `json:"sequence_index"`
	Kind      string    `json:"event_type"`
	Payload   string    `json:"event_json"`
	Timestamp string    `json:"timestamp"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

// Entry converts e back to a ledger entry so callers can replay a chain
// locally with ledger.Replay.
func (e Event) Entry() *ledger.Entry {
	return &ledger.Entry{
		StreamID:  e.StreamID,
		Seq:       e.Seq,
		Kind:      e.Kind,
		Payload:   e.Payload,
		Timestamp: e.Timestamp,
		PrevHash:  e.PrevHash,
		Hash:      e.Hash,
		CreatedAt: e.CreatedAt,
	}
}

// SessionDetail is the full record of a session.
type SessionDetail struct {
	Session struct {
		ID          string    `json:"session_id"`
		UserID      string    `json:"user_id"`
		ProjectName string    `json:"project_name"`
		Status      string    `json:"status"`
		CreatedAt   time.Time `json:"created_at"`
	} `json:"session"`
	Events []Event `json:"events"`
	Output *struct {
		ID        string `json:"id"`
		FinalHash string `json:"final_hash"`
		Filename  string `json:"final_filename,omitempty"`
		Status    string `json:"status"`
		Custody   string `json:"custody_state"`
	} `json:"output"`
}

// Inspect fetches a session with its events and latest output.
func (c *Client) Inspect(ctx context.Context, sessionID string) (*SessionDetail, error) {
	var res SessionDetail
	if err := c.getJSON(ctx, "/session/"+url.PathEscape(sessionID), &res); err != nil {
		return nil, err
	}
	return &res, nil
}
