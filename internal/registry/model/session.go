package model

import (
	"time"

	"github.com/jmerrifield20/renderledger/internal/canonical"
	"github.com/jmerrifield20/renderledger/internal/ledger"
)

// SessionStatus is the lifecycle state of a capture session.
//
//	in_progress -> finished -> approved | rejected
//
// invalid is absorbing. Only in_progress sessions accept appends, so an
// append that fails an integrity check can only poison an in_progress session.
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionFinished   SessionStatus = "finished"
	SessionApproved   SessionStatus = "approved"
	SessionRejected   SessionStatus = "rejected"
	SessionInvalid    SessionStatus = "invalid"
)

// AcceptsEvents reports whether new ledger entries may be appended.
func (s SessionStatus) AcceptsEvents() bool {
	return s == SessionInProgress
}

// AcceptsSubmission reports whether an artifact may be submitted. An invalid
// session still accepts the submission so it is recorded, but it can only
// ever be rejected.
func (s SessionStatus) AcceptsSubmission() bool {
	return s == SessionInProgress || s == SessionFinished || s == SessionInvalid
}

// Session is a capture stream: one hash chain plus the artifact submitted
// at its end.
type Session struct {
	ID          string        `json:"session_id"   db:"session_id"`
	UserID      string        `json:"user_id"      db:"user_id"`
	ProjectName string        `json:"project_name" db:"project_name"`
	Status      SessionStatus `json:"status"       db:"status"`
	CreatedAt   time.Time     `json:"created_at"   db:"created_at"`
}

// StartSessionRequest is the payload for opening a capture session.
type StartSessionRequest struct {
	UserID      string `json:"user_id"`
	ProjectName string `json:"project_name"`
}

// AppendEventRequest carries one client-hashed event.
// PrevHash is a pointer so an absent field can be told apart from "".
type AppendEventRequest struct {
	SessionID string
	Timestamp string
	Event     canonical.Value
	PrevHash  *string
	Hash      string
}

// EventKind returns the event's "type" field, or "unknown".
func EventKind(event canonical.Value) string {
	if obj, ok := event.(canonical.Object); ok {
		if t, ok := obj.StringField("type"); ok && t != "" {
			return t
		}
	}
	return "unknown"
}

// SessionInspection is the debug view of a session.
type SessionInspection struct {
	Session *Session        `json:"session"`
	Events  []*ledger.Entry `json:"events"`
	Output  *Output         `json:"output"`
}
