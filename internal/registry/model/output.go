package model

import (
	"time"

	"github.com/google/uuid"
)

// OutputStatus is the verdict recorded for a submitted artifact.
type OutputStatus string

const (
	OutputPending  OutputStatus = "pending"
	OutputApproved OutputStatus = "approved"
	OutputRejected OutputStatus = "rejected"
)

// CustodyState names the storage area that holds an artifact's bytes.
type CustodyState string

const (
	CustodyPending  CustodyState = "pending"
	CustodyVerified CustodyState = "verified"
	CustodyRejected CustodyState = "rejected"
)

// CustodyFor maps a verdict to the area its artifact must end up in.
func CustodyFor(status OutputStatus) CustodyState {
	switch status {
	case OutputApproved:
		return CustodyVerified
	case OutputRejected:
		return CustodyRejected
	default:
		return CustodyPending
	}
}

// Output is an artifact submitted at the end of a session.
type Output struct {
	ID        uuid.UUID    `json:"id"                       db:"id"`
	SessionID string       `json:"session_id"               db:"session_id"`
	FinalHash string       `json:"final_hash"               db:"final_hash"`
	Filename  string       `json:"final_filename,omitempty" db:"final_filename"` // empty when only a hash was declared
	Status    OutputStatus `json:"status"                   db:"status"`
	Custody   CustodyState `json:"custody_state"            db:"custody_state"`
	CreatedAt time.Time    `json:"created_at"               db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"               db:"updated_at"`
}

// ApprovedRecord is the public projection of an approved artifact joined
// with its session metadata.
type ApprovedRecord struct {
	OutputID    uuid.UUID `json:"id"`
	FinalHash   string    `json:"final_hash"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	ProjectName string    `json:"project_name"`
	Filename    string    `json:"final_filename,omitempty"`
	FileURL     string    `json:"file_url,omitempty"`
	ApprovedAt  time.Time `json:"approved_at"`
}

// FinishRequest is an artifact submission. Data is nil when the caller only
// declares a hash; an empty non-nil Data is a zero-byte artifact.
type FinishRequest struct {
	SessionID    string
	DeclaredHash string
	Data         []byte
	ContentType  string
}

// FinishResult is the outcome of a submission.
type FinishResult struct {
	Status  OutputStatus `json:"status"`
	Reason  Reason       `json:"reason"`
	FileURL string       `json:"file,omitempty"`
	Output  *Output      `json:"-"`
}

// LookupResult answers a public hash check.
type LookupResult struct {
	Registered bool            `json:"registered"`
	Record     *ApprovedRecord `json:"record"`
	Hash       string          `json:"hash,omitempty"`
}
