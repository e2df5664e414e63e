package model

import "fmt"

// Reason is a stable, machine-readable code surfaced to callers.
type Reason string

// Verification reasons.
const (
	ReasonVerified                  Reason = "verified"
	ReasonHashChainBroken           Reason = "hash_chain_broken"
	ReasonChainPrevMismatch         Reason = "chain_prev_mismatch"
	ReasonChainHashMismatch         Reason = "chain_hash_mismatch"
	ReasonNoEvents                  Reason = "no_events"
	ReasonRenderSequenceMissing     Reason = "render_sequence_missing"
	ReasonRenderFinishMissingOutput Reason = "render_finish_missing_output_hash"
	ReasonFinalHashMismatch         Reason = "final_hash_mismatch_with_log"
	ReasonSessionNotFound           Reason = "session_not_found"
	ReasonVerifyInternal            Reason = "verify_internal_error"
)

// Rejection codes for append, submission and project calls.
const (
	CodeBadRequest              = "bad_request"
	CodeSessionNotFound         = "session_not_found"
	CodePrevHashMismatch        = "prev_hash_mismatch"
	CodeHashMismatch            = "hash_mismatch"
	CodeSessionInvalid          = "session_invalid"
	CodeSessionClosed           = "session_closed"
	CodeSessionIDRequired       = "session_id_required"
	CodeFinalHashOrFileRequired = "final_hash_or_file_required"
	CodeFinalHashConflict       = "final_hash_conflicts_with_file"
	CodeBinaryBodyRequired      = "binary_body_required"
	CodeProjectFieldsRequired   = "projectId_and_fileHash_required"
	CodeActionFieldsRequired    = "projectId_and_action_required"
	CodeProjectNotFound         = "project_not_found"
	CodeProjectExists           = "project_already_exists"
	CodeGenesisMissing          = "genesis_missing"
	CodeUserIDRequired          = "user_id_required"
)

// ErrValidation is returned by service methods when the caller supplies invalid
// or missing input. Msg is the rejection code. No state has changed.
type ErrValidation struct{ Msg string }

func (e *ErrValidation) Error() string { return e.Msg }

// RejectKind classifies a rejection for transport mapping.
type RejectKind int

const (
	// RejectNotFound: the stream does not exist; no state change.
	RejectNotFound RejectKind = iota + 1
	// RejectIntegrity: a link check failed; the stream is now invalid.
	RejectIntegrity
	// RejectConflict: the stream's status forbids the operation.
	RejectConflict
)

// ErrRejected is a domain rejection carrying a stable code. Fields holds
// extra values the caller may use to resynchronise (for example the
// server's expected prev_hash).
type ErrRejected struct {
	Kind   RejectKind
	Code   string
	Fields map[string]string
}

func (e *ErrRejected) Error() string {
	return fmt.Sprintf("rejected: %s", e.Code)
}

// Reject builds an ErrRejected.
func Reject(kind RejectKind, code string) *ErrRejected {
	return &ErrRejected{Kind: kind, Code: code}
}

// With attaches a resynchronisation field and returns e.
func (e *ErrRejected) With(key, value string) *ErrRejected {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[key] = value
	return e
}
