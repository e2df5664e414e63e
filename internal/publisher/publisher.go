// Package publisher mirrors approvals to an external record store.
//
// Publishing is best effort: the local ledger and custody state are
// authoritative, and callers log a failed Publish without undoing anything.
// No retries happen here.
package publisher

import (
	"context"

	"go.uber.org/zap"
)

// ApprovalRecord is the projection handed to the external registry once per
// approved artifact.
type ApprovalRecord struct {
	FinalHash   string `json:"final_hash"`
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id,omitempty"`
	ProjectName string `json:"project_name,omitempty"`
	FileURL     string `json:"file_url,omitempty"`
}

// Publisher delivers approval records.
type Publisher interface {
	Publish(ctx context.Context, rec ApprovalRecord) error
}

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// NoopPublisher logs approvals instead of delivering them.
// Use when no external registry is configured.
type NoopPublisher struct {
	logger *zap.Logger
}

// NewNoopPublisher creates a NoopPublisher backed by the given logger.
func NewNoopPublisher(logger *zap.Logger) *NoopPublisher {
	return &NoopPublisher{logger: logger}
}

// Publish logs the record and returns nil.
func (n *NoopPublisher) Publish(_ context.Context, rec ApprovalRecord) error {
	n.logger.Info("approval publish skipped (no external registry configured)",
		zap.String("final_hash", rec.FinalHash),
		zap.String("session_id", rec.SessionID),
	)
	return nil
}
