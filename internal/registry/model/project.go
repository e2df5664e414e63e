package model

import (
	"time"

	"github.com/google/uuid"
)

// Project is a long-lived, owner-scoped chain. Its first entry is a GENESIS
// record describing the work; later entries are server-hashed actions.
type Project struct {
	ID          uuid.UUID `json:"id"          db:"id"`
	OwnerID     string    `json:"user_id"     db:"owner_id"`
	Key         string    `json:"projectId"   db:"project_key"`
	Title       string    `json:"title"       db:"title"`
	Description string    `json:"description" db:"description"`
	Tags        []string  `json:"tags"        db:"tags"`
	CreatedAt   time.Time `json:"created_at"  db:"created_at"`
}

// GenesisKind is the event type of a project's first entry.
const GenesisKind = "GENESIS"

// StartProjectRequest is the payload for registering a work.
type StartProjectRequest struct {
	ProjectKey  string   `json:"projectId"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	FileHash    string   `json:"fileHash"`
}

// ProjectVerification is the result of replaying a project chain.
type ProjectVerification struct {
	ProjectKey string `json:"projectId"`
	Valid      bool   `json:"valid"`
	Count      int    `json:"count"`
	Error      string `json:"error,omitempty"`
}
