package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/renderledger/internal/registry/model"
)

// Memory is an in-process implementation of the session, output and project
// repositories. It backs storage.driver=memory and the service tests.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
	outputs  []*model.Output
	projects map[string]*model.Project // owner + "\x00" + key
}

// NewMemory creates an empty Memory repository.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*model.Session),
		projects: make(map[string]*model.Project),
	}
}

// CreateSession stores a new in_progress session.
func (m *Memory) CreateSession(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Status = model.SessionInProgress
	s.CreatedAt = time.Now().UTC()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

// GetSession returns a copy of the session.
func (m *Memory) GetSession(_ context.Context, id string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// UpdateSessionStatus mirrors SessionRepository.UpdateSessionStatus.
func (m *Memory) UpdateSessionStatus(_ context.Context, id string, status model.SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status == model.SessionInvalid {
		return ErrStatusLocked
	}
	s.Status = status
	return nil
}

// CreateOutput stores a pending submission.
func (m *Memory) CreateOutput(_ context.Context, o *model.Output) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = uuid.New()
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	o.Status = model.OutputPending
	o.Custody = model.CustodyPending
	cp := *o
	m.outputs = append(m.outputs, &cp)
	return nil
}

// GetOutputBySession returns the latest submission for a session.
func (m *Memory) GetOutputBySession(_ context.Context, sessionID string) (*model.Output, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.outputs) - 1; i >= 0; i-- {
		if m.outputs[i].SessionID == sessionID {
			cp := *m.outputs[i]
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// UpdateOutputStatus records a verdict.
func (m *Memory) UpdateOutputStatus(_ context.Context, id uuid.UUID, status model.OutputStatus) error {
	return m.updateOutput(id, func(o *model.Output) { o.Status = status })
}

// UpdateOutputCustody records the artifact's storage area.
func (m *Memory) UpdateOutputCustody(_ context.Context, id uuid.UUID, custody model.CustodyState) error {
	return m.updateOutput(id, func(o *model.Output) { o.Custody = custody })
}

func (m *Memory) updateOutput(id uuid.UUID, fn func(*model.Output)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.outputs {
		if o.ID == id {
			fn(o)
			o.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) approvedRecord(o *model.Output) *model.ApprovedRecord {
	rec := &model.ApprovedRecord{
		OutputID:   o.ID,
		FinalHash:  o.FinalHash,
		SessionID:  o.SessionID,
		Filename:   o.Filename,
		ApprovedAt: o.UpdatedAt,
	}
	if s, ok := m.sessions[o.SessionID]; ok {
		rec.UserID = s.UserID
		rec.ProjectName = s.ProjectName
	}
	return rec
}

// published reports whether o is approved and settled in verified custody.
func published(o *model.Output) bool {
	return o.Status == model.OutputApproved && o.Custody == model.CustodyVerified
}

// FindApprovedByHash returns the earliest approved artifact with the hash.
func (m *Memory) FindApprovedByHash(_ context.Context, hash string) (*model.ApprovedRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.outputs {
		if published(o) && o.FinalHash == hash {
			return m.approvedRecord(o), nil
		}
	}
	return nil, ErrNotFound
}

// ListApprovedByUser returns a user's approved artifacts, newest first.
func (m *Memory) ListApprovedByUser(_ context.Context, userID string, limit, offset int) ([]*model.ApprovedRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.ApprovedRecord
	for i := len(m.outputs) - 1; i >= 0; i-- {
		o := m.outputs[i]
		if !published(o) {
			continue
		}
		if s, ok := m.sessions[o.SessionID]; !ok || s.UserID != userID {
			continue
		}
		out = append(out, m.approvedRecord(o))
	}
	return page(out, limit, offset), nil
}

// ListUnsettledOutputs returns decided outputs still in pending custody.
func (m *Memory) ListUnsettledOutputs(_ context.Context, limit int) ([]*model.Output, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Output
	for _, o := range m.outputs {
		if o.Status != model.OutputPending && o.Custody == model.CustodyPending {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return page(out, limit, 0), nil
}

// CreateProject stores a project, rejecting duplicate (owner, key) pairs.
func (m *Memory) CreateProject(_ context.Context, p *model.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := p.OwnerID + "\x00" + p.Key
	if _, ok := m.projects[k]; ok {
		return ErrProjectExists
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	if p.Tags == nil {
		p.Tags = []string{}
	}
	cp := *p
	cp.Tags = append([]string(nil), p.Tags...)
	m.projects[k] = &cp
	return nil
}

// GetProject returns the owner's project with the given key.
func (m *Memory) GetProject(_ context.Context, ownerID, key string) (*model.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[ownerID+"\x00"+key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	cp.Tags = append([]string(nil), p.Tags...)
	return &cp, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
