package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmerrifield20/renderledger/internal/canonical"
	"github.com/jmerrifield20/renderledger/internal/ledger"
	"github.com/jmerrifield20/renderledger/internal/registry/model"
	"github.com/jmerrifield20/renderledger/internal/registry/repository"
	"go.uber.org/zap"
)

// projectTimestampLayout is ISO-8601 UTC with millisecond precision.
const projectTimestampLayout = "2006-01-02T15:04:05.000Z"

// appendAttempts bounds retries when another process moves a project tip.
// Project entries are hashed by the server, so a retry is always safe.
const appendAttempts = 3

// projectRepo is the persistence interface for projects.
// *repository.ProjectRepository and *repository.Memory satisfy it.
type projectRepo interface {
	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, ownerID, key string) (*model.Project, error)
}

// ProjectService manages owner-scoped project chains. Unlike sessions, the
// server timestamps and hashes every entry itself.
type ProjectService struct {
	projects projectRepo
	logs     ledger.Store
	locks    *ledger.Locker
	now      func() time.Time
	onAppend func(outcome string)
	logger   *zap.Logger
}

// NewProjectService creates a new ProjectService.
func NewProjectService(projects projectRepo, logs ledger.Store, logger *zap.Logger) *ProjectService {
	return &ProjectService{
		projects: projects,
		logs:     logs,
		locks:    ledger.NewLocker(),
		now:      time.Now,
		logger:   logger,
	}
}

// SetAppendRecord configures the metrics callback for committed entries.
func (s *ProjectService) SetAppendRecord(fn func(outcome string)) {
	s.onAppend = fn
}

// streamID keys a project's chain by its immutable row id.
func streamID(p *model.Project) string {
	return "project:" + p.ID.String()
}

func (s *ProjectService) timestamp() string {
	return s.now().UTC().Format(projectTimestampLayout)
}

// StartProject registers a work and writes its GENESIS entry. When the
// project exists but its chain is empty (a crash after the insert), the
// genesis entry is written instead of failing.
func (s *ProjectService) StartProject(ctx context.Context, ownerID string, req *model.StartProjectRequest) (*model.Project, *ledger.Entry, error) {
	if ownerID == "" {
		return nil, nil, &model.ErrValidation{Msg: model.CodeUserIDRequired}
	}
	req.ProjectKey = strings.TrimSpace(req.ProjectKey)
	req.FileHash = strings.TrimSpace(req.FileHash)
	if req.ProjectKey == "" || req.FileHash == "" {
		return nil, nil, &model.ErrValidation{Msg: model.CodeProjectFieldsRequired}
	}

	p := &model.Project{
		OwnerID:     ownerID,
		Key:         req.ProjectKey,
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
	}
	err := s.projects.CreateProject(ctx, p)
	switch {
	case errors.Is(err, repository.ErrProjectExists):
		existing, gerr := s.projects.GetProject(ctx, ownerID, req.ProjectKey)
		if gerr != nil {
			return nil, nil, fmt.Errorf("load project: %w", gerr)
		}
		tip, terr := s.logs.Tip(ctx, streamID(existing))
		if terr != nil {
			return nil, nil, fmt.Errorf("read project tip: %w", terr)
		}
		if tip != nil {
			return nil, nil, model.Reject(model.RejectConflict, model.CodeProjectExists)
		}
		s.logger.Warn("project has no genesis entry; writing it",
			zap.String("owner_id", ownerID),
			zap.String("project", req.ProjectKey),
		)
		p = existing
	case err != nil:
		return nil, nil, fmt.Errorf("create project: %w", err)
	}

	genesis := canonical.Object{
		"type":     canonical.String(model.GenesisKind),
		"fileHash": canonical.String(req.FileHash),
	}
	if req.Title != "" {
		genesis["title"] = canonical.String(req.Title)
	}
	if req.Description != "" {
		genesis["description"] = canonical.String(req.Description)
	}
	if req.Tags != nil {
		tags := make(canonical.Array, len(req.Tags))
		for i, t := range req.Tags {
			tags[i] = canonical.String(t)
		}
		genesis["tags"] = tags
	}

	unlock := s.locks.Lock(streamID(p))
	defer unlock()

	entry, err := s.commit(ctx, streamID(p), model.GenesisKind, genesis, true)
	if err != nil {
		if errors.Is(err, ledger.ErrTipMoved) {
			return nil, nil, model.Reject(model.RejectConflict, model.CodeProjectExists)
		}
		return nil, nil, err
	}

	s.logger.Info("project created",
		zap.String("owner_id", ownerID),
		zap.String("project", p.Key),
		zap.String("genesis_hash", entry.Hash),
	)
	return p, entry, nil
}

// AppendAction appends a server-hashed action to an existing project chain.
func (s *ProjectService) AppendAction(ctx context.Context, ownerID, key string, action canonical.Value) (*ledger.Entry, error) {
	key = strings.TrimSpace(key)
	if key == "" || canonical.Empty(action) {
		return nil, &model.ErrValidation{Msg: model.CodeActionFieldsRequired}
	}
	p, err := s.project(ctx, ownerID, key)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(streamID(p))
	defer unlock()

	return s.commit(ctx, streamID(p), model.EventKind(action), action, false)
}

// commit hashes payload against the current tip and appends it. genesis
// requires an empty chain; otherwise the chain must already have a genesis
// entry.
func (s *ProjectService) commit(ctx context.Context, stream, kind string, payload canonical.Value, genesis bool) (*ledger.Entry, error) {
	body, err := canonical.Encode(payload)
	if err != nil {
		return nil, &model.ErrValidation{Msg: model.CodeActionFieldsRequired}
	}

	for attempt := 1; ; attempt++ {
		tip, err := s.logs.Tip(ctx, stream)
		if err != nil {
			return nil, fmt.Errorf("read project tip: %w", err)
		}
		switch {
		case genesis && tip != nil:
			return nil, ledger.ErrTipMoved
		case !genesis && tip == nil:
			return nil, model.Reject(model.RejectConflict, model.CodeGenesisMissing)
		}

		prev := ledger.TipHash(tip)
		ts := s.timestamp()
		e := &ledger.Entry{
			StreamID:  stream,
			Kind:      kind,
			Payload:   string(body),
			Timestamp: ts,
			PrevHash:  prev,
			Hash:      ledger.ComputeHash(prev, ts, body),
		}
		err = s.logs.Append(ctx, prev, e)
		if err == nil {
			if s.onAppend != nil {
				s.onAppend(appendAccepted)
			}
			return e, nil
		}
		if !errors.Is(err, ledger.ErrTipMoved) || genesis || attempt == appendAttempts {
			return nil, fmt.Errorf("append project entry: %w", err)
		}
		s.logger.Debug("project tip moved; retrying", zap.String("stream", stream), zap.Int("attempt", attempt))
	}
}

func (s *ProjectService) project(ctx context.Context, ownerID, key string) (*model.Project, error) {
	if ownerID == "" {
		return nil, &model.ErrValidation{Msg: model.CodeUserIDRequired}
	}
	p, err := s.projects.GetProject(ctx, ownerID, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.Reject(model.RejectNotFound, model.CodeProjectNotFound)
		}
		return nil, fmt.Errorf("load project: %w", err)
	}
	return p, nil
}

// Logs returns the project's full chain.
func (s *ProjectService) Logs(ctx context.Context, ownerID, key string) ([]*ledger.Entry, error) {
	p, err := s.project(ctx, ownerID, key)
	if err != nil {
		return nil, err
	}
	entries, err := s.logs.ReadAll(ctx, streamID(p))
	if err != nil {
		return nil, fmt.Errorf("read project chain: %w", err)
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	return entries, nil
}

// Verify replays the project chain from the sentinel and checks that it
// starts with a GENESIS entry.
func (s *ProjectService) Verify(ctx context.Context, ownerID, key string) (*model.ProjectVerification, error) {
	entries, err := s.Logs(ctx, ownerID, key)
	if err != nil {
		return nil, err
	}
	res := &model.ProjectVerification{ProjectKey: key, Count: len(entries)}

	err = ledger.Replay(entries)
	switch {
	case errors.Is(err, ledger.ErrEmpty):
		res.Error = "no_logs"
	case err != nil:
		res.Error = err.Error()
		s.logger.Warn("project chain broken",
			zap.String("owner_id", ownerID),
			zap.String("project", key),
			zap.Error(err),
		)
	case entries[0].Kind != model.GenesisKind:
		res.Error = model.CodeGenesisMissing
	default:
		res.Valid = true
	}
	return res, nil
}
