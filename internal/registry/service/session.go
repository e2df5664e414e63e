package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/renderledger/internal/canonical"
	"github.com/jmerrifield20/renderledger/internal/custody"
	"github.com/jmerrifield20/renderledger/internal/ledger"
	"github.com/jmerrifield20/renderledger/internal/publisher"
	"github.com/jmerrifield20/renderledger/internal/registry/model"
	"github.com/jmerrifield20/renderledger/internal/registry/repository"
	"github.com/jmerrifield20/renderledger/internal/verify"
	"go.uber.org/zap"
)

// sessionRepo is the persistence interface for sessions.
// *repository.SessionRepository and *repository.Memory satisfy it.
type sessionRepo interface {
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	UpdateSessionStatus(ctx context.Context, id string, status model.SessionStatus) error
}

// outputRepo is the persistence interface for submitted artifacts.
// *repository.OutputRepository and *repository.Memory satisfy it.
type outputRepo interface {
	CreateOutput(ctx context.Context, o *model.Output) error
	GetOutputBySession(ctx context.Context, sessionID string) (*model.Output, error)
	UpdateOutputStatus(ctx context.Context, id uuid.UUID, status model.OutputStatus) error
	UpdateOutputCustody(ctx context.Context, id uuid.UUID, custody model.CustodyState) error
	FindApprovedByHash(ctx context.Context, hash string) (*model.ApprovedRecord, error)
	ListApprovedByUser(ctx context.Context, userID string, limit, offset int) ([]*model.ApprovedRecord, error)
}

// Verifier produces verdicts. *verify.Engine satisfies it.
type Verifier interface {
	Verify(ctx context.Context, sessionID, finalHash string) verify.Verdict
}

// Custodian stores and relocates artifact bytes. *custody.Manager satisfies it.
type Custodian interface {
	Store(hash, ext string, data []byte) (string, error)
	Relocate(filename string, to model.CustodyState) error
	PublicURL(filename string) string
}

// MetricsHooks are optional callbacks for recording service outcomes.
type MetricsHooks struct {
	Append   func(outcome string)
	Verdict  func(reason model.Reason)
	Relocate func(to model.CustodyState, ok bool)
}

const appendAccepted = "accepted"

// SessionService drives the capture-session lifecycle: it owns the ledger
// append checks, artifact submission and the verdict-to-custody mapping.
type SessionService struct {
	sessions       sessionRepo
	outputs        outputRepo
	events         ledger.Store
	locks          *ledger.Locker
	verifier       Verifier
	custody        Custodian
	publisher      publisher.Publisher // nil = no external mirror
	publishTimeout time.Duration
	hooks          MetricsHooks
	logger         *zap.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	sessions sessionRepo,
	outputs outputRepo,
	events ledger.Store,
	verifier Verifier,
	custodian Custodian,
	logger *zap.Logger,
) *SessionService {
	return &SessionService{
		sessions:       sessions,
		outputs:        outputs,
		events:         events,
		locks:          ledger.NewLocker(),
		verifier:       verifier,
		custody:        custodian,
		publishTimeout: 5 * time.Second,
		logger:         logger,
	}
}

// SetPublisher configures the approval mirror. timeout bounds each publish
// attempt; zero keeps the default.
func (s *SessionService) SetPublisher(p publisher.Publisher, timeout time.Duration) {
	s.publisher = p
	if timeout > 0 {
		s.publishTimeout = timeout
	}
}

// SetMetricsHooks configures the metrics callbacks.
func (s *SessionService) SetMetricsHooks(h MetricsHooks) {
	s.hooks = h
}

func (s *SessionService) recordAppend(outcome string) {
	if s.hooks.Append != nil {
		s.hooks.Append(outcome)
	}
}

// Start opens a new in_progress session.
func (s *SessionService) Start(ctx context.Context, req *model.StartSessionRequest) (*model.Session, error) {
	sess := &model.Session{
		ID:          strings.ReplaceAll(uuid.NewString(), "-", ""),
		UserID:      strings.TrimSpace(req.UserID),
		ProjectName: strings.TrimSpace(req.ProjectName),
	}
	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.logger.Info("session started",
		zap.String("session_id", sess.ID),
		zap.String("user_id", sess.UserID),
	)
	return sess, nil
}

// AppendEvent checks a client-hashed event against the chain tip and commits
// it. A prev_hash or hash mismatch rejects the event and permanently marks
// the session invalid.
func (s *SessionService) AppendEvent(ctx context.Context, req *model.AppendEventRequest) (*ledger.Entry, error) {
	if req.SessionID == "" || req.Timestamp == "" || canonical.Empty(req.Event) || req.PrevHash == nil || req.Hash == "" {
		return nil, &model.ErrValidation{Msg: model.CodeBadRequest}
	}

	unlock := s.locks.Lock(req.SessionID)
	defer unlock()

	sess, err := s.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.Reject(model.RejectNotFound, model.CodeSessionNotFound)
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	switch {
	case sess.Status == model.SessionInvalid:
		return nil, model.Reject(model.RejectConflict, model.CodeSessionInvalid)
	case !sess.Status.AcceptsEvents():
		return nil, model.Reject(model.RejectConflict, model.CodeSessionClosed)
	}

	tip, err := s.events.Tip(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("read chain tip: %w", err)
	}
	expectedPrev := ledger.TipHash(tip)
	if *req.PrevHash != expectedPrev {
		s.poison(ctx, req.SessionID, model.CodePrevHashMismatch)
		return nil, model.Reject(model.RejectIntegrity, model.CodePrevHashMismatch).With("expectedPrev", expectedPrev)
	}

	payload, err := canonical.Encode(req.Event)
	if err != nil {
		return nil, &model.ErrValidation{Msg: model.CodeBadRequest}
	}
	serverHash := ledger.ComputeHash(*req.PrevHash, req.Timestamp, payload)
	if serverHash != req.Hash {
		s.poison(ctx, req.SessionID, model.CodeHashMismatch)
		return nil, model.Reject(model.RejectIntegrity, model.CodeHashMismatch).With("serverHash", serverHash)
	}

	entry := &ledger.Entry{
		StreamID:  req.SessionID,
		Kind:      model.EventKind(req.Event),
		Payload:   string(payload),
		Timestamp: req.Timestamp,
		PrevHash:  *req.PrevHash,
		Hash:      serverHash,
	}
	if err := s.events.Append(ctx, expectedPrev, entry); err != nil {
		if errors.Is(err, ledger.ErrTipMoved) {
			// Another writer (a second registry process) committed first.
			s.poison(ctx, req.SessionID, model.CodePrevHashMismatch)
			rej := model.Reject(model.RejectIntegrity, model.CodePrevHashMismatch)
			if cur, err := s.events.Tip(ctx, req.SessionID); err == nil {
				rej = rej.With("expectedPrev", ledger.TipHash(cur))
			}
			return nil, rej
		}
		return nil, fmt.Errorf("append event: %w", err)
	}

	s.recordAppend(appendAccepted)
	s.logger.Debug("event appended",
		zap.String("session_id", entry.StreamID),
		zap.Int("seq", entry.Seq),
		zap.String("event_type", entry.Kind),
	)
	return entry, nil
}

// poison marks a session invalid after an integrity failure.
func (s *SessionService) poison(ctx context.Context, sessionID, code string) {
	s.recordAppend(code)
	err := s.sessions.UpdateSessionStatus(ctx, sessionID, model.SessionInvalid)
	if err != nil && !errors.Is(err, repository.ErrStatusLocked) {
		s.logger.Error("mark session invalid",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return
	}
	s.logger.Warn("session marked invalid",
		zap.String("session_id", sessionID),
		zap.String("reason", code),
	)
}

// Finish records an artifact submission, verifies the session against it,
// records the verdict and moves the artifact to the matching custody area.
// On approval the record is published after the session lock is released.
func (s *SessionService) Finish(ctx context.Context, req *model.FinishRequest) (*model.FinishResult, error) {
	if req.SessionID == "" {
		return nil, &model.ErrValidation{Msg: model.CodeSessionIDRequired}
	}

	declared := strings.TrimSpace(req.DeclaredHash)
	var fileHash string
	if req.Data != nil {
		fileHash = ledger.Sum(req.Data)
	}
	if declared != "" && fileHash != "" && declared != fileHash {
		return nil, &model.ErrValidation{Msg: model.CodeFinalHashConflict}
	}
	finalHash := declared
	if finalHash == "" {
		finalHash = fileHash
	}
	if finalHash == "" {
		return nil, &model.ErrValidation{Msg: model.CodeFinalHashOrFileRequired}
	}

	res, rec, err := s.finish(ctx, req, finalHash)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		s.publish(ctx, *rec)
	}
	return res, nil
}

func (s *SessionService) finish(ctx context.Context, req *model.FinishRequest, finalHash string) (*model.FinishResult, *publisher.ApprovalRecord, error) {
	unlock := s.locks.Lock(req.SessionID)
	defer unlock()

	sess, err := s.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, model.Reject(model.RejectNotFound, model.CodeSessionNotFound)
		}
		return nil, nil, fmt.Errorf("load session: %w", err)
	}
	if !sess.Status.AcceptsSubmission() {
		return nil, nil, model.Reject(model.RejectConflict, model.CodeSessionClosed)
	}

	var filename string
	if req.Data != nil {
		filename, err = s.custody.Store(finalHash, custody.ExtensionFor(req.ContentType, req.Data), req.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("store artifact: %w", err)
		}
	}

	out := &model.Output{SessionID: sess.ID, FinalHash: finalHash, Filename: filename}
	if err := s.outputs.CreateOutput(ctx, out); err != nil {
		return nil, nil, fmt.Errorf("record output: %w", err)
	}
	if err := s.setStatus(ctx, sess.ID, model.SessionFinished); err != nil {
		return nil, nil, err
	}

	verdict := s.verifier.Verify(ctx, sess.ID, finalHash)
	if s.hooks.Verdict != nil {
		s.hooks.Verdict(verdict.Reason)
	}

	outStatus, sessStatus := model.OutputRejected, model.SessionRejected
	if verdict.OK {
		outStatus, sessStatus = model.OutputApproved, model.SessionApproved
	}
	if err := s.outputs.UpdateOutputStatus(ctx, out.ID, outStatus); err != nil {
		return nil, nil, fmt.Errorf("record verdict: %w", err)
	}
	out.Status = outStatus
	if err := s.setStatus(ctx, sess.ID, sessStatus); err != nil {
		return nil, nil, err
	}

	relocated := s.settle(ctx, out)

	res := &model.FinishResult{Status: outStatus, Reason: verdict.Reason, Output: out}
	s.logger.Info("submission decided",
		zap.String("session_id", sess.ID),
		zap.String("final_hash", finalHash),
		zap.String("status", string(outStatus)),
		zap.String("reason", string(verdict.Reason)),
	)
	if !verdict.OK || !relocated {
		return res, nil, nil
	}

	res.FileURL = s.custody.PublicURL(filename)
	return res, &publisher.ApprovalRecord{
		FinalHash:   finalHash,
		SessionID:   sess.ID,
		UserID:      sess.UserID,
		ProjectName: sess.ProjectName,
		FileURL:     res.FileURL,
	}, nil
}

// setStatus updates the session status. An invalid session keeps its status.
func (s *SessionService) setStatus(ctx context.Context, id string, status model.SessionStatus) error {
	err := s.sessions.UpdateSessionStatus(ctx, id, status)
	if err != nil && !errors.Is(err, repository.ErrStatusLocked) {
		return fmt.Errorf("set session %s: %w", status, err)
	}
	return nil
}

// settle moves the artifact out of pending. A failure leaves custody_state
// pending for the recovery sweep.
func (s *SessionService) settle(ctx context.Context, out *model.Output) bool {
	to := model.CustodyFor(out.Status)
	err := s.custody.Relocate(out.Filename, to)
	if err == nil {
		err = s.outputs.UpdateOutputCustody(ctx, out.ID, to)
	}
	if s.hooks.Relocate != nil {
		s.hooks.Relocate(to, err == nil)
	}
	if err != nil {
		s.logger.Error("custody relocation failed; left for sweep",
			zap.String("output_id", out.ID.String()),
			zap.String("file", out.Filename),
			zap.String("to", string(to)),
			zap.Error(err),
		)
		return false
	}
	out.Custody = to
	return true
}

func (s *SessionService) publish(ctx context.Context, rec publisher.ApprovalRecord) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, rec); err != nil {
		s.logger.Warn("approval publish failed",
			zap.String("session_id", rec.SessionID),
			zap.String("final_hash", rec.FinalHash),
			zap.Error(err),
		)
	}
}

// Inspect returns a session with its full ledger and latest submission.
func (s *SessionService) Inspect(ctx context.Context, id string) (*model.SessionInspection, error) {
	sess, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.Reject(model.RejectNotFound, model.CodeSessionNotFound)
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	events, err := s.events.ReadAll(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if events == nil {
		events = []*ledger.Entry{}
	}
	out, err := s.outputs.GetOutputBySession(ctx, id)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load output: %w", err)
	}
	return &model.SessionInspection{Session: sess, Events: events, Output: out}, nil
}

// Lookup reports whether an approved artifact with hash exists.
func (s *SessionService) Lookup(ctx context.Context, hash string) (*model.LookupResult, error) {
	hash = strings.TrimSpace(hash)
	res := &model.LookupResult{Hash: hash}
	if hash == "" {
		return res, nil
	}
	rec, err := s.outputs.FindApprovedByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return res, nil
		}
		return nil, fmt.Errorf("find approved output: %w", err)
	}
	rec.FileURL = s.custody.PublicURL(rec.Filename)
	res.Registered = true
	res.Record = rec
	return res, nil
}

// LookupBytes hashes data and looks the digest up.
func (s *SessionService) LookupBytes(ctx context.Context, data []byte) (*model.LookupResult, error) {
	return s.Lookup(ctx, ledger.Sum(data))
}

// ListApprovedByUser lists an owner's approved artifacts, newest first.
func (s *SessionService) ListApprovedByUser(ctx context.Context, userID string, limit, offset int) ([]*model.ApprovedRecord, error) {
	if userID == "" {
		return nil, &model.ErrValidation{Msg: model.CodeUserIDRequired}
	}
	recs, err := s.outputs.ListApprovedByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list approved outputs: %w", err)
	}
	for _, r := range recs {
		r.FileURL = s.custody.PublicURL(r.Filename)
	}
	if recs == nil {
		recs = []*model.ApprovedRecord{}
	}
	return recs, nil
}
