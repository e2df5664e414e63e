// Package verify decides whether a session's ledger proves that it produced
// a given artifact.
package verify

import (
	"context"
	"errors"
	"strings"

	"github.com/jmerrifield20/renderledger/internal/canonical"
	"github.com/jmerrifield20/renderledger/internal/ledger"
	"github.com/jmerrifield20/renderledger/internal/registry/model"
	"github.com/jmerrifield20/renderledger/internal/registry/repository"
	"go.uber.org/zap"
)

// Event kinds the approval predicate looks for.
const (
	KindRenderStart  = "render.start"
	KindRenderFinish = "render.finish"
)

// outputHashField is the render.finish payload field that names the
// rendered file's digest.
const outputHashField = "output_hash"

// Verdict is the outcome of a verification.
type Verdict struct {
	OK     bool         `json:"ok"`
	Reason model.Reason `json:"reason"`
	// Index is the first divergent entry for chain failures, -1 otherwise.
	Index int `json:"index"`
}

func fail(reason model.Reason) Verdict {
	return Verdict{Reason: reason, Index: -1}
}

// SessionReader loads a session's recorded status.
// repository.SessionRepository and repository.Memory satisfy it.
type SessionReader interface {
	GetSession(ctx context.Context, id string) (*model.Session, error)
}

// Engine replays session ledgers and evaluates the approval predicate.
// It only reads; calling Verify repeatedly on unchanged inputs returns the
// same verdict.
type Engine struct {
	sessions SessionReader
	events   ledger.Store
	logger   *zap.Logger
}

// NewEngine creates an Engine.
func NewEngine(sessions SessionReader, events ledger.Store, logger *zap.Logger) *Engine {
	return &Engine{sessions: sessions, events: events, logger: logger}
}

// Verify checks the session's chain and its link to finalHash.
func (e *Engine) Verify(ctx context.Context, sessionID, finalHash string) Verdict {
	sess, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fail(model.ReasonSessionNotFound)
		}
		e.logger.Error("verify: load session", zap.String("session_id", sessionID), zap.Error(err))
		return fail(model.ReasonVerifyInternal)
	}

	entries, err := e.events.ReadAll(ctx, sessionID)
	if err != nil {
		e.logger.Error("verify: read ledger", zap.String("session_id", sessionID), zap.Error(err))
		return fail(model.ReasonVerifyInternal)
	}

	v := Evaluate(sess.Status, entries, finalHash)
	e.logger.Info("session verified",
		zap.String("session_id", sessionID),
		zap.Bool("ok", v.OK),
		zap.String("reason", string(v.Reason)),
		zap.Int("entries", len(entries)),
	)
	return v
}

// Evaluate applies the approval predicate to a status and an entry snapshot:
//
//  1. an invalid session fails with hash_chain_broken;
//  2. the chain must replay from the sentinel;
//  3. render.start and render.finish must both be present (order is not checked);
//  4. the first render.finish must carry a non-empty output_hash;
//  5. output_hash must equal finalHash after trimming.
func Evaluate(status model.SessionStatus, entries []*ledger.Entry, finalHash string) Verdict {
	if status == model.SessionInvalid {
		return fail(model.ReasonHashChainBroken)
	}

	if err := ledger.Replay(entries); err != nil {
		var chainErr *ledger.ChainError
		switch {
		case errors.Is(err, ledger.ErrEmpty):
			return fail(model.ReasonNoEvents)
		case errors.As(err, &chainErr) && errors.Is(err, ledger.ErrPrevMismatch):
			return Verdict{Reason: model.ReasonChainPrevMismatch, Index: chainErr.Index}
		case errors.As(err, &chainErr):
			return Verdict{Reason: model.ReasonChainHashMismatch, Index: chainErr.Index}
		default:
			return fail(model.ReasonVerifyInternal)
		}
	}

	var hasStart bool
	var finish *ledger.Entry
	for _, en := range entries {
		switch en.Kind {
		case KindRenderStart:
			hasStart = true
		case KindRenderFinish:
			if finish == nil {
				finish = en
			}
		}
	}
	if !hasStart || finish == nil {
		return fail(model.ReasonRenderSequenceMissing)
	}

	logged, ok := outputHash(finish)
	if !ok {
		return fail(model.ReasonRenderFinishMissingOutput)
	}
	if strings.TrimSpace(logged) != strings.TrimSpace(finalHash) {
		return fail(model.ReasonFinalHashMismatch)
	}
	return Verdict{OK: true, Reason: model.ReasonVerified, Index: -1}
}

// outputHash extracts output_hash from a render.finish payload. Empty
// strings, null, false and zero count as absent.
func outputHash(e *ledger.Entry) (string, bool) {
	payload, err := canonical.Parse([]byte(e.Payload))
	if err != nil {
		return "", false
	}
	obj, ok := payload.(canonical.Object)
	if !ok {
		return "", false
	}
	v, ok := obj.Get(outputHashField)
	if !ok || canonical.Empty(v) {
		return "", false
	}
	return canonical.Text(v), true
}
