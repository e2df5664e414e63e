package verify

import (
	"context"
	"testing"

	"github.com/jmerrifield20/renderledger/internal/canonical"
	"github.com/jmerrifield20/renderledger/internal/ledger"
	"github.com/jmerrifield20/renderledger/internal/registry/model"
	"github.com/jmerrifield20/renderledger/internal/registry/repository"
	"go.uber.org/zap"
)

// chain builds a valid chain from (kind, payload JSON) pairs.
func chain(t *testing.T, events ...[2]string) []*ledger.Entry {
	t.Helper()
	prev := ledger.SentinelHash
	var out []*ledger.Entry
	for i, ev := range events {
		v, err := canonical.Parse([]byte(ev[1]))
		if err != nil {
			t.Fatalf("parse %s: %v", ev[1], err)
		}
		payload, _ := canonical.Encode(v)
		ts := "2024-01-01T00:00:0" + string(rune('0'+i)) + "Z"
		e := &ledger.Entry{
			StreamID:  "s",
			Seq:       i,
			Kind:      ev[0],
			Payload:   string(payload),
			Timestamp: ts,
			PrevHash:  prev,
			Hash:      ledger.ComputeHash(prev, ts, payload),
		}
		out = append(out, e)
		prev = e.Hash
	}
	return out
}

func renderChain(t *testing.T, outputHash string) []*ledger.Entry {
	return chain(t,
		[2]string{"composition.create", `{"type":"composition.create","a":1}`},
		[2]string{"render.start", `{"type":"render.start"}`},
		[2]string{"render.finish", `{"type":"render.finish","output_hash":` + outputHash + `}`},
	)
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name    string
		status  model.SessionStatus
		entries func(t *testing.T) []*ledger.Entry
		final   string
		want    model.Reason
		index   int
	}{
		{
			name:    "verified",
			status:  model.SessionFinished,
			entries: func(t *testing.T) []*ledger.Entry { return renderChain(t, `"abc123"`) },
			final:   "abc123",
			want:    model.ReasonVerified,
			index:   -1,
		},
		{
			name:    "trimmed comparison",
			status:  model.SessionFinished,
			entries: func(t *testing.T) []*ledger.Entry { return renderChain(t, `" abc123 "`) },
			final:   "abc123\n",
			want:    model.ReasonVerified,
			index:   -1,
		},
		{
			name:    "invalid session short-circuits",
			status:  model.SessionInvalid,
			entries: func(t *testing.T) []*ledger.Entry { return renderChain(t, `"abc123"`) },
			final:   "abc123",
			want:    model.ReasonHashChainBroken,
			index:   -1,
		},
		{
			name:    "no events",
			status:  model.SessionFinished,
			entries: func(*testing.T) []*ledger.Entry { return nil },
			final:   "abc123",
			want:    model.ReasonNoEvents,
			index:   -1,
		},
		{
			name:   "missing render.start",
			status: model.SessionFinished,
			entries: func(t *testing.T) []*ledger.Entry {
				return chain(t,
					[2]string{"composition.create", `{"type":"composition.create"}`},
					[2]string{"render.finish", `{"type":"render.finish","output_hash":"abc123"}`},
				)
			},
			final: "abc123",
			want:  model.ReasonRenderSequenceMissing,
			index: -1,
		},
		{
			name:   "finish before start is accepted",
			status: model.SessionFinished,
			entries: func(t *testing.T) []*ledger.Entry {
				return chain(t,
					[2]string{"render.finish", `{"type":"render.finish","output_hash":"abc123"}`},
					[2]string{"render.start", `{"type":"render.start"}`},
				)
			},
			final: "abc123",
			want:  model.ReasonVerified,
			index: -1,
		},
		{
			name:    "missing output hash",
			status:  model.SessionFinished,
			entries: func(t *testing.T) []*ledger.Entry { return renderChain(t, `""`) },
			final:   "abc123",
			want:    model.ReasonRenderFinishMissingOutput,
			index:   -1,
		},
		{
			name:    "null output hash",
			status:  model.SessionFinished,
			entries: func(t *testing.T) []*ledger.Entry { return renderChain(t, `null`) },
			final:   "abc123",
			want:    model.ReasonRenderFinishMissingOutput,
			index:   -1,
		},
		{
			name:    "mismatch with log",
			status:  model.SessionFinished,
			entries: func(t *testing.T) []*ledger.Entry { return renderChain(t, `"abc123"`) },
			final:   "xyz999",
			want:    model.ReasonFinalHashMismatch,
			index:   -1,
		},
		{
			name:   "tampered payload",
			status: model.SessionFinished,
			entries: func(t *testing.T) []*ledger.Entry {
				es := renderChain(t, `"abc123"`)
				es[1].Payload = `{"type":"render.start","x":1}`
				return es
			},
			final: "abc123",
			want:  model.ReasonChainHashMismatch,
			index: 1,
		},
		{
			name:   "broken link",
			status: model.SessionFinished,
			entries: func(t *testing.T) []*ledger.Entry {
				es := renderChain(t, `"abc123"`)
				es[2].PrevHash = "deadbeef"
				return es
			},
			final: "abc123",
			want:  model.ReasonChainPrevMismatch,
			index: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Evaluate(tt.status, tt.entries(t), tt.final)
			if v.Reason != tt.want {
				t.Fatalf("reason = %q, want %q", v.Reason, tt.want)
			}
			if v.OK != (tt.want == model.ReasonVerified) {
				t.Errorf("ok = %v", v.OK)
			}
			if v.Index != tt.index {
				t.Errorf("index = %d, want %d", v.Index, tt.index)
			}
		})
	}
}

func TestEvaluate_firstFinishWins(t *testing.T) {
	es := chain(t,
		[2]string{"render.start", `{"type":"render.start"}`},
		[2]string{"render.finish", `{"type":"render.finish","output_hash":"first"}`},
		[2]string{"render.finish", `{"type":"render.finish","output_hash":"second"}`},
	)
	if v := Evaluate(model.SessionFinished, es, "second"); v.Reason != model.ReasonFinalHashMismatch {
		t.Errorf("reason = %q, want mismatch against first render.finish", v.Reason)
	}
}

func TestEngine_Verify(t *testing.T) {
	ctx := context.Background()
	sessions := repository.NewMemory()
	events := ledger.NewMemoryStore()
	engine := NewEngine(sessions, events, zap.NewNop())

	if v := engine.Verify(ctx, "missing", "abc"); v.Reason != model.ReasonSessionNotFound {
		t.Fatalf("unknown session: %q", v.Reason)
	}

	sessions.CreateSession(ctx, &model.Session{ID: "s"})
	for _, e := range renderChain(t, `"abc123"`) {
		if err := events.Append(ctx, e.PrevHash, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	first := engine.Verify(ctx, "s", "abc123")
	second := engine.Verify(ctx, "s", "abc123")
	if !first.OK || first != second {
		t.Errorf("verdicts differ or failed: %+v vs %+v", first, second)
	}
}
