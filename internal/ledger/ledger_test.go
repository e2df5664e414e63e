package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jmerrifield20/renderledger/internal/ledger"
)

var ctx = context.Background()

// appendN builds a valid chain of n entries on stream sid.
func appendN(t *testing.T, s ledger.Store, sid string, n int) []*ledger.Entry {
	t.Helper()
	for i := 0; i < n; i++ {
		tip, err := s.Tip(ctx, sid)
		if err != nil {
			t.Fatal(err)
		}
		prev := ledger.TipHash(tip)
		payload := fmt.Sprintf(`{"i":%d,"type":"layer.add"}`, i)
		ts := fmt.Sprintf("2026-01-01T00:00:%02dZ", i)
		e := &ledger.Entry{
			StreamID:  sid,
			Kind:      "layer.add",
			Payload:   payload,
			Timestamp: ts,
			PrevHash:  prev,
			Hash:      ledger.ComputeHash(prev, ts, []byte(payload)),
		}
		if err := s.Append(ctx, prev, e); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	entries, err := s.ReadAll(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	return entries
}

func TestComputeHash_knownVector(t *testing.T) {
	// sha256("0|2026-01-01T00:00:00Z|{\"a\":1}")
	got := ledger.ComputeHash("0", "2026-01-01T00:00:00Z", []byte(`{"a":1}`))
	if got != ledger.Sum([]byte(`0|2026-01-01T00:00:00Z|{"a":1}`)) {
		t.Errorf("ComputeHash does not match the documented formula: %s", got)
	}
	if len(got) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(got))
	}
}

func TestComputeHash_timestampIsBound(t *testing.T) {
	a := ledger.ComputeHash("0", "2026-01-01T00:00:00Z", []byte(`{}`))
	b := ledger.ComputeHash("0", "2026-01-01T00:00:01Z", []byte(`{}`))
	if a == b {
		t.Error("different timestamps produced the same hash")
	}
}

func TestMemoryStore_appendChains(t *testing.T) {
	s := ledger.NewMemoryStore()
	entries := appendN(t, s, "s1", 3)

	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].PrevHash != ledger.SentinelHash {
		t.Errorf("genesis prev_hash = %q, want sentinel", entries[0].PrevHash)
	}
	for i, e := range entries {
		if e.Seq != i {
			t.Errorf("entry %d has seq %d", i, e.Seq)
		}
		if i > 0 && e.PrevHash != entries[i-1].Hash {
			t.Errorf("entry %d not linked to its predecessor", i)
		}
	}
	if err := ledger.Replay(entries); err != nil {
		t.Errorf("Replay on valid chain: %v", err)
	}
}

func TestMemoryStore_streamsAreIndependent(t *testing.T) {
	s := ledger.NewMemoryStore()
	appendN(t, s, "a", 2)
	appendN(t, s, "b", 1)

	tip, _ := s.Tip(ctx, "b")
	if tip.Seq != 0 {
		t.Errorf("stream b tip seq = %d, want 0", tip.Seq)
	}
	empty, _ := s.Tip(ctx, "c")
	if empty != nil {
		t.Errorf("expected nil tip for unknown stream, got %+v", empty)
	}
}

func TestMemoryStore_conditionalAppend(t *testing.T) {
	s := ledger.NewMemoryStore()
	appendN(t, s, "s1", 1)

	stale := &ledger.Entry{StreamID: "s1", Payload: `{}`, Timestamp: "t", PrevHash: ledger.SentinelHash}
	stale.Hash = stale.ComputeHash()
	if err := s.Append(ctx, ledger.SentinelHash, stale); !errors.Is(err, ledger.ErrTipMoved) {
		t.Fatalf("expected ErrTipMoved, got %v", err)
	}
	entries, _ := s.ReadAll(ctx, "s1")
	if len(entries) != 1 {
		t.Errorf("rejected append was written: %d entries", len(entries))
	}
}

func TestMemoryStore_concurrentAppendsSameTip(t *testing.T) {
	s := ledger.NewMemoryStore()
	appendN(t, s, "s1", 1)
	tip, _ := s.Tip(ctx, "s1")

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := &ledger.Entry{StreamID: "s1", Payload: fmt.Sprintf(`{"n":%d}`, i), Timestamp: "t", PrevHash: tip.Hash}
			e.Hash = e.ComputeHash()
			results <- s.Append(ctx, tip.Hash, e)
		}(i)
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ledger.ErrTipMoved):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("expected exactly one winner, got %d", ok)
	}
}

func TestMemoryStore_readAllIsSnapshot(t *testing.T) {
	s := ledger.NewMemoryStore()
	entries := appendN(t, s, "s1", 1)
	entries[0].Payload = "mutated"

	again, _ := s.ReadAll(ctx, "s1")
	if again[0].Payload == "mutated" {
		t.Error("ReadAll returned shared entry pointers")
	}
}

func TestReplay_empty(t *testing.T) {
	if err := ledger.Replay(nil); !errors.Is(err, ledger.ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
}

func TestReplay_tamperedPayloadFailsAtIndex(t *testing.T) {
	for idx := 0; idx < 4; idx++ {
		t.Run(fmt.Sprintf("index_%d", idx), func(t *testing.T) {
			s := ledger.NewMemoryStore()
			appendN(t, s, "s1", 4)
			if !s.Tamper("s1", idx, `{"i":99,"type":"layer.add"}`) {
				t.Fatal("tamper failed")
			}
			entries, _ := s.ReadAll(ctx, "s1")

			err := ledger.Replay(entries)
			var chainErr *ledger.ChainError
			if !errors.As(err, &chainErr) {
				t.Fatalf("expected ChainError, got %v", err)
			}
			if chainErr.Index != idx {
				t.Errorf("failure reported at %d, want %d", chainErr.Index, idx)
			}
			if !errors.Is(err, ledger.ErrHashMismatch) {
				t.Errorf("expected ErrHashMismatch, got %v", err)
			}
		})
	}
}

func TestReplay_brokenLink(t *testing.T) {
	s := ledger.NewMemoryStore()
	entries := appendN(t, s, "s1", 3)
	entries[2].PrevHash = entries[0].Hash
	entries[2].Hash = entries[2].ComputeHash()

	err := ledger.Replay(entries)
	if !errors.Is(err, ledger.ErrPrevMismatch) {
		t.Fatalf("expected ErrPrevMismatch, got %v", err)
	}
	var chainErr *ledger.ChainError
	if errors.As(err, &chainErr) && chainErr.Index != 2 {
		t.Errorf("failure reported at %d, want 2", chainErr.Index)
	}
}

func TestNewPostgresStore_rejectsUnknownTable(t *testing.T) {
	if _, err := ledger.NewPostgresStore(nil, ledger.Table("agents; DROP"), nil); err == nil {
		t.Error("expected error for unknown table")
	}
}
