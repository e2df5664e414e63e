package custody

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmerrifield20/renderledger/internal/registry/model"
	"github.com/jmerrifield20/renderledger/internal/registry/repository"
	"go.uber.org/zap"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), "", zap.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestStoreAndRelocate_exactlyOneArea(t *testing.T) {
	for _, to := range []model.CustodyState{model.CustodyVerified, model.CustodyRejected} {
		t.Run(string(to), func(t *testing.T) {
			m := newManager(t)
			name, err := m.Store("abc123", "mp4", []byte("video"))
			if err != nil {
				t.Fatalf("Store: %v", err)
			}
			if name != "abc123.mp4" {
				t.Fatalf("filename = %q", name)
			}
			if area, ok := m.Locate(name); !ok || area != model.CustodyPending {
				t.Fatalf("expected pending before verdict, got %q %v", area, ok)
			}

			if err := m.Relocate(name, to); err != nil {
				t.Fatalf("Relocate: %v", err)
			}

			found := 0
			for _, area := range []model.CustodyState{model.CustodyPending, model.CustodyVerified, model.CustodyRejected} {
				if _, err := os.Stat(filepath.Join(m.Dir(area), name)); err == nil {
					found++
					if area != to {
						t.Errorf("file found in %s, want %s", area, to)
					}
				}
			}
			if found != 1 {
				t.Errorf("file present in %d areas, want 1", found)
			}
		})
	}
}

func TestRelocate_noBytesIsNoop(t *testing.T) {
	m := newManager(t)
	if err := m.Relocate("", model.CustodyVerified); err != nil {
		t.Errorf("empty filename: %v", err)
	}
	if err := m.Relocate("missing.mp4", model.CustodyRejected); err != nil {
		t.Errorf("missing source: %v", err)
	}
}

func TestRelocate_rejectsBadInput(t *testing.T) {
	m := newManager(t)
	if err := m.Relocate("../escape.mp4", model.CustodyVerified); !errors.Is(err, ErrBadFilename) {
		t.Errorf("expected ErrBadFilename, got %v", err)
	}
	if err := m.Relocate("a.mp4", model.CustodyPending); err == nil {
		t.Error("expected error relocating to pending")
	}
}

func TestStore_leavesNoTempFiles(t *testing.T) {
	m := newManager(t)
	if _, err := m.Store("h", "bin", []byte{1, 2, 3}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	entries, _ := os.ReadDir(m.Dir(model.CustodyPending))
	if len(entries) != 1 || entries[0].Name() != "h.bin" {
		t.Errorf("pending dir = %v", entries)
	}
}

func TestPublicURL(t *testing.T) {
	m, err := NewManager(t.TempDir(), "https://ledger.example.com/", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if got := m.PublicURL("abc.mp4"); got != "https://ledger.example.com/uploads/verified/abc.mp4" {
		t.Errorf("PublicURL = %q", got)
	}
	if got := m.PublicURL(""); got != "" {
		t.Errorf("PublicURL(\"\") = %q, want empty", got)
	}
	if got := newManager(t).PublicURL("x.png"); got != "/uploads/verified/x.png" {
		t.Errorf("PublicURL without base = %q", got)
	}
}

func TestExtensionFor(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	tests := []struct {
		name        string
		contentType string
		data        []byte
		want        string
	}{
		{"declared mp4", "video/mp4", nil, "mp4"},
		{"declared with params", "image/png; charset=binary", nil, "png"},
		{"unknown declared type", "application/x-renderledger", nil, "mp4"},
		{"octet-stream sniffs bytes", "application/octet-stream", png, "png"},
		{"missing type sniffs bytes", "", png, "png"},
		{"nothing to go on", "", nil, "mp4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtensionFor(tt.contentType, tt.data); got != tt.want {
				t.Errorf("ExtensionFor(%q) = %q, want %q", tt.contentType, got, tt.want)
			}
		})
	}
}

func TestSweepOnce_settlesDecidedOutputs(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	repo := repository.NewMemory()

	approved := &model.Output{SessionID: "s1", FinalHash: "aaa"}
	rejected := &model.Output{SessionID: "s2", FinalHash: "bbb"}
	undecided := &model.Output{SessionID: "s3", FinalHash: "ccc"}
	for _, o := range []*model.Output{approved, rejected, undecided} {
		name, err := m.Store(o.FinalHash, "mp4", []byte(o.FinalHash))
		if err != nil {
			t.Fatal(err)
		}
		o.Filename = name
		repo.CreateOutput(ctx, o)
	}
	repo.UpdateOutputStatus(ctx, approved.ID, model.OutputApproved)
	repo.UpdateOutputStatus(ctx, rejected.ID, model.OutputRejected)

	var repaired []model.CustodyState
	s := NewSweeper(repo, m, SweepConfig{Concurrency: 1}, zap.NewNop())
	s.SetRepairRecord(func(to model.CustodyState, ok bool) {
		if ok {
			repaired = append(repaired, to)
		}
	})

	n, err := s.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if n != 2 || len(repaired) != 2 {
		t.Fatalf("settled %d (callbacks %d), want 2", n, len(repaired))
	}

	if area, _ := m.Locate("aaa.mp4"); area != model.CustodyVerified {
		t.Errorf("approved artifact in %q", area)
	}
	if area, _ := m.Locate("bbb.mp4"); area != model.CustodyRejected {
		t.Errorf("rejected artifact in %q", area)
	}
	if area, _ := m.Locate("ccc.mp4"); area != model.CustodyPending {
		t.Errorf("undecided artifact moved to %q", area)
	}

	again, err := s.SweepOnce(ctx)
	if err != nil || again != 0 {
		t.Errorf("second sweep settled %d (%v), want 0", again, err)
	}
}
