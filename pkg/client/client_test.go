package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/renderledger/internal/custody"
	"github.com/jmerrifield20/renderledger/internal/identity"
	"github.com/jmerrifield20/renderledger/internal/ledger"
	"github.com/jmerrifield20/renderledger/internal/registry/handler"
	"github.com/jmerrifield20/renderledger/internal/registry/repository"
	"github.com/jmerrifield20/renderledger/internal/registry/service"
	"github.com/jmerrifield20/renderledger/internal/verify"
	"github.com/jmerrifield20/renderledger/pkg/client"
	"go.uber.org/zap"
)

type registry struct {
	srv    *httptest.Server
	tokens *identity.TokenVerifier
	events *ledger.MemoryStore
}

func newRegistry(t *testing.T) *registry {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	repo := repository.NewMemory()
	events := ledger.NewMemoryStore()
	cm, err := custody.NewManager(t.TempDir(), "", logger)
	if err != nil {
		t.Fatal(err)
	}
	tokens, _ := identity.NewTokenVerifier("client-test", "", time.Hour)

	sessions := service.NewSessionService(repo, repo, events, verify.NewEngine(repo, events, logger), cm, logger)
	projects := service.NewProjectService(repo, ledger.NewMemoryStore(), logger)

	sh := handler.NewSessionHandler(sessions, handler.Limits{}, logger)
	sh.SetTokenVerifier(tokens)

	r := gin.New()
	api := r.Group("/api")
	sh.Register(api)
	handler.NewProjectHandler(projects, tokens, 0, logger).Register(api)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &registry{srv: srv, tokens: tokens, events: events}
}

func TestSession_approvedRoundTrip(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()
	c := client.MustNew(reg.srv.URL + "/api")

	artifact := []byte("rendered frames")
	digest := ledger.Sum(artifact)

	sess, err := c.StartSession(ctx, "alice", "trailer")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if sess.Prev() != ledger.SentinelHash {
		t.Errorf("fresh session prev = %q", sess.Prev())
	}

	events := []any{
		map[string]any{"type": "composition.create", "name": "Main", "fps": 24},
		[]byte(`{"type":"render.start"}`),
		map[string]any{"type": "render.finish", "output_hash": digest},
	}
	for i, ev := range events {
		hash, err := sess.Append(ctx, "", ev)
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		if sess.Prev() != hash {
			t.Errorf("Append %d: tip not advanced", i)
		}
	}

	res, err := sess.Finish(ctx, artifact, "video/mp4")
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if !res.Approved || res.Reason != "verified" || res.File == "" {
		t.Errorf("Finish = %+v", res)
	}

	look, err := c.Check(ctx, " "+digest+" ")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !look.Registered || look.Record.SessionID != sess.ID {
		t.Errorf("Check = %+v", look)
	}

	look, err = c.CheckFile(ctx, "copy.mp4", artifact)
	if err != nil || !look.Registered {
		t.Errorf("CheckFile = %+v, %v", look, err)
	}

	detail, err := c.Inspect(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if detail.Session.Status != "approved" || len(detail.Events) != 3 {
		t.Errorf("Inspect = %+v", detail)
	}
	entries := make([]*ledger.Entry, len(detail.Events))
	for i, e := range detail.Events {
		entries[i] = e.Entry()
	}
	if err := ledger.Replay(entries); err != nil {
		t.Errorf("local replay: %v", err)
	}

	recs, err := c.MyApproved(ctx, "alice", 10, 0)
	if err != nil || len(recs) != 1 || recs[0].FinalHash != digest {
		t.Errorf("MyApproved = %+v, %v", recs, err)
	}
}

func TestSession_rejectedVerdictIsNotAnError(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()
	c := client.MustNew(reg.srv.URL + "/api")

	sess, _ := c.StartSession(ctx, "bob", "")
	sess.Append(ctx, "", map[string]any{"type": "render.start"})
	sess.Append(ctx, "", map[string]any{"type": "render.finish", "output_hash": "abc"})

	res, err := sess.FinishMultipart(ctx, "def", "", nil)
	if err != nil {
		t.Fatalf("FinishMultipart: %v", err)
	}
	if res.Approved || res.Status != "rejected" || res.Reason != "final_hash_mismatch_with_log" {
		t.Errorf("result = %+v", res)
	}
}

func TestSession_staleTip(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()
	c := client.MustNew(reg.srv.URL + "/api")

	sess, _ := c.StartSession(ctx, "", "")
	if _, err := sess.Append(ctx, "t0", map[string]any{"type": "a"}); err != nil {
		t.Fatal(err)
	}

	stale := c.Resume(sess.ID, ledger.SentinelHash)
	_, err := stale.Append(ctx, "t1", map[string]any{"type": "b"})
	if !client.IsCode(err, "prev_hash_mismatch") {
		t.Fatalf("expected prev_hash_mismatch, got %v", err)
	}
	if apiErr := err.(*client.APIError); apiErr.Field("expectedPrev") != sess.Prev() {
		t.Errorf("expectedPrev = %q, want %q", apiErr.Field("expectedPrev"), sess.Prev())
	}
	if stale.Prev() != ledger.SentinelHash {
		t.Error("rejected append moved the tip")
	}

	_, err = sess.Append(ctx, "t2", map[string]any{"type": "c"})
	if !client.IsCode(err, "session_invalid") {
		t.Errorf("expected session_invalid, got %v", err)
	}
}

func TestCheck_unregistered(t *testing.T) {
	reg := newRegistry(t)
	c := client.MustNew(reg.srv.URL + "/api")

	res, err := c.Check(context.Background(), "deadbeef")
	if err != nil {
		t.Fatal(err)
	}
	if res.Registered || res.Record != nil || res.Hash != "deadbeef" {
		t.Errorf("Check = %+v", res)
	}
}

func TestProjects(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	anon := client.MustNew(reg.srv.URL + "/api")
	err := anon.StartProject(ctx, client.StartProjectRequest{ProjectID: "poster", FileHash: "f00d"})
	if apiErr, ok := err.(*client.APIError); !ok || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}

	tok, _ := reg.tokens.Issue("carol", "")
	c := client.MustNew(reg.srv.URL+"/api", client.WithBearerToken(tok))

	if err := c.StartProject(ctx, client.StartProjectRequest{ProjectID: "poster", FileHash: "f00d", Tags: []string{"print"}}); err != nil {
		t.Fatalf("StartProject: %v", err)
	}
	err = c.StartProject(ctx, client.StartProjectRequest{ProjectID: "poster", FileHash: "f00d"})
	if !client.IsCode(err, "project_already_exists") {
		t.Errorf("duplicate: %v", err)
	}

	res, err := c.AppendAction(ctx, "poster", map[string]any{"op": "crop", "w": 1200})
	if err != nil {
		t.Fatalf("AppendAction: %v", err)
	}
	if res.EntryIndex != 1 || res.Hash == "" {
		t.Errorf("AppendAction = %+v", res)
	}

	logs, err := c.ProjectLogs(ctx, "poster")
	if err != nil || len(logs) != 2 || logs[1].Hash != res.Hash {
		t.Fatalf("ProjectLogs = %+v, %v", logs, err)
	}

	v, err := c.VerifyProject(ctx, "poster")
	if err != nil || !v.Valid || v.Count != 2 {
		t.Errorf("VerifyProject = %+v, %v", v, err)
	}

	_, err = c.VerifyProject(ctx, "missing")
	if !client.IsCode(err, "project_not_found") {
		t.Errorf("missing project: %v", err)
	}
}

func TestWithTimeout_rejectsNonPositive(t *testing.T) {
	if _, err := client.New("http://x", client.WithTimeout(0)); err == nil {
		t.Error("expected error for zero timeout")
	}
}
