package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/renderledger/internal/canonical"
	"github.com/jmerrifield20/renderledger/internal/identity"
	"github.com/jmerrifield20/renderledger/internal/registry/model"
	"github.com/jmerrifield20/renderledger/internal/registry/service"
	"go.uber.org/zap"
)

// ProjectHandler serves the owner-scoped project ledger. Every route needs a
// bearer token; the owner is the token subject.
type ProjectHandler struct {
	svc      *service.ProjectService
	tokens   *identity.TokenVerifier
	maxBytes int64
	logger   *zap.Logger
}

// NewProjectHandler creates a new ProjectHandler.
func NewProjectHandler(svc *service.ProjectService, tokens *identity.TokenVerifier, maxBytes int64, logger *zap.Logger) *ProjectHandler {
	if maxBytes == 0 {
		maxBytes = DefaultMaxJSONBytes
	}
	return &ProjectHandler{svc: svc, tokens: tokens, maxBytes: maxBytes, logger: logger}
}

// Register mounts the project routes on the given router group.
func (h *ProjectHandler) Register(rg *gin.RouterGroup) {
	auth := identity.RequireUserToken(h.tokens)
	limit := BodyLimit(h.maxBytes)

	rg.POST("/project/start", auth, limit, h.StartProject)
	rg.POST("/log/append", auth, limit, h.AppendAction)
	rg.GET("/logs/:projectId", auth, h.Logs)
	rg.GET("/verify/:projectId", auth, h.Verify)
}

// StartProject handles POST /project/start.
func (h *ProjectHandler) StartProject(c *gin.Context) {
	var req model.StartProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, model.CodeProjectFieldsRequired)
		return
	}

	p, _, err := h.svc.StartProject(c.Request.Context(), identity.UserIDFromCtx(c), &req)
	if err != nil {
		writeError(c, h.logger, "start project", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "project created & genesis logged",
		"projectId": p.Key,
		"meta": gin.H{
			"title":       p.Title,
			"description": p.Description,
			"tags":        p.Tags,
		},
	})
}

type appendActionBody struct {
	ProjectID string          `json:"projectId"`
	Action    json.RawMessage `json:"action"`
}

// AppendAction handles POST /log/append.
func (h *ProjectHandler) AppendAction(c *gin.Context) {
	var body appendActionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, model.CodeActionFieldsRequired)
		return
	}
	var action canonical.Value
	if len(body.Action) > 0 {
		v, err := canonical.Parse(body.Action)
		if err != nil {
			badRequest(c, model.CodeActionFieldsRequired)
			return
		}
		action = v
	}

	entry, err := h.svc.AppendAction(c.Request.Context(), identity.UserIDFromCtx(c), body.ProjectID, action)
	if err != nil {
		writeError(c, h.logger, "append project action", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"projectId":  body.ProjectID,
		"entryIndex": entry.Seq,
		"hash":       entry.Hash,
	})
}

// Logs handles GET /logs/:projectId.
func (h *ProjectHandler) Logs(c *gin.Context) {
	key := c.Param("projectId")
	entries, err := h.svc.Logs(c.Request.Context(), identity.UserIDFromCtx(c), key)
	if err != nil {
		writeError(c, h.logger, "list project logs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projectId": key, "logs": entries})
}

// Verify handles GET /verify/:projectId.
func (h *ProjectHandler) Verify(c *gin.Context) {
	res, err := h.svc.Verify(c.Request.Context(), identity.UserIDFromCtx(c), c.Param("projectId"))
	if err != nil {
		writeError(c, h.logger, "verify project", err)
		return
	}
	if res.Count == 0 {
		c.JSON(http.StatusBadRequest, res)
		return
	}
	c.JSON(http.StatusOK, res)
}
