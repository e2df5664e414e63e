package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/renderledger/internal/canonical"
	"github.com/jmerrifield20/renderledger/internal/identity"
	"github.com/jmerrifield20/renderledger/internal/registry/model"
	"github.com/jmerrifield20/renderledger/internal/registry/service"
	"go.uber.org/zap"
)

// Default request body caps.
const (
	DefaultMaxJSONBytes int64 = 50 << 20
	DefaultMaxRawBytes  int64 = 2 << 30
)

// Limits caps request bodies per route class.
type Limits struct {
	MaxJSONBytes int64 // event and start payloads
	MaxRawBytes  int64 // artifact uploads
}

// SessionHandler serves the capture-session and public lookup endpoints.
type SessionHandler struct {
	svc    *service.SessionService
	tokens *identity.TokenVerifier // nil = /my/approved requires ?user_id=
	limits Limits
	logger *zap.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(svc *service.SessionService, limits Limits, logger *zap.Logger) *SessionHandler {
	if limits.MaxJSONBytes == 0 {
		limits.MaxJSONBytes = DefaultMaxJSONBytes
	}
	if limits.MaxRawBytes == 0 {
		limits.MaxRawBytes = DefaultMaxRawBytes
	}
	return &SessionHandler{svc: svc, limits: limits, logger: logger}
}

// SetTokenVerifier lets /my/approved default to the bearer token's subject.
func (h *SessionHandler) SetTokenVerifier(tokens *identity.TokenVerifier) {
	h.tokens = tokens
}

// Register mounts the session routes on the given router group.
func (h *SessionHandler) Register(rg *gin.RouterGroup) {
	jsonLimit := BodyLimit(h.limits.MaxJSONBytes)
	rawLimit := BodyLimit(h.limits.MaxRawBytes)

	log := rg.Group("/log")
	{
		log.POST("/start", jsonLimit, h.Start)
		log.POST("/event", jsonLimit, h.AppendEvent)
		log.POST("/finish", rawLimit, h.FinishMultipart)
		log.POST("/finish_raw", rawLimit, h.FinishRaw)
		log.POST("/finish_raw/:sid", rawLimit, h.FinishRaw)
	}

	rg.GET("/check/:hash", h.CheckHash)
	rg.POST("/checkFile", rawLimit, h.CheckFile)
	rg.GET("/my/approved", identity.OptionalUserToken(h.tokens), h.ListMyApproved)
	rg.GET("/session/:id", h.Inspect)
}

// Start handles POST /log/start. The body is optional.
func (h *SessionHandler) Start(c *gin.Context) {
	var req model.StartSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, model.CodeBadRequest)
			return
		}
	}

	sess, err := h.svc.Start(c.Request.Context(), &req)
	if err != nil {
		writeError(c, h.logger, "start session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "session_id": sess.ID})
}

type appendEventBody struct {
	SessionID string          `json:"session_id"`
	Timestamp string          `json:"timestamp"`
	Event     json.RawMessage `json:"event"`
	PrevHash  *string         `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

// AppendEvent handles POST /log/event.
func (h *SessionHandler) AppendEvent(c *gin.Context) {
	var body appendEventBody
	if err := c.ShouldBindJSON(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, h.logger, "append event", err)
			return
		}
		badRequest(c, model.CodeBadRequest)
		return
	}

	req := &model.AppendEventRequest{
		SessionID: strings.TrimSpace(body.SessionID),
		Timestamp: body.Timestamp,
		PrevHash:  body.PrevHash,
		Hash:      body.Hash,
	}
	if len(body.Event) > 0 {
		ev, err := canonical.Parse(body.Event)
		if err != nil {
			badRequest(c, model.CodeBadRequest)
			return
		}
		req.Event = ev
	}

	if _, err := h.svc.AppendEvent(c.Request.Context(), req); err != nil {
		writeError(c, h.logger, "append event", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// FinishMultipart handles POST /log/finish with form fields session_id,
// final_hash and an optional final_file upload.
func (h *SessionHandler) FinishMultipart(c *gin.Context) {
	req := &model.FinishRequest{
		SessionID:    strings.TrimSpace(c.PostForm("session_id")),
		DeclaredHash: c.PostForm("final_hash"),
	}

	file, header, err := c.Request.FormFile("final_file")
	switch {
	case err == nil:
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			writeError(c, h.logger, "read upload", err)
			return
		}
		req.Data = data
		req.ContentType = header.Header.Get("Content-Type")
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, h.logger, "read upload", err)
			return
		}
		badRequest(c, model.CodeBadRequest)
		return
	}

	h.finish(c, req)
}

// FinishRaw handles POST /log/finish_raw?session_id= and
// /log/finish_raw/:sid. The body is the artifact itself and its
// Content-Type drives the stored extension.
func (h *SessionHandler) FinishRaw(c *gin.Context) {
	sid := strings.TrimSpace(c.Query("session_id"))
	if sid == "" {
		sid = strings.TrimSpace(c.Param("sid"))
	}
	if sid == "" {
		badRequest(c, model.CodeSessionIDRequired)
		return
	}

	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, h.logger, "read artifact", err)
		return
	}
	if len(data) == 0 {
		badRequest(c, model.CodeBinaryBodyRequired)
		return
	}

	h.finish(c, &model.FinishRequest{
		SessionID:   sid,
		Data:        data,
		ContentType: c.GetHeader("Content-Type"),
	})
}

func (h *SessionHandler) finish(c *gin.Context, req *model.FinishRequest) {
	res, err := h.svc.Finish(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, "finish session", err)
		return
	}
	if res.Status != model.OutputApproved {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "status": res.Status, "reason": res.Reason})
		return
	}
	body := gin.H{"ok": true, "status": res.Status, "reason": res.Reason, "file": nil}
	if res.FileURL != "" {
		body["file"] = res.FileURL
	}
	c.JSON(http.StatusOK, body)
}

// CheckHash handles GET /check/:hash.
func (h *SessionHandler) CheckHash(c *gin.Context) {
	res, err := h.svc.Lookup(c.Request.Context(), c.Param("hash"))
	if err != nil {
		writeError(c, h.logger, "check hash", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// CheckFile handles POST /checkFile with a multipart "file" upload.
func (h *SessionHandler) CheckFile(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, h.logger, "check file", err)
			return
		}
		badRequest(c, "file_required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(c, h.logger, "check file", err)
		return
	}
	res, err := h.svc.LookupBytes(c.Request.Context(), data)
	if err != nil {
		writeError(c, h.logger, "check file", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListMyApproved handles GET /my/approved?user_id=. Without user_id the
// bearer token's subject is used.
func (h *SessionHandler) ListMyApproved(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		userID = identity.UserIDFromCtx(c)
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	recs, err := h.svc.ListApprovedByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		writeError(c, h.logger, "list approved", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "outputs": recs})
}

// Inspect handles GET /session/:id.
func (h *SessionHandler) Inspect(c *gin.Context) {
	res, err := h.svc.Inspect(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "inspect session", err)
		return
	}
	c.JSON(http.StatusOK, res)
}
