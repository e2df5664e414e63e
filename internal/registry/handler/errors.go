package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/renderledger/internal/registry/model"
	"go.uber.org/zap"
)

// writeError maps a service error onto a JSON response:
//
//	*model.ErrValidation          -> 400
//	*model.ErrRejected (not found) -> 404
//	*model.ErrRejected (integrity) -> 400, with resync fields
//	*model.ErrRejected (conflict)  -> 409
//	body too large                -> 413
//	anything else                 -> 500 internal_error, detail only in logs
func writeError(c *gin.Context, logger *zap.Logger, op string, err error) {
	var valErr *model.ErrValidation
	if errors.As(err, &valErr) {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": valErr.Msg})
		return
	}

	var rej *model.ErrRejected
	if errors.As(err, &rej) {
		body := gin.H{"ok": false, "error": rej.Code}
		for k, v := range rej.Fields {
			body[k] = v
		}
		switch rej.Kind {
		case model.RejectNotFound:
			c.JSON(http.StatusNotFound, body)
		case model.RejectConflict:
			c.JSON(http.StatusConflict, body)
		default:
			c.JSON(http.StatusBadRequest, body)
		}
		return
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"ok": false, "error": "payload_too_large"})
		return
	}

	logger.Error(op, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "internal_error"})
}

// badRequest answers 400 with a stable error code.
func badRequest(c *gin.Context, code string) {
	c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": code})
}

// BodyLimit caps the request body at n bytes. Reads past the cap fail with
// *http.MaxBytesError.
func BodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if n > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}
