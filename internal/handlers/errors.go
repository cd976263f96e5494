package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"fairroll-backend/internal/apperr"
	"fairroll-backend/internal/lib/logger/sl"
)

// respondError writes a classified error. Internal failures are logged and
// reported without detail.
func respondError(c *gin.Context, log *slog.Logger, err error) {
	code := apperr.CodeOf(err)

	msg := err.Error()
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Msg != "" {
		msg = appErr.Msg
	}

	if apperr.ClassOf(code) == apperr.ClassContactSupport {
		log.Error("request failed",
			slog.String("path", c.FullPath()),
			slog.String("kind", string(code)),
			sl.Err(err))
		msg = "internal error"
	}

	c.AbortWithStatusJSON(apperr.HTTPStatus(code), gin.H{
		"error": msg,
		"kind":  code,
		"class": apperr.ClassOf(code),
	})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error": err.Error(),
		"kind":  apperr.CodeInvalidRequest,
		"class": apperr.ClassFixInput,
	})
}
