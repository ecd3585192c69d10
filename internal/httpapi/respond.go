// Package httpapi wires the gin router and its handlers: the single
// external surface described in spec §6. Route grouping and middleware
// setup follow document-chunker/main.go's gin.New + gin.Logger/Recovery
// + manual CORS + r.Group("/api/v1") shape; the uniform envelope and
// request-id-stamped error logging implement spec §6's error envelope and
// §7's propagation policy.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"knowledge-hub/internal/apperr"
)

// envelope is the uniform response shape of spec §6: "the body always
// carries a numeric code mirroring the status, a human message, and
// data: null when absent."
type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{Code: http.StatusOK, Message: "ok", Data: data})
}

func created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, envelope{Code: http.StatusCreated, Message: "created", Data: data})
}

// fail maps err to the uniform envelope per spec §7: classified business
// errors carry their own status and message; anything else is reduced to
// a generic 500 and logged with request context so it never leaks raw
// internals to the client.
func fail(c *gin.Context, logger *zap.Logger, op string, err error) {
	status := apperr.HTTPStatus(err)
	message := apperr.Message(err)
	if !apperr.IsClass(err, apperr.ClassValidation) &&
		!apperr.IsClass(err, apperr.ClassAuthN) &&
		!apperr.IsClass(err, apperr.ClassAuthZ) &&
		!apperr.IsClass(err, apperr.ClassNotFound) &&
		!apperr.IsClass(err, apperr.ClassConflict) &&
		!apperr.IsClass(err, apperr.ClassRateLimited) {
		logger.Error(op,
			zap.String("requestId", requestID(c)),
			zap.String("userId", callerUserID(c)),
			zap.Error(err))
	}
	c.JSON(status, envelope{Code: status, Message: message, Data: nil})
}
