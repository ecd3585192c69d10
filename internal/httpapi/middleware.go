package httpapi

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"knowledge-hub/internal/apperr"
	"knowledge-hub/internal/authz"
)

const requestIDHeader = "X-Request-Id"

// requestIDMiddleware stamps every request with an id, propagated on the
// response header and attached to error-path log lines per spec §7's
// "logged with request context (request id, user, operation)".
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestId", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	if v, ok := c.Get("requestId"); ok {
		return v.(string)
	}
	return ""
}

// corsMiddleware mirrors document-chunker/main.go's manual CORS block.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

const callerKey = "caller"

func callerUserID(c *gin.Context) string {
	if v, ok := c.Get(callerKey); ok {
		return v.(authz.Caller).UserID
	}
	return ""
}

func callerFrom(c *gin.Context) (authz.Caller, bool) {
	v, ok := c.Get(callerKey)
	if !ok {
		return authz.Caller{}, false
	}
	return v.(authz.Caller), true
}

// authMiddleware implements spec §6's "Authorization is a Bearer <handle>
// header" rule: it validates the handle against the session store,
// resolves the user, and attaches an authz.Caller to the request context.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			fail(c, s.logger, "auth middleware", apperr.AuthN("missing session handle"))
			c.Abort()
			return
		}
		handle := strings.TrimPrefix(header, prefix)

		subject, err := s.sessions.Validate(c.Request.Context(), handle)
		if err != nil {
			fail(c, s.logger, "auth middleware", err)
			c.Abort()
			return
		}

		user, err := s.repo.GetUserByID(c.Request.Context(), subject)
		if err != nil {
			fail(c, s.logger, "auth middleware", apperr.AuthN("session subject not found"))
			c.Abort()
			return
		}

		c.Set(callerKey, authz.Caller{UserID: user.ID, Role: user.Role, AssignedTags: user.AssignedTags})
		c.Next()
	}
}

// adminOnly implements spec §7's "non-admin attempting admin path" AuthZ
// case.
func (s *Server) adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, _ := callerFrom(c)
		if !caller.IsAdmin() {
			fail(c, s.logger, "admin guard", apperr.AuthZ("admin role required"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.Warn("request handler recorded errors",
				zap.String("requestId", requestID(c)),
				zap.String("path", c.Request.URL.Path),
				zap.String("errors", c.Errors.String()))
		}
	}
}
