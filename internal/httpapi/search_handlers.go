package httpapi

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"knowledge-hub/internal/apperr"
)

// handleHybridSearch implements GET /api/v1/search/hybrid?query=&topK=,
// delegating straight to hybrid.Service.SearchWithPermission (C6), which
// already resolves the caller's effective tags and degrades to a
// lexical-only fallback per spec §4.6/§7.
func (s *Server) handleHybridSearch(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		fail(c, s.logger, "hybrid search", apperr.Validation("query is required"))
		return
	}
	topK := 10
	if v := c.Query("topK"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			fail(c, s.logger, "hybrid search", apperr.Validation("topK must be a positive integer"))
			return
		}
		topK = n
	}

	caller, _ := callerFrom(c)
	results, err := s.search.SearchWithPermission(c.Request.Context(), query, caller.UserID, topK)
	if err != nil {
		fail(c, s.logger, "hybrid search", err)
		return
	}

	ok(c, results)
}
