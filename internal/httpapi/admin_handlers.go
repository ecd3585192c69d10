package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"

	"knowledge-hub/internal/apperr"
	"knowledge-hub/internal/model"
)

type createTagRequest struct {
	ID          string `json:"id" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	ParentID    string `json:"parentId"`
}

// handleCreateTag implements the admin CRUD surface of spec §6/§4.1.
func (s *Server) handleCreateTag(c *gin.Context) {
	var req createTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, s.logger, "create tag", apperr.Validation("id and name are required"))
		return
	}
	caller, _ := callerFrom(c)
	now := time.Now()

	if err := s.repo.CreateTag(c.Request.Context(), &model.OrganizationTag{
		ID: req.ID, Name: req.Name, Description: req.Description, ParentID: req.ParentID,
		CreatedBy: caller.UserID, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		fail(c, s.logger, "create tag", err)
		return
	}

	created(c, gin.H{"id": req.ID})
}

func (s *Server) handleGetTag(c *gin.Context) {
	tag, err := s.repo.GetTag(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, s.logger, "get tag", err)
		return
	}
	ok(c, tag)
}

type updateTagParentRequest struct {
	ParentID string `json:"parentId"`
}

// handleUpdateTagParent implements spec §8's "updating an OrganizationTag's
// parent to any ancestor of itself is refused" invariant by walking the
// candidate parent's ancestor chain (byte-exact comparison per spec §9's
// open question) before committing the update.
func (s *Server) handleUpdateTagParent(c *gin.Context) {
	id := c.Param("id")
	var req updateTagParentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, s.logger, "update tag parent", apperr.Validation("invalid request body"))
		return
	}
	ctx := c.Request.Context()

	if req.ParentID != "" {
		cursor := req.ParentID
		seen := map[string]bool{}
		for cursor != "" {
			if cursor == id {
				fail(c, s.logger, "update tag parent", apperr.Conflict("parent would form a cycle"))
				return
			}
			if seen[cursor] {
				break
			}
			seen[cursor] = true
			tag, err := s.repo.GetTag(ctx, cursor)
			if err != nil {
				if apperr.IsClass(err, apperr.ClassNotFound) {
					break
				}
				fail(c, s.logger, "update tag parent", err)
				return
			}
			cursor = tag.ParentID
		}
	}

	if err := s.repo.UpdateTagParent(ctx, id, req.ParentID); err != nil {
		fail(c, s.logger, "update tag parent", err)
		return
	}
	if err := s.tags.InvalidateAll(ctx); err != nil {
		s.logger.Warn("invalidate tag cache after parent update failed")
	}

	ok(c, nil)
}

func (s *Server) handleDeleteTag(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := s.repo.DeleteTag(ctx, id); err != nil {
		fail(c, s.logger, "delete tag", err)
		return
	}
	if err := s.tags.InvalidateAll(ctx); err != nil {
		s.logger.Warn("invalidate tag cache after delete failed")
	}
	ok(c, nil)
}

func (s *Server) handleListUsers(c *gin.Context) {
	users, err := s.repo.ListUsers(c.Request.Context())
	if err != nil {
		fail(c, s.logger, "list users", err)
		return
	}
	ok(c, users)
}

type setUserTagsRequest struct {
	Tags []string `json:"tags"`
}

// handleSetUserTags implements admin reassignment of a user's assigned
// tags, invalidating that user's cached effective-tag set (C1) so the
// change is visible on the user's next request.
func (s *Server) handleSetUserTags(c *gin.Context) {
	userID := c.Param("id")
	var req setUserTagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, s.logger, "set user tags", apperr.Validation("invalid request body"))
		return
	}
	ctx := c.Request.Context()

	if err := s.repo.SetUserAssignedTags(ctx, userID, req.Tags); err != nil {
		fail(c, s.logger, "set user tags", err)
		return
	}
	if err := s.tags.InvalidateUser(ctx, userID); err != nil {
		s.logger.Warn("invalidate tag cache after reassignment failed")
	}

	ok(c, nil)
}
