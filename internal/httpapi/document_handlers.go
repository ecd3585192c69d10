package httpapi

import (
	"github.com/gin-gonic/gin"

	"knowledge-hub/internal/apperr"
	"knowledge-hub/internal/objectstore"
)

// handleDeleteDocument implements DELETE /api/v1/documents/{fingerprint}
// (cascade delete), gated by the authz Guard per spec §8 scenario 4.
func (s *Server) handleDeleteDocument(c *gin.Context) {
	fingerprint := c.Param("fingerprint")
	caller, _ := callerFrom(c)
	ctx := c.Request.Context()

	if err := s.guard.Check(ctx, caller, fingerprint, false); err != nil {
		fail(c, s.logger, "delete document", err)
		return
	}

	if err := s.repo.DeleteFileCascade(ctx, fingerprint, caller.UserID); err != nil {
		fail(c, s.logger, "delete document", err)
		return
	}

	ok(c, nil)
}

// handleListUploads implements GET /api/v1/documents/uploads: the
// caller's own upload list regardless of merge status.
func (s *Server) handleListUploads(c *gin.Context) {
	caller, _ := callerFrom(c)
	files, err := s.repo.ListFilesByOwner(c.Request.Context(), caller.UserID)
	if err != nil {
		fail(c, s.logger, "list uploads", err)
		return
	}
	ok(c, files)
}

// handleListAccessible implements GET /api/v1/documents/accessible: every
// merged file the caller's effective tag set, ownership, or public flag
// grants visibility into.
func (s *Server) handleListAccessible(c *gin.Context) {
	caller, _ := callerFrom(c)
	ctx := c.Request.Context()

	effective := s.tags.EffectiveTags(ctx, caller.UserID, caller.AssignedTags)
	files, err := s.repo.ListFilesAccessible(ctx, caller.UserID, effective)
	if err != nil {
		fail(c, s.logger, "list accessible", err)
		return
	}
	ok(c, files)
}

// handleDownload implements GET /api/v1/documents/download?fileName=: it
// resolves the file's fingerprint from the stored record, applies the
// authz Guard, then issues a pre-signed URL against the merged object.
func (s *Server) handleDownload(c *gin.Context) {
	filename := c.Query("fileName")
	if filename == "" {
		fail(c, s.logger, "download", apperr.Validation("fileName is required"))
		return
	}
	caller, _ := callerFrom(c)
	ctx := c.Request.Context()

	file, err := s.repo.GetFileRecordByFilename(ctx, filename)
	if err != nil {
		fail(c, s.logger, "download", err)
		return
	}

	if err := s.guard.Check(ctx, caller, file.Fingerprint, false); err != nil {
		fail(c, s.logger, "download", err)
		return
	}

	url, err := s.objects.PresignedDownloadURL(ctx, objectstore.MergedPath(filename), s.presignSeconds)
	if err != nil {
		fail(c, s.logger, "download", err)
		return
	}

	ok(c, gin.H{"url": url})
}
