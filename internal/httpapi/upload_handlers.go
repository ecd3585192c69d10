package httpapi

import (
	"math"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"knowledge-hub/internal/apperr"
	"knowledge-hub/internal/upload"
)

// handleUploadChunk implements spec §4.3's uploadChunk operation behind
// POST /api/v1/upload/chunk (multipart). The first chunk of an unknown
// fingerprint is the one case Guard.Check allows unconditionally
// (firstChunkUpload); every subsequent chunk is checked against the
// file's existing owner/scopeTag/isPublic triple.
func (s *Server) handleUploadChunk(c *gin.Context) {
	caller, _ := callerFrom(c)
	ctx := c.Request.Context()

	fingerprint := c.PostForm("fileMd5")
	filename := c.PostForm("fileName")
	indexStr := c.PostForm("chunkIndex")
	totalSizeStr := c.PostForm("totalSize")
	scopeTag := c.PostForm("scopeTag")
	isPublic := c.PostForm("isPublic") == "true"

	if fingerprint == "" || filename == "" {
		fail(c, s.logger, "upload chunk", apperr.Validation("fileMd5 and fileName are required"))
		return
	}
	index, err := strconv.Atoi(indexStr)
	if err != nil {
		fail(c, s.logger, "upload chunk", apperr.Validation("chunkIndex must be an integer"))
		return
	}
	totalSize, err := strconv.ParseInt(totalSizeStr, 10, 64)
	if err != nil {
		fail(c, s.logger, "upload chunk", apperr.Validation("totalSize must be an integer"))
		return
	}

	if err := s.guard.Check(ctx, caller, fingerprint, index == 0); err != nil {
		fail(c, s.logger, "upload chunk", err)
		return
	}

	fileHeader, err := c.FormFile("chunk")
	if err != nil {
		fail(c, s.logger, "upload chunk", apperr.Validation("chunk file part is required"))
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		fail(c, s.logger, "upload chunk", apperr.Upstream("open uploaded chunk", err))
		return
	}
	defer f.Close()

	if err := s.uploads.UploadChunk(ctx, caller.UserID, fingerprint, index, totalSize, filename, f, scopeTag, isPublic); err != nil {
		fail(c, s.logger, "upload chunk", err)
		return
	}

	ok(c, gin.H{"fileMd5": fingerprint, "chunkIndex": index})
}

// handleUploadStatus implements GET /api/v1/upload/status?file_md5=,
// returning both the uploaded indices and the upload's progress (spec
// §6/§8 scenario 1: 2 of 3 chunks -> 66.66%). totalSize comes from the
// FileRecord created on the first chunk, not from the client, since the
// client has no reason to be trusted (or asked) for it a second time.
func (s *Server) handleUploadStatus(c *gin.Context) {
	caller, _ := callerFrom(c)
	fingerprint := c.Query("file_md5")
	if fingerprint == "" {
		fail(c, s.logger, "upload status", apperr.Validation("file_md5 is required"))
		return
	}
	ctx := c.Request.Context()

	file, err := s.repo.GetFileRecord(ctx, fingerprint, caller.UserID)
	if err != nil {
		fail(c, s.logger, "upload status", err)
		return
	}

	indices, err := s.uploads.ListUploaded(ctx, caller.UserID, fingerprint, file.TotalSize)
	if err != nil {
		fail(c, s.logger, "upload status", err)
		return
	}
	sort.Ints(indices)

	expected := s.uploads.ExpectedChunks(file.TotalSize)
	progress := 0.0
	if expected > 0 {
		progress = math.Floor(float64(len(indices))/float64(expected)*10000) / 100
	}

	ok(c, gin.H{"uploadedIndices": indices, "totalChunks": expected, "progress": progress})
}

type mergeRequest struct {
	FileMd5  string `json:"fileMd5" binding:"required"`
	FileName string `json:"fileName" binding:"required"`
}

// handleMerge implements POST /api/v1/upload/merge.
func (s *Server) handleMerge(c *gin.Context) {
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, s.logger, "merge", apperr.Validation("fileMd5 and fileName are required"))
		return
	}
	caller, _ := callerFrom(c)

	if err := s.guard.Check(c.Request.Context(), caller, req.FileMd5, false); err != nil {
		fail(c, s.logger, "merge", err)
		return
	}

	downloadURL, err := s.uploads.Merge(c.Request.Context(), caller.UserID, req.FileMd5, req.FileName)
	if err != nil {
		fail(c, s.logger, "merge", err)
		return
	}

	ok(c, gin.H{"downloadUrl": downloadURL})
}

// handleSupportedTypes implements GET /api/v1/upload/supported-types.
func (s *Server) handleSupportedTypes(c *gin.Context) {
	supported := make([]string, 0, len(upload.SupportedExtensions))
	for ext := range upload.SupportedExtensions {
		supported = append(supported, ext)
	}
	sort.Strings(supported)

	denied := make([]string, 0, len(upload.DeniedExtensions))
	for ext := range upload.DeniedExtensions {
		denied = append(denied, ext)
	}
	sort.Strings(denied)

	ok(c, gin.H{"supported": supported, "denied": denied})
}
