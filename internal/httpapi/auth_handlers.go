package httpapi

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"knowledge-hub/internal/apperr"
	"knowledge-hub/internal/auth"
	"knowledge-hub/internal/model"
)

type registerRequest struct {
	Login    string `json:"login" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// handleRegister implements spec §3(c): a fresh user is bootstrapped with
// a PRIVATE_<login> primary tag and DEFAULT among its assigned tags.
func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, s.logger, "register", apperr.Validation("login and password are required"))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		fail(c, s.logger, "register", err)
		return
	}

	ctx := c.Request.Context()
	if err := s.ensureDefaultTag(ctx); err != nil {
		fail(c, s.logger, "register", err)
		return
	}

	now := time.Now()
	primaryTag := model.PrivateTagPrefix + req.Login
	if _, err := s.repo.GetTag(ctx, primaryTag); err != nil {
		if !apperr.IsClass(err, apperr.ClassNotFound) {
			fail(c, s.logger, "register", err)
			return
		}
		if err := s.repo.CreateTag(ctx, &model.OrganizationTag{
			ID: primaryTag, Name: primaryTag, ParentID: "", CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			fail(c, s.logger, "register", err)
			return
		}
	}

	user := &model.User{
		ID:           uuid.NewString(),
		Login:        req.Login,
		PasswordHash: hash,
		Role:         model.RoleUser,
		AssignedTags: []string{model.DefaultTagID},
		PrimaryTag:   primaryTag,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		fail(c, s.logger, "register", err)
		return
	}

	created(c, gin.H{"userId": user.ID, "login": user.Login})
}

// ensureDefaultTag creates the universal-scope DEFAULT tag on first use.
// Spec §9's open question on the source's system_admin bootstrap is
// resolved by not requiring an admin user at all: DEFAULT is creatable
// with an empty CreatedBy (see DESIGN.md).
func (s *Server) ensureDefaultTag(ctx context.Context) error {
	now := time.Now()
	if _, err := s.repo.GetTag(ctx, model.DefaultTagID); err != nil {
		if !apperr.IsClass(err, apperr.ClassNotFound) {
			return err
		}
		if err := s.repo.CreateTag(ctx, &model.OrganizationTag{
			ID: model.DefaultTagID, Name: model.DefaultTagID, CreatedAt: now, UpdatedAt: now,
		}); err != nil && !apperr.IsClass(err, apperr.ClassConflict) {
			return err
		}
	}
	return nil
}

type loginRequest struct {
	Login    string `json:"login" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, s.logger, "login", apperr.Validation("login and password are required"))
		return
	}

	ctx := c.Request.Context()
	user, err := s.repo.GetUserByLogin(ctx, req.Login)
	if err != nil {
		if apperr.IsClass(err, apperr.ClassNotFound) {
			fail(c, s.logger, "login", apperr.AuthN("invalid credentials"))
			return
		}
		fail(c, s.logger, "login", err)
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		fail(c, s.logger, "login", err)
		return
	}

	sessionHandle, expiresAt, err := s.sessions.IssueSession(ctx, user.ID)
	if err != nil {
		fail(c, s.logger, "login", err)
		return
	}
	refreshHandle, err := s.sessions.IssueRefresh(ctx, user.ID)
	if err != nil {
		fail(c, s.logger, "login", err)
		return
	}

	ok(c, gin.H{
		"sessionHandle": sessionHandle,
		"refreshHandle": refreshHandle,
		"expiresAt":     expiresAt,
	})
}

type refreshRequest struct {
	RefreshHandle string `json:"refreshHandle" binding:"required"`
}

func (s *Server) handleRefreshToken(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, s.logger, "refresh", apperr.Validation("refreshHandle is required"))
		return
	}

	sessionHandle, newRefreshHandle, expiresAt, err := s.sessions.RotateFromRefresh(c.Request.Context(), req.RefreshHandle)
	if err != nil {
		fail(c, s.logger, "refresh", err)
		return
	}

	ok(c, gin.H{
		"sessionHandle": sessionHandle,
		"refreshHandle": newRefreshHandle,
		"expiresAt":     expiresAt,
	})
}

func (s *Server) handleLogout(c *gin.Context) {
	header := c.GetHeader("Authorization")
	handle := header[len("Bearer "):]
	if err := s.sessions.Logout(c.Request.Context(), handle); err != nil {
		fail(c, s.logger, "logout", err)
		return
	}
	ok(c, nil)
}

func (s *Server) handleLogoutAll(c *gin.Context) {
	caller, _ := callerFrom(c)
	if err := s.sessions.LogoutAll(c.Request.Context(), caller.UserID); err != nil {
		fail(c, s.logger, "logout-all", err)
		return
	}
	ok(c, nil)
}
