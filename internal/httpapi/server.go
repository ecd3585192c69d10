package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"knowledge-hub/internal/authz"
	"knowledge-hub/internal/chat"
	"knowledge-hub/internal/hybrid"
	"knowledge-hub/internal/objectstore"
	"knowledge-hub/internal/queue"
	"knowledge-hub/internal/repository"
	"knowledge-hub/internal/session"
	"knowledge-hub/internal/tagcache"
	"knowledge-hub/internal/upload"
)

// Server bundles every collaborator the HTTP surface of spec §6 needs.
// It holds no business logic of its own: each handler delegates to the
// already-reviewed internal/* services and only translates HTTP
// in-and-out of their method calls, matching document-chunker's
// thin-handler-over-a-service-struct shape.
type Server struct {
	logger *zap.Logger

	repo     *repository.Repository
	objects  *objectstore.Store
	sessions *session.Store
	tags     *tagcache.Resolver
	uploads  *upload.Coordinator
	broker   *queue.Broker
	search   *hybrid.Service
	chat     *chat.Orchestrator
	guard    *authz.Guard

	presignSeconds int
}

func NewServer(
	logger *zap.Logger,
	repo *repository.Repository,
	objects *objectstore.Store,
	sessions *session.Store,
	tags *tagcache.Resolver,
	uploads *upload.Coordinator,
	broker *queue.Broker,
	search *hybrid.Service,
	chatOrchestrator *chat.Orchestrator,
) *Server {
	s := &Server{
		logger: logger, repo: repo, objects: objects, sessions: sessions,
		tags: tags, uploads: uploads, broker: broker, search: search, chat: chatOrchestrator,
		presignSeconds: 15 * 60,
	}
	s.guard = authz.New(&fileLookup{repo: repo})
	return s
}

// Router builds the gin engine, generalizing document-chunker/main.go's
// gin.New + gin.Logger/gin.Recovery + manual CORS + r.Group("/api/v1")
// bootstrap across the richer route set of spec §6.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestIDMiddleware(), corsMiddleware(), zapLoggerMiddleware(s.logger))

	r.GET("/healthz", s.handleHealthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		users := api.Group("/users")
		users.POST("/register", s.handleRegister)
		users.POST("/login", s.handleLogin)
		users.POST("/logout", s.authMiddleware(), s.handleLogout)
		users.POST("/logout-all", s.authMiddleware(), s.handleLogoutAll)

		api.POST("/auth/refreshToken", s.handleRefreshToken)

		upl := api.Group("/upload", s.authMiddleware())
		upl.POST("/chunk", s.handleUploadChunk)
		upl.GET("/status", s.handleUploadStatus)
		upl.POST("/merge", s.handleMerge)
		upl.GET("/supported-types", s.handleSupportedTypes)

		docs := api.Group("/documents", s.authMiddleware())
		docs.DELETE("/:fingerprint", s.handleDeleteDocument)
		docs.GET("/uploads", s.handleListUploads)
		docs.GET("/accessible", s.handleListAccessible)
		docs.GET("/download", s.handleDownload)

		api.GET("/search/hybrid", s.authMiddleware(), s.handleHybridSearch)

		admin := api.Group("/admin", s.authMiddleware(), s.adminOnly())
		admin.POST("/tags", s.handleCreateTag)
		admin.GET("/tags/:id", s.handleGetTag)
		admin.PATCH("/tags/:id/parent", s.handleUpdateTagParent)
		admin.DELETE("/tags/:id", s.handleDeleteTag)
		admin.GET("/users", s.handleListUsers)
		admin.PATCH("/users/:id/tags", s.handleSetUserTags)
	}

	r.GET("/ws/chat/:sessionHandle", s.handleChatStream)

	return r
}

func (s *Server) handleHealthz(c *gin.Context) {
	ok(c, gin.H{"status": "serving"})
}
