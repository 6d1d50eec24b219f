package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmadeira/wabridge/internal/status"
	"github.com/jmadeira/wabridge/internal/store"
)

// SessionController exposes the session operations the gateway serves.
type SessionController interface {
	Connected() bool
	JID() string
	State() status.State
	QRDataURL() (dataURL string, expiresIn time.Duration, ok bool)
	Logout(ctx context.Context) error
	Restart()
}

// Downloader fetches message attachments to local disk.
type Downloader interface {
	Download(ctx context.Context, msgID, chatJID string) (mediaType, filename, absPath string, err error)
}

// Sender enqueues outgoing messages.
type Sender interface {
	Queue(recipient, body, mediaPath string) (clientID string, err error)
}

// SyncTrigger requests a history backfill on demand.
type SyncTrigger interface {
	Trigger(ctx context.Context) error
}

// Directory looks up contact details over the live connection.
type Directory interface {
	ContactInfo(ctx context.Context, jid string) (name, pushName, number string, err error)
	ProfilePictureURL(ctx context.Context, jid string) (url, id string, err error)
}

// Server is the local REST gateway in front of the message store and
// the session manager.
type Server struct {
	db      *store.DB
	session SessionController
	media   Downloader
	sender  Sender
	syncer  SyncTrigger
	dir     Directory
	window  time.Duration
	logger  *zap.Logger

	srv *http.Server
}

// NewServer creates the gateway. window bounds how far back the
// messages endpoint reads.
func NewServer(port int, db *store.DB, session SessionController, media Downloader,
	sender Sender, syncer SyncTrigger, dir Directory, window time.Duration, logger *zap.Logger) *Server {
	s := &Server{
		db:      db,
		session: session,
		media:   media,
		sender:  sender,
		syncer:  syncer,
		dir:     dir,
		window:  window,
		logger:  logger,
	}
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router(),
	}
	return s
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), corsMiddleware())

	api := router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/qr", s.handleQR)
	api.GET("/chats", s.handleChats)
	api.GET("/messages", s.handleMessages)
	api.GET("/contact/:jid", s.handleContact)
	api.GET("/profile-picture/:jid", s.handleProfilePicture)
	api.POST("/send", s.handleSend)
	api.POST("/download", s.handleDownload)
	api.POST("/sync", s.handleSync)
	api.POST("/logout", s.handleLogout)
	api.POST("/restart", s.handleRestart)
	return router
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("REST gateway listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// corsMiddleware allows browser frontends on other origins. The
// gateway binds locally, so this stays permissive.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}
