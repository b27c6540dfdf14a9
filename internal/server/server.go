package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/phixlab/nutrilens/backend/config"
	"github.com/phixlab/nutrilens/backend/internal/api"
	"github.com/phixlab/nutrilens/backend/internal/middleware"
)

// Server represents the HTTP server
type Server struct {
	router *gin.Engine
	http   *http.Server
	log    *logrus.Entry
}

// New creates a server with the API routes registered
func New(cfg *config.Config, deps api.Dependencies) *Server {
	if cfg.Env == config.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		middleware.RequestLogger(),
		middleware.Recovery("internal server error"),
		middleware.CORS(cfg.CORSOrigins),
	)
	router.MaxMultipartMemory = cfg.MaxUploadBytes

	api.RegisterRoutes(router, deps)

	return &Server{
		router: router,
		http: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			// Analysis requests are held open until the analyzer settles
			WriteTimeout: cfg.AnalysisTimeout + 30*time.Second,
			IdleTimeout:  2 * time.Minute,
		},
		log: logrus.WithField("component", "server"),
	}
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens until the server is shut down
func (s *Server) Start() error {
	s.log.WithField("addr", s.http.Addr).Info("Starting server")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down server")
	return s.http.Shutdown(ctx)
}
