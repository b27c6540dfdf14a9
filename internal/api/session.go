package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/phixlab/nutrilens/backend/internal/middleware"
	"github.com/phixlab/nutrilens/backend/internal/service"
	"github.com/phixlab/nutrilens/backend/internal/session"
)

// PreviewPath is where the selected image of a session is served
const PreviewPath = "/api/v1/session/image"

// CreateSessionResponse is returned when a session is started
type CreateSessionResponse struct {
	Token     string       `json:"token"`
	SessionID string       `json:"session_id"`
	View      session.View `json:"view"`
}

// SelectTabRequest switches the tab of a result
type SelectTabRequest struct {
	Tab string `json:"tab" binding:"required"`
}

// SessionHandler exposes analysis sessions over HTTP
type SessionHandler struct {
	sessions service.ISessionService
	tokens   service.ITokenService
	limiter  *middleware.RateLimiter
	log      *logrus.Entry
}

func NewSessionHandler(sessions service.ISessionService, tokens service.ITokenService, limiter *middleware.RateLimiter) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		tokens:   tokens,
		limiter:  limiter,
		log:      logrus.WithField("component", "session_handler"),
	}
}

func (h *SessionHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/sessions", h.CreateSession)

	sess := router.Group("/session")
	sess.Use(middleware.SessionAuth(h.tokens))
	{
		sess.GET("", h.GetSession)
		sess.DELETE("", h.ResetSession)
		sess.GET("/image", h.GetImage)
		sess.POST("/image", h.SelectImage)
		sess.PUT("/tab", h.SelectTab)

		analyze := []gin.HandlerFunc{h.Analyze}
		if h.limiter != nil {
			analyze = append([]gin.HandlerFunc{h.limiter.Middleware()}, analyze...)
		}
		sess.POST("/analyze", analyze...)
	}
}

// CreateSession starts an idle session and returns its token
func (h *SessionHandler) CreateSession(c *gin.Context) {
	sess, err := h.sessions.Create(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	token, err := h.tokens.Issue(sess.ID)
	if err != nil {
		h.respondError(c, fmt.Errorf("failed to issue token: %w", err))
		return
	}

	c.JSON(http.StatusCreated, CreateSessionResponse{
		Token:     token,
		SessionID: sess.ID,
		View:      render(sess),
	})
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	sess, err := h.sessions.Get(c.Request.Context(), middleware.SessionID(c))
	h.respond(c, sess, err)
}

func (h *SessionHandler) ResetSession(c *gin.Context) {
	sess, err := h.sessions.Reset(c.Request.Context(), middleware.SessionID(c))
	h.respond(c, sess, err)
}

// GetImage serves the bytes of the selected image for previews
func (h *SessionHandler) GetImage(c *gin.Context) {
	data, mimeType, err := h.sessions.Image(c.Request.Context(), middleware.SessionID(c))
	switch {
	case errors.Is(err, service.ErrNoImage):
		c.JSON(http.StatusNotFound, gin.H{"error": "no image selected"})
		return
	case errors.Is(err, service.ErrImageRender):
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   string(session.ImageRenderFailure),
			"message": session.ImageRenderFailure.Message(),
		})
		return
	case err != nil:
		h.respondError(c, err)
		return
	}

	c.Header("Cache-Control", "private, no-store")
	c.Data(http.StatusOK, mimeType, data)
}

// SelectImage accepts a multipart "image" field and an optional "source"
func (h *SessionHandler) SelectImage(c *gin.Context) {
	header, err := c.FormFile("image")
	if err != nil || header == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image provided"})
		return
	}

	up := service.Upload{
		Name:     header.Filename,
		MIMEType: header.Header.Get("Content-Type"),
		Source:   session.ParseSource(c.PostForm("source")),
	}

	// An unreadable file is reported through the session state
	if f, err := header.Open(); err != nil {
		h.log.WithError(err).Warn("Failed to open uploaded file")
	} else {
		defer func() { _ = f.Close() }()
		up.Reader = f
	}

	sess, err := h.sessions.SelectImage(c.Request.Context(), middleware.SessionID(c), up)
	h.respond(c, sess, err)
}

// Analyze runs an analysis and returns the settled view
func (h *SessionHandler) Analyze(c *gin.Context) {
	sess, err := h.sessions.Analyze(c.Request.Context(), middleware.SessionID(c))
	h.respond(c, sess, err)
}

func (h *SessionHandler) SelectTab(c *gin.Context) {
	var req SelectTabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "message": err.Error()})
		return
	}
	tab, ok := session.ParseTab(req.Tab)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tab", "message": "tab must be one of overview, foods or recipes"})
		return
	}

	sess, err := h.sessions.SelectTab(c.Request.Context(), middleware.SessionID(c), tab)
	h.respond(c, sess, err)
}

func (h *SessionHandler) respond(c *gin.Context, sess *session.Session, err error) {
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, render(sess))
}

func (h *SessionHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found", "message": "The session has expired. Start a new one."})
	case errors.Is(err, session.ErrInvalidTransition), errors.Is(err, session.ErrStaleResponse):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid state transition", "message": err.Error()})
	default:
		_ = c.Error(err)
		h.log.WithError(err).Error("Session request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func render(sess *session.Session) session.View {
	return session.Render(sess, PreviewPath)
}
