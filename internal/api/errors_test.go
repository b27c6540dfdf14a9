package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/phixlab/nutrilens/backend/internal/mocks"
	"github.com/phixlab/nutrilens/backend/internal/service"
	"github.com/phixlab/nutrilens/backend/internal/session"
	"github.com/phixlab/nutrilens/backend/internal/types"
)

func newMockedRouter(sessions *mocks.MockSessionService, tokens *mocks.MockTokenService) *gin.Engine {
	router := gin.New()
	NewSessionHandler(sessions, tokens, nil).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func TestSessionHandlerErrorMapping(t *testing.T) {
	tokens := &mocks.MockTokenService{}
	tokens.On("ValidateToken", "tok").Return(&types.SessionClaims{SessionID: "s1"}, nil)

	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"not found", service.ErrSessionNotFound, http.StatusNotFound, "session not found"},
		{"invalid transition", &session.TransitionError{From: session.KindAnalyzing, Event: "reset_requested", Err: session.ErrInvalidTransition}, http.StatusConflict, "invalid state transition"},
		{"store down", fmt.Errorf("failed to load session: %w", errors.New("connection reset")), http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := &mocks.MockSessionService{}
			sessions.On("Reset", mock.Anything, "s1").Return(nil, tt.err)

			req := httptest.NewRequest(http.MethodDelete, "/api/v1/session", nil)
			req.Header.Set("Authorization", "Bearer tok")
			w := httptest.NewRecorder()
			newMockedRouter(sessions, tokens).ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
			sessions.AssertExpectations(t)
		})
	}
}

func TestSessionHandlerImageRenderFailure(t *testing.T) {
	tokens := &mocks.MockTokenService{}
	tokens.On("ValidateToken", "tok").Return(&types.SessionClaims{SessionID: "s1"}, nil)
	sessions := &mocks.MockSessionService{}
	sessions.On("Image", mock.Anything, "s1").Return(nil, "", fmt.Errorf("%w: %v", service.ErrImageRender, errors.New("s3 timeout")))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session/image", nil)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	newMockedRouter(sessions, tokens).ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"image_render_failure","message":"Failed to load image preview."}`, w.Body.String())
}

func TestCreateSessionTokenFailure(t *testing.T) {
	sess := session.New(time.Now())
	sessions := &mocks.MockSessionService{}
	sessions.On("Create", mock.Anything).Return(sess, nil)
	tokens := &mocks.MockTokenService{}
	tokens.On("Issue", sess.ID).Return("", errors.New("signing key missing"))

	w := httptest.NewRecorder()
	newMockedRouter(sessions, tokens).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	tokens.AssertExpectations(t)
}
