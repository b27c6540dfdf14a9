package service

import (
	"context"
	"io"

	"github.com/phixlab/nutrilens/backend/internal/session"
	"github.com/phixlab/nutrilens/backend/internal/types"
)

// ImagePayload is an image handed to an analyzer
type ImagePayload struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Upload is an image received from a client
type Upload struct {
	Name     string
	MIMEType string
	Source   session.Source
	Reader   io.Reader
}

// IAnalyzer turns an image into a raw nutrition payload. The payload is
// untrusted JSON and goes through Normalize before use.
type IAnalyzer interface {
	Analyze(ctx context.Context, img ImagePayload) ([]byte, error)
}

// ISessionStore keeps sessions between requests
type ISessionStore interface {
	Create(ctx context.Context, s *session.Session) error
	Get(ctx context.Context, id string) (*session.Session, error)
	// Update applies fn atomically. Nothing is written when fn returns an error.
	Update(ctx context.Context, id string, fn func(*session.Session) error) (*session.Session, error)
	Delete(ctx context.Context, id string) error
}

// ExpiryNotifier is implemented by session stores that expire sessions in
// process and can report them
type ExpiryNotifier interface {
	OnExpire(fn func(*session.Session))
}

// IImageStore keeps uploaded images for preview and analysis
type IImageStore interface {
	Put(ctx context.Context, key, mimeType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	Delete(ctx context.Context, key string) error
}

// ISessionService defines the operations of an analysis session
type ISessionService interface {
	Create(ctx context.Context) (*session.Session, error)
	Get(ctx context.Context, id string) (*session.Session, error)
	SelectImage(ctx context.Context, id string, up Upload) (*session.Session, error)
	Analyze(ctx context.Context, id string) (*session.Session, error)
	SelectTab(ctx context.Context, id string, tab session.Tab) (*session.Session, error)
	Reset(ctx context.Context, id string) (*session.Session, error)
	Image(ctx context.Context, id string) ([]byte, string, error)
}

// ITokenService issues and validates session tokens
type ITokenService interface {
	Issue(sessionID string) (string, error)
	ValidateToken(token string) (*types.SessionClaims, error)
}
