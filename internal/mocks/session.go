package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/phixlab/nutrilens/backend/internal/service"
	"github.com/phixlab/nutrilens/backend/internal/session"
	"github.com/phixlab/nutrilens/backend/internal/types"
)

// MockSessionService is a testify mock of service.ISessionService
type MockSessionService struct {
	mock.Mock
}

func sessionResult(args mock.Arguments) (*session.Session, error) {
	s, _ := args.Get(0).(*session.Session)
	return s, args.Error(1)
}

func (m *MockSessionService) Create(ctx context.Context) (*session.Session, error) {
	return sessionResult(m.Called(ctx))
}

func (m *MockSessionService) Get(ctx context.Context, id string) (*session.Session, error) {
	return sessionResult(m.Called(ctx, id))
}

func (m *MockSessionService) SelectImage(ctx context.Context, id string, up service.Upload) (*session.Session, error) {
	return sessionResult(m.Called(ctx, id, up))
}

func (m *MockSessionService) Analyze(ctx context.Context, id string) (*session.Session, error) {
	return sessionResult(m.Called(ctx, id))
}

func (m *MockSessionService) SelectTab(ctx context.Context, id string, tab session.Tab) (*session.Session, error) {
	return sessionResult(m.Called(ctx, id, tab))
}

func (m *MockSessionService) Reset(ctx context.Context, id string) (*session.Session, error) {
	return sessionResult(m.Called(ctx, id))
}

func (m *MockSessionService) Image(ctx context.Context, id string) ([]byte, string, error) {
	args := m.Called(ctx, id)
	data, _ := args.Get(0).([]byte)
	return data, args.String(1), args.Error(2)
}

// MockTokenService is a testify mock of service.ITokenService
type MockTokenService struct {
	mock.Mock
}

func (m *MockTokenService) Issue(sessionID string) (string, error) {
	args := m.Called(sessionID)
	return args.String(0), args.Error(1)
}

func (m *MockTokenService) ValidateToken(token string) (*types.SessionClaims, error) {
	args := m.Called(token)
	claims, _ := args.Get(0).(*types.SessionClaims)
	return claims, args.Error(1)
}

var (
	_ service.ISessionService = (*MockSessionService)(nil)
	_ service.ITokenService   = (*MockTokenService)(nil)
)
