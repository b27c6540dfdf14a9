package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/phixlab/nutrilens/backend/internal/model"
	"github.com/phixlab/nutrilens/backend/internal/session"
)

type mockAnalyzer struct {
	mock.Mock
}

func (m *mockAnalyzer) Analyze(ctx context.Context, img ImagePayload) ([]byte, error) {
	args := m.Called(ctx, img)
	raw, _ := args.Get(0).([]byte)
	return raw, args.Error(1)
}

// blockingAnalyzer waits for release or cancellation
type blockingAnalyzer struct {
	started chan struct{}
	release chan []byte
}

func newBlockingAnalyzer() *blockingAnalyzer {
	return &blockingAnalyzer{started: make(chan struct{}, 1), release: make(chan []byte, 1)}
}

func (b *blockingAnalyzer) Analyze(ctx context.Context, _ ImagePayload) ([]byte, error) {
	b.started <- struct{}{}
	select {
	case raw := <-b.release:
		return raw, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fixture struct {
	svc      *SessionService
	sessions *MemorySessionStore
	images   *MemoryImageStore
}

func newFixture(t *testing.T, analyzer IAnalyzer, opts SessionOptions) *fixture {
	t.Helper()
	sessions := NewMemorySessionStore(time.Hour)
	images := NewMemoryImageStore()
	return &fixture{
		svc:      NewSessionService(sessions, images, analyzer, opts),
		sessions: sessions,
		images:   images,
	}
}

func jpeg(data string) Upload {
	return Upload{Name: "meal.jpg", MIMEType: "image/jpeg", Source: session.SourceCamera, Reader: strings.NewReader(data)}
}

func (f *fixture) withImage(t *testing.T) *session.Session {
	t.Helper()
	ctx := context.Background()
	sess, err := f.svc.Create(ctx)
	require.NoError(t, err)
	sess, err = f.svc.SelectImage(ctx, sess.ID, jpeg("meal-bytes"))
	require.NoError(t, err)
	require.Equal(t, session.KindImageSelected, sess.State.Kind())
	return sess
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestSessionServiceCreate(t *testing.T) {
	f := newFixture(t, &mockAnalyzer{}, SessionOptions{})

	sess, err := f.svc.Create(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, session.Idle{}, sess.State)

	got, err := f.svc.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	_, err = f.svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionServiceSelectImage(t *testing.T) {
	f := newFixture(t, &mockAnalyzer{}, SessionOptions{})
	sess := f.withImage(t)

	st := sess.State.(session.ImageSelected)
	assert.Equal(t, "meal.jpg", st.Image.Name)
	assert.Equal(t, int64(len("meal-bytes")), st.Image.Size)
	assert.Equal(t, session.SourceCamera, st.Image.Source)
	assert.True(t, strings.HasPrefix(st.Image.Key, "meal-images/"+sess.ID+"/"))

	data, mimeType, err := f.svc.Image(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("meal-bytes"), data)
	assert.Equal(t, "image/jpeg", mimeType)
}

func TestSessionServiceReplacingImageDeletesPrevious(t *testing.T) {
	f := newFixture(t, &mockAnalyzer{}, SessionOptions{})
	sess := f.withImage(t)

	_, err := f.svc.SelectImage(context.Background(), sess.ID, jpeg("second-meal"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.images.Len())

	// same bytes again replace the stored copy
	again, err := f.svc.SelectImage(context.Background(), sess.ID, jpeg("second-meal"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.images.Len())

	data, _, err := f.svc.Image(context.Background(), again.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("second-meal"), data)
}

func TestSessionServiceResetRacingSameImage(t *testing.T) {
	f := newFixture(t, &mockAnalyzer{}, SessionOptions{})
	sess := f.withImage(t)
	ctx := context.Background()

	// a reset commits its state change and has yet to delete the image
	var resetKey string
	_, err := f.sessions.Update(ctx, sess.ID, func(s *session.Session) error {
		img, _ := session.ImageOf(s.State)
		resetKey = img.Key
		return s.Apply(session.ResetRequested{}, time.Now())
	})
	require.NoError(t, err)

	// meanwhile the same bytes are selected again
	sess, err = f.svc.SelectImage(ctx, sess.ID, jpeg("meal-bytes"))
	require.NoError(t, err)
	img, _ := session.ImageOf(sess.State)
	assert.NotEqual(t, resetKey, img.Key)

	f.svc.deleteImage(sess.ID, resetKey)

	data, _, err := f.svc.Image(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("meal-bytes"), data)
	assert.Equal(t, 1, f.images.Len())
}

func TestSessionServiceRejectsFiles(t *testing.T) {
	ctx := context.Background()

	t.Run("non-image keeps idle with notice", func(t *testing.T) {
		f := newFixture(t, &mockAnalyzer{}, SessionOptions{})
		sess, err := f.svc.Create(ctx)
		require.NoError(t, err)

		sess, err = f.svc.SelectImage(ctx, sess.ID, Upload{Name: "notes.pdf", MIMEType: "application/pdf", Reader: strings.NewReader("%PDF")})
		require.NoError(t, err)
		assert.Equal(t, session.Idle{Notice: "Please select a valid image file."}, sess.State)
		assert.Equal(t, 0, f.images.Len())
	})

	t.Run("unreadable file", func(t *testing.T) {
		f := newFixture(t, &mockAnalyzer{}, SessionOptions{})
		sess := f.withImage(t)

		sess, err := f.svc.SelectImage(ctx, sess.ID, Upload{Name: "b.png", MIMEType: "image/png", Reader: errReader{}})
		require.NoError(t, err)
		st := sess.State.(session.ImageSelected)
		assert.Equal(t, "Failed to read image file.", st.Notice)
		assert.Equal(t, "meal.jpg", st.Image.Name)
	})

	t.Run("oversized file", func(t *testing.T) {
		f := newFixture(t, &mockAnalyzer{}, SessionOptions{MaxUploadBytes: 4})
		sess, err := f.svc.Create(ctx)
		require.NoError(t, err)

		sess, err = f.svc.SelectImage(ctx, sess.ID, jpeg("12345"))
		require.NoError(t, err)
		assert.Equal(t, session.Idle{Notice: "Failed to read image file."}, sess.State)
	})

	t.Run("empty file", func(t *testing.T) {
		f := newFixture(t, &mockAnalyzer{}, SessionOptions{})
		sess, err := f.svc.Create(ctx)
		require.NoError(t, err)

		sess, err = f.svc.SelectImage(ctx, sess.ID, jpeg(""))
		require.NoError(t, err)
		assert.Equal(t, session.Idle{Notice: "Failed to read image file."}, sess.State)
	})
}

func TestSessionServiceAnalyzeSuccess(t *testing.T) {
	analyzer := &mockAnalyzer{}
	f := newFixture(t, analyzer, SessionOptions{})
	sess := f.withImage(t)

	analyzer.On("Analyze", mock.Anything, ImagePayload{Name: "meal.jpg", MIMEType: "image/jpeg", Data: []byte("meal-bytes")}).
		Return([]byte(`[{"output":{"status":true,"total":{"calories":"640","protein":30,"carbs":70,"fat":22},"food":[{"name":"Pizza","quantity":"2 slices","calories":640}]}}]`), nil).
		Once()

	sess, err := f.svc.Analyze(context.Background(), sess.ID)
	require.NoError(t, err)
	analyzer.AssertExpectations(t)

	st, ok := sess.State.(session.Result)
	require.True(t, ok, "state %s", sess.State.Kind())
	assert.Equal(t, session.TabOverview, st.Tab)
	assert.Equal(t, model.Amount(640), st.Result.Total.Calories)
	require.Len(t, st.Result.Food, 1)
	assert.Equal(t, "Pizza", st.Result.Food[0].Name)
	assert.NotNil(t, st.Result.Recipes)

	stored, err := f.svc.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.KindResult, stored.State.Kind())
}

func TestSessionServiceAnalyzeFailures(t *testing.T) {
	tests := []struct {
		name    string
		raw     []byte
		err     error
		reason  session.ErrorKind
		message string
	}{
		{"transport error", nil, errors.New("connection refused"), session.NetworkFailure, "Failed to analyze image. Please try again."},
		{"upstream status", nil, &UpstreamError{StatusCode: 500}, session.NetworkFailure, "Failed to analyze image. Please try again."},
		{"body not json", []byte(`<html>gateway</html>`), nil, session.NetworkFailure, "Failed to analyze image. Please try again."},
		{"empty body", []byte{}, nil, session.NetworkFailure, "Failed to analyze image. Please try again."},
		{"falsy status", []byte(`{"status":false}`), nil, session.UnrecognizedResponseShape, "Analysis failed. Please try again."},
		{"bare macros", []byte(`{"calories":500,"protein":18,"carbs":71,"fat":16}`), nil, session.UnrecognizedResponseShape, "Analysis failed. Please try again."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analyzer := &mockAnalyzer{}
			f := newFixture(t, analyzer, SessionOptions{})
			sess := f.withImage(t)
			analyzer.On("Analyze", mock.Anything, mock.Anything).Return(tt.raw, tt.err)

			sess, err := f.svc.Analyze(context.Background(), sess.ID)
			require.NoError(t, err)

			st, ok := sess.State.(session.Failed)
			require.True(t, ok, "state %s", sess.State.Kind())
			assert.Equal(t, tt.reason, st.Reason)
			assert.Equal(t, tt.message, st.Message)
			assert.Equal(t, "meal.jpg", st.Image.Name)
		})
	}
}

func TestSessionServiceRetryAfterFailure(t *testing.T) {
	analyzer := &mockAnalyzer{}
	f := newFixture(t, analyzer, SessionOptions{})
	sess := f.withImage(t)

	analyzer.On("Analyze", mock.Anything, mock.Anything).Return(nil, errors.New("timeout")).Once()
	analyzer.On("Analyze", mock.Anything, mock.Anything).Return([]byte(`{"status":true}`), nil).Once()

	sess, err := f.svc.Analyze(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.KindFailed, sess.State.Kind())

	sess, err = f.svc.Analyze(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.KindResult, sess.State.Kind())
	analyzer.AssertExpectations(t)
}

func TestSessionServiceAnalyzeWithoutImage(t *testing.T) {
	f := newFixture(t, &mockAnalyzer{}, SessionOptions{})
	sess, err := f.svc.Create(context.Background())
	require.NoError(t, err)

	_, err = f.svc.Analyze(context.Background(), sess.ID)
	assert.ErrorIs(t, err, session.ErrInvalidTransition)
}

func TestSessionServiceSingleFlight(t *testing.T) {
	analyzer := newBlockingAnalyzer()
	f := newFixture(t, analyzer, SessionOptions{})
	sess := f.withImage(t)

	var wg sync.WaitGroup
	var first *session.Session
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, firstErr = f.svc.Analyze(context.Background(), sess.ID)
	}()
	<-analyzer.started

	_, err := f.svc.Analyze(context.Background(), sess.ID)
	assert.ErrorIs(t, err, session.ErrInvalidTransition)

	_, err = f.svc.Reset(context.Background(), sess.ID)
	assert.ErrorIs(t, err, session.ErrInvalidTransition)

	_, err = f.svc.SelectImage(context.Background(), sess.ID, jpeg("other"))
	assert.ErrorIs(t, err, session.ErrInvalidTransition)
	assert.Equal(t, 1, f.images.Len())

	analyzer.release <- []byte(`{"status":true}`)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.Equal(t, session.KindResult, first.State.Kind())
}

func TestSessionServiceTimeout(t *testing.T) {
	f := newFixture(t, newBlockingAnalyzer(), SessionOptions{AnalysisTimeout: 20 * time.Millisecond})
	sess := f.withImage(t)

	sess, err := f.svc.Analyze(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.NetworkFailure, sess.State.(session.Failed).Reason)
}

func TestSessionServiceClientGone(t *testing.T) {
	analyzer := newBlockingAnalyzer()
	f := newFixture(t, analyzer, SessionOptions{})
	sess := f.withImage(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-analyzer.started
		cancel()
	}()

	settled, err := f.svc.Analyze(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.KindFailed, settled.State.Kind())

	stored, err := f.svc.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.NetworkFailure, stored.State.(session.Failed).Reason)
}

func TestSessionServiceStaleResponse(t *testing.T) {
	analyzer := newBlockingAnalyzer()
	f := newFixture(t, analyzer, SessionOptions{})
	sess := f.withImage(t)

	var wg sync.WaitGroup
	var got *session.Session
	var gotErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		got, gotErr = f.svc.Analyze(context.Background(), sess.ID)
	}()
	<-analyzer.started

	// another request took over the session in the meantime
	_, err := f.sessions.Update(context.Background(), sess.ID, func(s *session.Session) error {
		st := s.State.(session.Analyzing)
		st.RequestID = "newer-request"
		s.State = st
		return nil
	})
	require.NoError(t, err)

	analyzer.release <- []byte(`{"status":true}`)
	wg.Wait()

	require.NoError(t, gotErr)
	st, ok := got.State.(session.Analyzing)
	require.True(t, ok)
	assert.Equal(t, "newer-request", st.RequestID)
}

func TestSessionServiceSelectTab(t *testing.T) {
	analyzer := &mockAnalyzer{}
	f := newFixture(t, analyzer, SessionOptions{})
	sess := f.withImage(t)
	ctx := context.Background()

	_, err := f.svc.SelectTab(ctx, sess.ID, session.TabRecipes)
	assert.ErrorIs(t, err, session.ErrInvalidTransition)

	analyzer.On("Analyze", mock.Anything, mock.Anything).Return([]byte(`{"status":true}`), nil)
	_, err = f.svc.Analyze(ctx, sess.ID)
	require.NoError(t, err)

	sess, err = f.svc.SelectTab(ctx, sess.ID, session.TabRecipes)
	require.NoError(t, err)
	assert.Equal(t, session.TabRecipes, sess.State.(session.Result).Tab)

	_, err = f.svc.SelectTab(ctx, sess.ID, session.Tab("nutrients"))
	assert.ErrorIs(t, err, session.ErrInvalidTransition)
}

func TestSessionServiceReset(t *testing.T) {
	analyzer := &mockAnalyzer{}
	f := newFixture(t, analyzer, SessionOptions{})
	sess := f.withImage(t)
	ctx := context.Background()

	analyzer.On("Analyze", mock.Anything, mock.Anything).Return([]byte(`{"status":true}`), nil)
	_, err := f.svc.Analyze(ctx, sess.ID)
	require.NoError(t, err)

	sess, err = f.svc.Reset(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.Idle{}, sess.State)
	assert.Equal(t, 0, f.images.Len())

	_, _, err = f.svc.Image(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNoImage)

	// reset is idempotent
	sess, err = f.svc.Reset(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.Idle{}, sess.State)
}

func TestSessionServiceImageRenderFailure(t *testing.T) {
	f := newFixture(t, &mockAnalyzer{}, SessionOptions{})
	sess := f.withImage(t)

	img, _ := session.ImageOf(sess.State)
	require.NoError(t, f.images.Delete(context.Background(), img.Key))

	_, _, err := f.svc.Image(context.Background(), sess.ID)
	assert.ErrorIs(t, err, ErrImageRender)
}

func TestSessionServiceAnalyzeMissingImage(t *testing.T) {
	analyzer := &mockAnalyzer{}
	f := newFixture(t, analyzer, SessionOptions{})
	sess := f.withImage(t)

	img, _ := session.ImageOf(sess.State)
	require.NoError(t, f.images.Delete(context.Background(), img.Key))

	sess, err := f.svc.Analyze(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ImageReadFailure, sess.State.(session.Failed).Reason)
	analyzer.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}

func TestSessionServiceWithMockAnalyzer(t *testing.T) {
	f := newFixture(t, NewMockAnalyzer(0, nil), SessionOptions{})
	sess := f.withImage(t)

	sess, err := f.svc.Analyze(context.Background(), sess.ID)
	require.NoError(t, err)

	view := session.Render(sess, "")
	require.NotNil(t, view.Result)
	assert.Equal(t, 1, view.Counts.Foods)
	assert.Equal(t, 2, view.Counts.Recipes)
	assert.Contains(t, view.Result.Food[0].Name, "meal")
}

func TestSessionServiceReleasesAbandonedAnalysis(t *testing.T) {
	ctx := context.Background()

	// abandon leaves sess in an analysis whose owner is gone
	abandon := func(t *testing.T, f *fixture, sess *session.Session, startedAt time.Time) {
		t.Helper()
		_, err := f.sessions.Update(ctx, sess.ID, func(s *session.Session) error {
			return s.Apply(session.AnalyzeRequested{RequestID: "crashed", At: startedAt}, startedAt)
		})
		require.NoError(t, err)
	}

	t.Run("reset", func(t *testing.T) {
		f := newFixture(t, &mockAnalyzer{}, SessionOptions{AnalysisTimeout: time.Second})
		sess := f.withImage(t)
		abandon(t, f, sess, time.Now().Add(-time.Minute))

		sess, err := f.svc.Reset(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, session.Idle{}, sess.State)
		assert.Equal(t, 0, f.images.Len())
	})

	t.Run("analyze again", func(t *testing.T) {
		analyzer := &mockAnalyzer{}
		f := newFixture(t, analyzer, SessionOptions{AnalysisTimeout: time.Second})
		sess := f.withImage(t)
		abandon(t, f, sess, time.Now().Add(-time.Minute))
		analyzer.On("Analyze", mock.Anything, mock.Anything).Return([]byte(`{"status":true}`), nil)

		sess, err := f.svc.Analyze(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, session.KindResult, sess.State.Kind())
	})

	t.Run("new image", func(t *testing.T) {
		f := newFixture(t, &mockAnalyzer{}, SessionOptions{AnalysisTimeout: time.Second})
		sess := f.withImage(t)
		abandon(t, f, sess, time.Now().Add(-time.Minute))

		sess, err := f.svc.SelectImage(ctx, sess.ID, jpeg("fresh"))
		require.NoError(t, err)
		assert.Equal(t, session.KindImageSelected, sess.State.Kind())
		assert.Equal(t, 1, f.images.Len())
	})

	t.Run("recent analysis is still owned", func(t *testing.T) {
		f := newFixture(t, &mockAnalyzer{}, SessionOptions{AnalysisTimeout: time.Minute})
		sess := f.withImage(t)
		abandon(t, f, sess, time.Now())

		_, err := f.svc.Reset(ctx, sess.ID)
		assert.ErrorIs(t, err, session.ErrInvalidTransition)

		stored, err := f.svc.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, session.KindAnalyzing, stored.State.Kind())
	})
}

func TestSessionServiceExpiredSessionDropsImage(t *testing.T) {
	ctx := context.Background()

	for name, touch := range map[string]func(t *testing.T, f *fixture, id string) error{
		"swept by a new session": func(_ *testing.T, f *fixture, _ string) error {
			_, err := f.svc.Create(ctx)
			return err
		},
		"found expired on read": func(t *testing.T, f *fixture, id string) error {
			_, err := f.svc.Get(ctx, id)
			assert.ErrorIs(t, err, ErrSessionNotFound)
			return nil
		},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, &mockAnalyzer{}, SessionOptions{})
			clock := time.Now()
			f.sessions.now = func() time.Time { return clock }

			sess := f.withImage(t)
			require.Equal(t, 1, f.images.Len())

			clock = clock.Add(2 * time.Hour)
			require.NoError(t, touch(t, f, sess.ID))
			assert.Equal(t, 0, f.images.Len())
		})
	}
}
