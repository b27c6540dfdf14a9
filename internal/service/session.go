package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/phixlab/nutrilens/backend/internal/session"
)

var (
	// ErrNoImage is returned when a session has no selected image
	ErrNoImage = errors.New("no image selected")
	// ErrImageRender is returned when the selected image cannot be served
	ErrImageRender = errors.New("failed to load image preview")
)

// SessionOptions tunes a SessionService
type SessionOptions struct {
	// AnalysisTimeout bounds a single analyzer call
	AnalysisTimeout time.Duration
	// MaxUploadBytes is the largest accepted image
	MaxUploadBytes int64
}

// settleGrace is how long past AnalysisTimeout an analysis may take to record
// its outcome before the session is considered abandoned
const settleGrace = 10 * time.Second

var _ ISessionService = (*SessionService)(nil)

// SessionService drives analysis sessions through the view state machine
type SessionService struct {
	sessions ISessionStore
	images   IImageStore
	analyzer IAnalyzer
	opts     SessionOptions
	now      func() time.Time
	log      *logrus.Entry
}

// NewSessionService creates a session service
func NewSessionService(sessions ISessionStore, images IImageStore, analyzer IAnalyzer, opts SessionOptions) *SessionService {
	if opts.AnalysisTimeout <= 0 {
		opts.AnalysisTimeout = 60 * time.Second
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	svc := &SessionService{
		sessions: sessions,
		images:   images,
		analyzer: analyzer,
		opts:     opts,
		now:      time.Now,
		log:      logrus.WithField("component", "session_service"),
	}
	if n, ok := sessions.(ExpiryNotifier); ok {
		n.OnExpire(svc.expired)
	}
	return svc
}

// expired drops the image of a session that timed out
func (s *SessionService) expired(sess *session.Session) {
	if img, ok := session.ImageOf(sess.State); ok {
		s.deleteImage(sess.ID, img.Key)
	}
	s.log.WithField("session_id", sess.ID).Debug("Session expired")
}

// Create starts a new idle session
func (s *SessionService) Create(ctx context.Context) (*session.Session, error) {
	sess := session.New(s.now())
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.log.WithField("session_id", sess.ID).Debug("Created session")
	return sess, nil
}

// Get returns the session with id
func (s *SessionService) Get(ctx context.Context, id string) (*session.Session, error) {
	return s.sessions.Get(ctx, id)
}

// SelectImage validates and stores an uploaded image and makes it the
// session's current image. Rejected files are reported through the state.
func (s *SessionService) SelectImage(ctx context.Context, id string, up Upload) (*session.Session, error) {
	if !strings.HasPrefix(strings.ToLower(up.MIMEType), "image/") {
		return s.request(ctx, id, session.InvalidFileChosen{MIMEType: up.MIMEType})
	}

	data, err := s.readUpload(up.Reader)
	if err != nil {
		s.log.WithFields(logrus.Fields{"session_id": id, "error": err}).Warn("Rejected image upload")
		return s.request(ctx, id, session.ImageReadFailed{})
	}

	key := ImageKey(id, uuid.NewString(), data, up.MIMEType)
	if err := s.images.Put(ctx, key, up.MIMEType, data); err != nil {
		return nil, fmt.Errorf("failed to store image: %w", err)
	}

	img := session.Image{
		Key:      key,
		Name:     up.Name,
		MIMEType: up.MIMEType,
		Size:     int64(len(data)),
		Source:   up.Source,
	}
	if img.Source == "" {
		img.Source = session.SourceUpload
	}

	var previous string
	sess, err := s.sessions.Update(ctx, id, func(sess *session.Session) error {
		if err := s.releaseAbandoned(sess); err != nil {
			return err
		}
		previous = ""
		if cur, ok := session.ImageOf(sess.State); ok {
			previous = cur.Key
		}
		return sess.Apply(session.ImageChosen{Image: img}, s.now())
	})
	if err != nil {
		s.deleteImage(id, key)
		return nil, err
	}

	if previous != "" {
		s.deleteImage(id, previous)
	}
	return sess, nil
}

// readUpload reads at most MaxUploadBytes. Empty and oversized files fail.
func (s *SessionService) readUpload(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, errors.New("no image data")
	}
	data, err := io.ReadAll(io.LimitReader(r, s.opts.MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) > s.opts.MaxUploadBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", s.opts.MaxUploadBytes)
	}
	if len(data) == 0 {
		return nil, errors.New("image is empty")
	}
	return data, nil
}

// Analyze runs the analyzer on the session's image and settles the session
// with the outcome. Analyzer and decoding failures end in the Failed state
// and are not returned as errors.
func (s *SessionService) Analyze(ctx context.Context, id string) (*session.Session, error) {
	requestID := uuid.NewString()
	sess, err := s.request(ctx, id, session.AnalyzeRequested{RequestID: requestID, At: s.now()})
	if err != nil {
		return nil, err
	}

	entry := s.log.WithFields(logrus.Fields{"session_id": id, "request_id": requestID})
	start := time.Now()

	event := s.runAnalysis(ctx, sess, requestID, entry)

	// The outcome is recorded even when the caller went away
	settleCtx := context.WithoutCancel(ctx)
	settled, err := s.apply(settleCtx, id, event)
	if errors.Is(err, session.ErrStaleResponse) {
		entry.Warn("Discarded stale analysis response")
		return s.sessions.Get(settleCtx, id)
	}
	if err != nil {
		return nil, err
	}

	entry.WithFields(logrus.Fields{
		"state":    settled.State.Kind(),
		"duration": time.Since(start).String(),
	}).Info("Analysis settled")
	return settled, nil
}

func (s *SessionService) runAnalysis(ctx context.Context, sess *session.Session, requestID string, entry *logrus.Entry) session.Event {
	failed := func(kind session.ErrorKind) session.Event {
		return session.AnalysisFailed{RequestID: requestID, Reason: kind}
	}

	actx, cancel := context.WithTimeout(ctx, s.opts.AnalysisTimeout)
	defer cancel()

	img, _ := session.ImageOf(sess.State)
	data, mimeType, err := s.images.Get(actx, img.Key)
	if err != nil {
		entry.WithError(err).Error("Failed to load image for analysis")
		return failed(session.ImageReadFailure)
	}
	if mimeType == "" {
		mimeType = img.MIMEType
	}

	raw, err := s.analyzer.Analyze(actx, ImagePayload{Name: img.Name, MIMEType: mimeType, Data: data})
	if err != nil {
		entry.WithError(err).Warn("Analyzer request failed")
		return failed(session.NetworkFailure)
	}

	res, shape, err := NormalizeShape(raw)
	if errors.Is(err, ErrInvalidPayload) {
		entry.WithField("bytes", len(raw)).Warn("Analyzer returned a body that is not JSON")
		return failed(session.NetworkFailure)
	}
	if err != nil {
		entry.WithField("bytes", len(raw)).Warn("Analyzer returned an unrecognized payload")
		return failed(session.UnrecognizedResponseShape)
	}
	entry.WithField("shape", shape.String()).Debug("Normalized analysis payload")
	return session.AnalysisSucceeded{RequestID: requestID, Result: *res}
}

// SelectTab switches the displayed part of a result
func (s *SessionService) SelectTab(ctx context.Context, id string, tab session.Tab) (*session.Session, error) {
	return s.apply(ctx, id, session.TabSelected{Tab: tab})
}

// Reset returns the session to Idle and drops its image
func (s *SessionService) Reset(ctx context.Context, id string) (*session.Session, error) {
	var key string
	sess, err := s.sessions.Update(ctx, id, func(sess *session.Session) error {
		if err := s.releaseAbandoned(sess); err != nil {
			return err
		}
		key = ""
		if img, ok := session.ImageOf(sess.State); ok {
			key = img.Key
		}
		return sess.Apply(session.ResetRequested{}, s.now())
	})
	if err != nil {
		return nil, err
	}
	if key != "" {
		s.deleteImage(id, key)
	}
	return sess, nil
}

// Image returns the bytes and MIME type of the session's current image
func (s *SessionService) Image(ctx context.Context, id string) ([]byte, string, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	img, ok := session.ImageOf(sess.State)
	if !ok {
		return nil, "", ErrNoImage
	}
	data, mimeType, err := s.images.Get(ctx, img.Key)
	if err != nil {
		s.log.WithFields(logrus.Fields{"session_id": id, "key": img.Key, "error": err}).Error("Failed to load image preview")
		return nil, "", fmt.Errorf("%w: %v", ErrImageRender, err)
	}
	if mimeType == "" {
		mimeType = img.MIMEType
	}
	return data, mimeType, nil
}

func (s *SessionService) apply(ctx context.Context, id string, e session.Event) (*session.Session, error) {
	return s.sessions.Update(ctx, id, func(sess *session.Session) error {
		return sess.Apply(e, s.now())
	})
}

// request applies a client initiated event
func (s *SessionService) request(ctx context.Context, id string, e session.Event) (*session.Session, error) {
	return s.sessions.Update(ctx, id, func(sess *session.Session) error {
		if err := s.releaseAbandoned(sess); err != nil {
			return err
		}
		return sess.Apply(e, s.now())
	})
}

// releaseAbandoned fails an analysis that should have settled long ago, for
// example because the process running it stopped. The session can then be
// reset, re-analyzed or given a new image.
func (s *SessionService) releaseAbandoned(sess *session.Session) error {
	st, ok := sess.State.(session.Analyzing)
	if !ok || s.now().Sub(st.StartedAt) <= s.opts.AnalysisTimeout+settleGrace {
		return nil
	}
	s.log.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"request_id": st.RequestID,
		"started_at": st.StartedAt,
	}).Warn("Releasing abandoned analysis")
	return sess.Apply(session.AnalysisFailed{RequestID: st.RequestID, Reason: session.NetworkFailure}, s.now())
}

func (s *SessionService) deleteImage(id, key string) {
	if err := s.images.Delete(context.Background(), key); err != nil {
		s.log.WithFields(logrus.Fields{"session_id": id, "key": key, "error": err}).Warn("Failed to delete image")
	}
}
