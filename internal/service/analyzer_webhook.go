package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// maxWebhookResponse bounds how much of an upstream reply is read
const maxWebhookResponse = 4 << 20

// UpstreamError is returned when the webhook answers with a non-2xx status
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("analysis webhook returned status %d: %s", e.StatusCode, e.Body)
}

// WebhookAnalyzer forwards images to an external analysis workflow
type WebhookAnalyzer struct {
	url    string
	token  string
	client *http.Client
	log    *logrus.Entry
}

// NewWebhookAnalyzer creates an analyzer that POSTs to url. token is sent as a
// bearer token when set.
func NewWebhookAnalyzer(url, token string, timeout time.Duration) *WebhookAnalyzer {
	return &WebhookAnalyzer{
		url:   url,
		token: token,
		client: &http.Client{
			Timeout: timeout,
		},
		log: logrus.WithField("component", "webhook_analyzer"),
	}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Analyze submits the image as the multipart field "image" and returns the raw reply
func (w *WebhookAnalyzer) Analyze(ctx context.Context, img ImagePayload) ([]byte, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	name := img.Name
	if name == "" {
		name = "meal"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, quoteEscaper.Replace(name)))
	header.Set("Content-Type", img.MIMEType)

	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, fmt.Errorf("failed to write image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	start := time.Now()
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponse))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	entry := w.log.WithFields(logrus.Fields{
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
		"bytes":    len(data),
	})
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		entry.Warn("Analysis webhook request failed")
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: truncate(string(data), 256)}
	}
	entry.Debug("Analysis webhook responded")
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
