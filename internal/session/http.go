package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"mime/multipart"
	"net/http"
	"net/url"
	"runtime"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"telegram-bot-client/internal/methods"
	"telegram-bot-client/internal/metrics"
)

const redactedToken = "<redacted>"

// HTTPSession executes Bot API requests over HTTP
type HTTPSession struct {
	*Base
	conn *connection
}

// connection owns the HTTP client. It is kept apart from HTTPSession so the
// collection fallback can release it without keeping the session alive.
type connection struct {
	client   *http.Client
	logger   *slog.Logger
	released atomic.Bool
}

func (c *connection) release(reason string) {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	c.client.CloseIdleConnections()
	metrics.SessionsClosed.WithLabelValues(reason).Inc()
}

// NewHTTPSession creates an HTTP session. Callers own the session and must
// Close it; a session collected while still open is released on a
// best-effort basis and a warning is logged.
func NewHTTPSession(opts ...Option) *HTTPSession {
	s := newSettings(opts)

	client := s.client
	if client == nil {
		client = &http.Client{
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		}
	}

	conn := &connection{client: client, logger: s.logger}
	logger := s.logger
	release := func(ctx context.Context) error {
		conn.release("close")
		logger.Debug("HTTP session closed")
		return nil
	}

	session := &HTTPSession{
		Base: newBase(release, s),
		conn: conn,
	}

	runtime.AddCleanup(session, func(c *connection) {
		if c.released.Load() {
			return
		}
		c.logger.Warn("HTTP session was not closed before being collected, releasing connections")
		c.release("collected")
	}, conn)

	return session
}

// MakeRequest posts the request to the API server and checks the response
func (s *HTTPSession) MakeRequest(ctx context.Context, token string, req *methods.Request) (json.RawMessage, error) {
	if s.Closed() {
		return nil, fmt.Errorf("%s: %w", req.Method, ErrSessionClosed)
	}

	timeout := s.Timeout()
	if req.Timeout > timeout {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, contentType, err := buildBody(req)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build request body: %w", req.Method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.API().APIURL(token, req.Method), body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", req.Method, redactURL(err, s.API().APIURL(redactedToken, req.Method)))
	}
	httpReq.Header.Set("Content-Type", contentType)

	requestID := uuid.NewString()
	s.Logger().Debug("Sending Bot API request",
		"request_id", requestID,
		"method", req.Method,
		"multipart", req.HasFiles(),
		"timeout", timeout)

	start := time.Now()
	resp, err := s.conn.client.Do(httpReq)
	metrics.RequestLatency.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(req.Method, "transport_error").Inc()
		err = redactURL(err, s.API().APIURL(redactedToken, req.Method))
		s.Logger().Error("Bot API request failed",
			"request_id", requestID,
			"method", req.Method,
			"error", err)

		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: request timed out after %v: %w", req.Method, timeout, err)
		}
		return nil, fmt.Errorf("%s: request failed: %w", req.Method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(req.Method, "transport_error").Inc()
		return nil, fmt.Errorf("%s: failed to read response: %w", req.Method, err)
	}

	result, err := CheckResponse(req.Method, resp.StatusCode, data)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(req.Method, "api_error").Inc()
		s.Logger().Warn("Bot API returned an error",
			"request_id", requestID,
			"method", req.Method,
			"status", resp.StatusCode,
			"error", err)
		return nil, err
	}

	metrics.RequestsTotal.WithLabelValues(req.Method, "ok").Inc()
	s.Logger().Debug("Bot API request completed",
		"request_id", requestID,
		"method", req.Method,
		"duration", time.Since(start))

	return result, nil
}

// StreamContent downloads url into w and returns the number of bytes copied
func (s *HTTPSession) StreamContent(ctx context.Context, rawURL string, w io.Writer) (int64, error) {
	if s.Closed() {
		return 0, fmt.Errorf("download: %w", ErrSessionClosed)
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("download: failed to create request: %w", redactURL(err, "<file url>"))
	}

	resp, err := s.conn.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download failed: %w", redactURL(err, "<file url>"))
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, &APIError{
			Method:      "download",
			Code:        resp.StatusCode,
			Description: strings.TrimSpace(string(snippet)),
			kind:        kindForCode(resp.StatusCode),
		}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download interrupted after %d bytes: %w", n, err)
	}
	return n, nil
}

// buildBody encodes the request as a URL-encoded form, or as multipart form
// data when it carries files. Null parameters are omitted.
func buildBody(req *methods.Request) (io.Reader, string, error) {
	values := make([][2]string, 0, len(req.Data))
	for _, field := range req.Data {
		if isNull(field.Value) {
			continue
		}
		value, err := PrepareValue(field.Value)
		if err != nil {
			return nil, "", fmt.Errorf("parameter %s: %w", field.Key, err)
		}
		values = append(values, [2]string{field.Key, value})
	}

	if !req.HasFiles() {
		form := url.Values{}
		for _, kv := range values {
			form.Set(kv[0], kv[1])
		}
		return strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", nil
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, kv := range values {
		if err := writer.WriteField(kv[0], kv[1]); err != nil {
			return nil, "", fmt.Errorf("parameter %s: %w", kv[0], err)
		}
	}

	for _, key := range slices.Sorted(maps.Keys(req.Files)) {
		if err := writeFile(writer, key, req.Files[key]); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish multipart body: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

func writeFile(writer *multipart.Writer, key string, file methods.InputFile) error {
	part, err := writer.CreateFormFile(key, file.Filename())
	if err != nil {
		return fmt.Errorf("file %s: %w", key, err)
	}

	rc, err := file.Open()
	if err != nil {
		return fmt.Errorf("file %s: %w", key, err)
	}
	defer rc.Close()

	if _, err := io.Copy(part, rc); err != nil {
		return fmt.Errorf("file %s: failed to copy content: %w", key, err)
	}
	return nil
}

// redactURL hides the request URL, which embeds the bot token, from errors
func redactURL(err error, replacement string) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = replacement
	}
	return err
}
