package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-bot-client/internal/methods"
	"telegram-bot-client/internal/metrics"
)

const testToken = "123456:ABC-DEF1234ghIkl-zyx57W2v1u123ew11"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestHTTPSession(t *testing.T, handler http.HandlerFunc, opts ...Option) *HTTPSession {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts = append([]Option{
		WithAPIServer(NewAPIServerFromBase(server.URL, false)),
		WithLogger(testLogger()),
	}, opts...)
	s := NewHTTPSession(opts...)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestHTTPSession_MakeRequest_Form(t *testing.T) {
	var gotPath string
	var gotForm map[string][]string

	s := newTestHTTPSession(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		writeJSON(w, http.StatusOK, `{"ok":true,"result":{"message_id":1}}`)
	})

	req, err := methods.SendMessage{
		ChatID:      int64(-100123),
		Text:        "hello",
		ReplyMarkup: map[string]any{"inline_keyboard": []any{[]any{map[string]any{"text": "a", "url": nil}}}},
	}.BuildRequest()
	require.NoError(t, err)

	result, err := s.MakeRequest(context.Background(), testToken, req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"message_id":1}`, string(result))

	assert.Equal(t, "/bot"+testToken+"/sendMessage", gotPath)
	assert.Equal(t, "-100123", gotForm["chat_id"][0])
	assert.Equal(t, "hello", gotForm["text"][0])
	assert.Equal(t, `{"inline_keyboard": [[{"text": "a"}]]}`, gotForm["reply_markup"][0])
	assert.NotContains(t, gotForm, "parse_mode")
	assert.NotContains(t, gotForm, "disable_notification")
}

func TestHTTPSession_MakeRequest_Multipart(t *testing.T) {
	var gotCaption, gotFilename, gotContent string

	s := newTestHTTPSession(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		gotCaption = r.FormValue("caption")

		file, header, err := r.FormFile("document")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		gotFilename = header.Filename
		gotContent = string(data)

		writeJSON(w, http.StatusOK, `{"ok":true,"result":{"message_id":2}}`)
	})

	req, err := methods.SendDocument{
		ChatID:   int64(7),
		Document: methods.FileFromBytes("notes.txt", []byte("file body")),
		Caption:  methods.Ptr("see attached"),
	}.BuildRequest()
	require.NoError(t, err)

	_, err = s.MakeRequest(context.Background(), testToken, req)
	require.NoError(t, err)

	assert.Equal(t, "see attached", gotCaption)
	assert.Equal(t, "notes.txt", gotFilename)
	assert.Equal(t, "file body", gotContent)
}

func TestHTTPSession_MakeRequest_APIErrors(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "bad request",
			status: http.StatusBadRequest,
			body:   `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrBadRequest)
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, "sendMessage", apiErr.Method)
				assert.Equal(t, "Bad Request: chat not found", apiErr.Description)
			},
		},
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   `{"ok":false,"error_code":401,"description":"Unauthorized"}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrUnauthorized)
			},
		},
		{
			name:   "flood control",
			status: http.StatusTooManyRequests,
			body:   `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 5","parameters":{"retry_after":5}}`,
			check: func(t *testing.T, err error) {
				var retryErr *RetryAfterError
				require.ErrorAs(t, err, &retryErr)
				assert.Equal(t, 5*time.Second, retryErr.RetryAfter)
				var apiErr *APIError
				assert.ErrorAs(t, err, &apiErr)
			},
		},
		{
			name:   "migrated chat",
			status: http.StatusBadRequest,
			body:   `{"ok":false,"error_code":400,"description":"Bad Request: group chat was upgraded","parameters":{"migrate_to_chat_id":-1001}}`,
			check: func(t *testing.T, err error) {
				var migrateErr *MigrateToChatError
				require.ErrorAs(t, err, &migrateErr)
				assert.Equal(t, int64(-1001), migrateErr.ChatID)
				assert.ErrorIs(t, err, ErrBadRequest)
			},
		},
		{
			name:   "server error",
			status: http.StatusBadGateway,
			body:   `{"ok":false,"description":"Bad Gateway"}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrServerError)
			},
		},
		{
			name:   "malformed",
			status: http.StatusBadGateway,
			body:   `<html>nginx</html>`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrMalformedResponse)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestHTTPSession(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tc.status, tc.body)
			})

			req, err := methods.SendMessage{ChatID: int64(1), Text: "x"}.BuildRequest()
			require.NoError(t, err)

			_, err = s.MakeRequest(context.Background(), testToken, req)
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestHTTPSession_MakeRequest_Timeout(t *testing.T) {
	release := make(chan struct{})
	s := newTestHTTPSession(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, WithTimeout(50*time.Millisecond))
	defer close(release)

	_, err := s.MakeRequest(context.Background(), testToken, methods.NewRequest("getMe"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.NotContains(t, err.Error(), testToken)
}

func TestHTTPSession_RequestTimeoutExtendsSessionTimeout(t *testing.T) {
	s := newTestHTTPSession(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		writeJSON(w, http.StatusOK, `{"ok":true,"result":[]}`)
	}, WithTimeout(20*time.Millisecond))

	req := methods.NewRequest("getUpdates")
	req.Timeout = 2 * time.Second

	result, err := s.MakeRequest(context.Background(), testToken, req)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`[]`), result)
}

func TestHTTPSession_TransportErrorHidesToken(t *testing.T) {
	s := NewHTTPSession(
		WithAPIServer(NewAPIServerFromBase("http://127.0.0.1:1", false)),
		WithLogger(testLogger()),
	)
	defer s.Close(context.Background())

	_, err := s.MakeRequest(context.Background(), testToken, methods.NewRequest("getMe"))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testToken)
	assert.Contains(t, err.Error(), redactedToken)
}

func TestHTTPSession_StreamContent(t *testing.T) {
	s := newTestHTTPSession(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/missing") {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "binary content")
	})

	var buf bytes.Buffer
	n, err := s.StreamContent(context.Background(), s.API().FileURL(testToken, "docs/file.bin"), &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len("binary content")), n)
	assert.Equal(t, "binary content", buf.String())

	_, err = s.StreamContent(context.Background(), s.API().FileURL(testToken, "missing"), io.Discard)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPSession_ClosedSessionRejectsRequests(t *testing.T) {
	s := newTestHTTPSession(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"ok":true,"result":true}`)
	})

	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))
	assert.True(t, s.conn.released.Load())

	_, err := s.MakeRequest(context.Background(), testToken, methods.NewRequest("getMe"))
	assert.ErrorIs(t, err, ErrSessionClosed)

	_, err = s.StreamContent(context.Background(), "http://example.invalid", io.Discard)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestHTTPSession_TeardownReleasesConnection(t *testing.T) {
	s := NewHTTPSession(WithLogger(testLogger()))

	select {
	case err := <-s.Teardown():
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("teardown did not complete")
	}
	assert.True(t, s.conn.released.Load())
}

func TestHTTPSession_ReleasedWhenCollected(t *testing.T) {
	collected := metrics.SessionsClosed.WithLabelValues("collected")
	before := testutil.ToFloat64(collected)

	func() {
		s := NewHTTPSession(WithLogger(testLogger()))
		assert.False(t, s.Closed())
	}()

	assert.Eventually(t, func() bool {
		runtime.GC()
		return testutil.ToFloat64(collected) > before
	}, 5*time.Second, 20*time.Millisecond)
}

func TestCheckResponse(t *testing.T) {
	result, err := CheckResponse("getMe", http.StatusOK, []byte(`{"ok":true,"result":{"id":1}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1}`, string(result))

	// ok with a non-success status is still a failure
	_, err = CheckResponse("getMe", http.StatusConflict, []byte(`{"ok":true,"result":true}`))
	assert.ErrorIs(t, err, ErrConflict)

	_, err = CheckResponse("getMe", http.StatusRequestEntityTooLarge, []byte(`{"ok":false,"error_code":413,"description":"Request Entity Too Large"}`))
	assert.ErrorIs(t, err, ErrEntityTooLarge)

	_, err = CheckResponse("getMe", http.StatusForbidden, []byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
	assert.ErrorIs(t, err, ErrForbidden)
	assert.False(t, errors.Is(err, ErrBadRequest))
}
