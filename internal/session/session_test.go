package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-bot-client/internal/methods"
)

// stubSession is the smallest Session: it answers every request with a fixed
// result and counts how many times its transport was released.
type stubSession struct {
	*Base
	releases atomic.Int32
	result   json.RawMessage
}

func newStubSession(releaseErr error) *stubSession {
	s := &stubSession{result: json.RawMessage(`true`)}
	s.Base = NewBase(func(ctx context.Context) error {
		s.releases.Add(1)
		return releaseErr
	})
	return s
}

func (s *stubSession) MakeRequest(ctx context.Context, token string, req *methods.Request) (json.RawMessage, error) {
	if s.Closed() {
		return nil, ErrSessionClosed
	}
	return s.result, nil
}

func (s *stubSession) StreamContent(ctx context.Context, url string, w io.Writer) (int64, error) {
	return 0, nil
}

var _ Session = (*stubSession)(nil)
var _ Session = (*HTTPSession)(nil)

func waitTeardown(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("teardown did not complete")
		return nil
	}
}

func TestTeardown_FromSynchronousCaller(t *testing.T) {
	s := newStubSession(nil)

	err := waitTeardown(t, s.Teardown())
	require.NoError(t, err)

	assert.Equal(t, int32(1), s.releases.Load())
	assert.True(t, s.Closed())
}

func TestTeardown_FromRunningGoroutines(t *testing.T) {
	s := newStubSession(nil)

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- <-s.Teardown()
		}()
	}
	wg.Wait()
	close(results)

	for err := range results {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), s.releases.Load())
}

func TestClose_AfterTeardownDoesNotReleaseAgain(t *testing.T) {
	releaseErr := errors.New("connection reset")
	s := newStubSession(releaseErr)

	err := waitTeardown(t, s.Teardown())
	assert.ErrorIs(t, err, releaseErr)

	err = s.Close(context.Background())
	assert.ErrorIs(t, err, releaseErr)
	assert.Equal(t, int32(1), s.releases.Load())

	select {
	case <-s.Done():
	default:
		t.Error("Done channel should be closed")
	}
}

func TestUse_ClosesOnEveryExitPath(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		s := newStubSession(nil)
		err := Use(context.Background(), s, func(sess Session) error {
			_, err := sess.MakeRequest(context.Background(), "token", methods.NewRequest("getMe"))
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, int32(1), s.releases.Load())
	})

	t.Run("error", func(t *testing.T) {
		s := newStubSession(nil)
		boom := errors.New("boom")
		err := Use(context.Background(), s, func(Session) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.True(t, s.Closed())
	})

	t.Run("close error is joined", func(t *testing.T) {
		closeErr := errors.New("close failed")
		s := newStubSession(closeErr)
		err := Use(context.Background(), s, func(Session) error { return nil })
		assert.ErrorIs(t, err, closeErr)
	})

	t.Run("panic", func(t *testing.T) {
		s := newStubSession(nil)
		assert.Panics(t, func() {
			_ = Use(context.Background(), s, func(Session) error { panic("kaboom") })
		})
		assert.Equal(t, int32(1), s.releases.Load())
	})
}

func TestNewBase_Defaults(t *testing.T) {
	b := NewBase(nil)

	assert.Equal(t, ProductionServer, b.API())
	assert.Equal(t, DefaultTimeout, b.Timeout())
	assert.NotNil(t, b.Logger())
	assert.NoError(t, b.Close(context.Background()))
	assert.True(t, b.Closed())
}

func TestNewBase_Options(t *testing.T) {
	api := NewAPIServerFromBase("http://localhost:8081", true)
	b := NewBase(nil, WithAPIServer(api), WithTimeout(5*time.Second), WithTimeout(-1))

	assert.Equal(t, api, b.API())
	assert.Equal(t, DefaultTimeout, b.Timeout())

	b = NewBase(nil, WithTimeout(5*time.Second))
	assert.Equal(t, 5*time.Second, b.Timeout())
}

func TestAPIServer_URLs(t *testing.T) {
	assert.Equal(t, "https://api.telegram.org/bot42:TOKEN/getMe", ProductionServer.APIURL("42:TOKEN", "getMe"))
	assert.Equal(t, "https://api.telegram.org/file/bot42:TOKEN/documents/file_1.txt",
		ProductionServer.FileURL("42:TOKEN", "documents/file_1.txt"))

	local := NewAPIServerFromBase("http://localhost:8081/", true)
	assert.True(t, local.IsLocal)
	assert.Equal(t, "http://localhost:8081/bot1:x/sendMessage", local.APIURL("1:x", "sendMessage"))
	assert.Equal(t, "http://localhost:8081/file/bot1:x/a/b", local.FileURL("1:x", "/a/b"))
}
