package session

import (
	"context"
	"sync"
)

// ReleaseFunc frees the transport resources held by a session
type ReleaseFunc func(ctx context.Context) error

// lifecycle runs a release function exactly once, whichever of Close or
// Teardown gets there first, and hands the same result to every caller.
type lifecycle struct {
	once    sync.Once
	release ReleaseFunc
	done    chan struct{}
	err     error
}

func newLifecycle(release ReleaseFunc) *lifecycle {
	return &lifecycle{
		release: release,
		done:    make(chan struct{}),
	}
}

func (l *lifecycle) close(ctx context.Context) error {
	l.once.Do(func() {
		if l.release != nil {
			l.err = l.release(ctx)
		}
		close(l.done)
	})
	return l.err
}

// teardown schedules the close on its own goroutine so that callers which
// cannot block still trigger it.
func (l *lifecycle) teardown() <-chan error {
	result := make(chan error, 1)
	go func() {
		result <- l.close(context.Background())
	}()
	return result
}

func (l *lifecycle) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}
