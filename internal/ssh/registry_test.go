package ssh

import (
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "devpulse/internal/error"
)

type fakeConn struct {
	mu           sync.Mutex
	closes       atomic.Int32
	keepaliveErr error
	newSession   func() (RemoteSession, error)
}

func (f *fakeConn) NewSession() (RemoteSession, error) {
	if f.newSession != nil {
		return f.newSession()
	}
	return nil, errors.New("channels not supported")
}

func (f *fakeConn) SendRequest(string, bool, []byte) (bool, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keepaliveErr == nil, nil, f.keepaliveErr
}

func (f *fakeConn) Close() error {
	f.closes.Add(1)
	return nil
}

func (f *fakeConn) failKeepalive(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keepaliveErr = err
}

func TestNewSessionID(t *testing.T) {
	id := NewSessionID("10.0.0.7")
	assert.Regexp(t, regexp.MustCompile(`^ssh_10\.0\.0\.7_\d+_[0-9a-f-]{8}$`), id)
	assert.NotEqual(t, id, NewSessionID("10.0.0.7"), "same host in the same second must differ")
}

func TestRegistryInsertRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Insert(NewSession("s1", "h", 22, "u", &fakeConn{})))

	err := r.Insert(NewSession("s1", "h", 22, "u", &fakeConn{}))
	require.ErrorIs(t, err, ErrSessionExists)
	assert.True(t, apperr.Is(err, apperr.SessionError))
	assert.Equal(t, 1, r.Len())
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	a, b := &fakeConn{}, &fakeConn{}
	require.NoError(t, r.Insert(NewSession("a", "h1", 22, "u", a)))
	require.NoError(t, r.Insert(NewSession("b", "h2", 22, "u", b)))

	require.NoError(t, r.Remove("a"))
	err := r.Remove("a")
	require.ErrorIs(t, err, ErrSessionNotFound)
	assert.Contains(t, err.Error(), "not found")

	assert.Equal(t, int32(1), a.closes.Load(), "transport closed exactly once")
	assert.Zero(t, b.closes.Load())
	assert.Equal(t, []string{"b"}, r.IDs())
	require.NoError(t, r.With("b", func(*Session) error { return nil }))
}

func TestRegistryWithUnknown(t *testing.T) {
	r := NewRegistry()
	called := false
	err := r.With("ghost", func(*Session) error { called = true; return nil })
	require.ErrorIs(t, err, ErrSessionNotFound)
	assert.False(t, called)
}

func TestRegistrySerializesPerSession(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Insert(NewSession("a", "h1", 22, "u", &fakeConn{})))
	require.NoError(t, r.Insert(NewSession("b", "h2", 22, "u", &fakeConn{})))

	release := make(chan struct{})
	holding := make(chan struct{})
	go func() {
		_ = r.With("a", func(*Session) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	// other sessions are not blocked
	done := make(chan struct{})
	go func() {
		_ = r.With("b", func(*Session) error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("operation on b blocked behind a")
	}

	// the same session is
	second := make(chan struct{})
	go func() {
		_ = r.With("a", func(*Session) error { return nil })
		close(second)
	}()
	select {
	case <-second:
		t.Fatal("second operation on a ran concurrently")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("second operation on a never ran")
	}
}

func TestRegistryRemoveWaitsForInFlight(t *testing.T) {
	r := NewRegistry()
	conn := &fakeConn{}
	require.NoError(t, r.Insert(NewSession("a", "h", 22, "u", conn)))

	release := make(chan struct{})
	holding := make(chan struct{})
	go func() {
		_ = r.With("a", func(*Session) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	removed := make(chan error, 1)
	go func() { removed <- r.Remove("a") }()

	select {
	case <-removed:
		t.Fatal("remove returned while an operation was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Zero(t, conn.closes.Load())

	close(release)
	require.NoError(t, <-removed)
	assert.Equal(t, int32(1), conn.closes.Load())
	assert.ErrorIs(t, r.With("a", func(*Session) error { return nil }), ErrSessionNotFound)
}

func TestRegistryKeepAliveEvicts(t *testing.T) {
	r := NewRegistry(WithKeepAlive(10 * time.Millisecond))
	healthy, broken := &fakeConn{}, &fakeConn{}
	require.NoError(t, r.Insert(NewSession("ok", "h1", 22, "u", healthy)))
	require.NoError(t, r.Insert(NewSession("bad", "h2", 22, "u", broken)))

	broken.failKeepalive(errors.New("connection reset"))

	require.Eventually(t, func() bool { return r.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ok"}, r.IDs())
	assert.Equal(t, int32(1), broken.closes.Load())

	r.CloseAll()
	assert.Zero(t, r.Len())
	assert.Equal(t, int32(1), healthy.closes.Load())
}
