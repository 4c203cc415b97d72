package hostloop

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/require"
)

// newTestReactor returns a reactor with the signal bridge disabled, closed
// when the test ends.
func newTestReactor(t *testing.T, opts ...Option) *Reactor {
	t.Helper()
	r, err := New(append([]Option{WithSignalBridge(false)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger(w *syncBuffer) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelTrace),
	).Logger()
}

// fakeTime is a manually advanced time source.
type fakeTime struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeTime() *fakeTime {
	return &fakeTime{now: time.Unix(1_700_000_000, 0)}
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// countingLock records how often the global lock is released.
type countingLock struct {
	mu      sync.Mutex
	unlocks int
	held    bool
}

func (l *countingLock) Lock() {
	l.mu.Lock()
	l.held = true
}

func (l *countingLock) Unlock() {
	l.unlocks++
	l.held = false
	l.mu.Unlock()
}

// holdLock acquires the global lock for the rest of the test, as blocking
// iterations require.
func holdLock(t *testing.T, r *Reactor) {
	t.Helper()
	r.GlobalLock().Lock()
	t.Cleanup(r.GlobalLock().Unlock)
}
