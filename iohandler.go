package hostloop

import (
	"github.com/joeycumines/go-hostloop/gmain"
)

// IOSource is an I/O collaborator of the reactor, such as a user-mode
// network backend. Each iteration, Fill adds the descriptors it wants
// watched to sets and may lower *timeout (milliseconds, -1 for infinite).
// After the wait, Poll receives the observed readiness; failed reports that
// the blocking wait itself failed, in which case sets carry no readiness.
//
// The reactor's own descriptor handler table has exactly this shape.
type IOSource interface {
	Fill(sets *FDSets, timeout *int)
	Poll(sets *FDSets, failed bool)
}

type fdHandler struct {
	readPoll func() bool
	onRead   func()
	onWrite  func()
	fd       int
	deleted  bool
}

// fdHandlerTable maps descriptors to read and write callbacks. Entries
// removed while dispatching are marked deleted, never invoked again, and
// purged when the pass completes.
type fdHandlerTable struct {
	diag     *diagnostics
	stats    *stats
	handlers []*fdHandler
	walking  bool
}

var _ IOSource = (*fdHandlerTable)(nil)

func (t *fdHandlerTable) find(fd int) *fdHandler {
	for _, h := range t.handlers {
		if h.fd == fd && !h.deleted {
			return h
		}
	}
	return nil
}

func (t *fdHandlerTable) set(fd int, readPoll func() bool, onRead, onWrite func()) {
	if onRead == nil && onWrite == nil {
		t.remove(fd)
		return
	}
	h := t.find(fd)
	if h == nil {
		h = &fdHandler{fd: fd}
		t.handlers = append(t.handlers, h)
	}
	h.readPoll = readPoll
	h.onRead = onRead
	h.onWrite = onWrite
}

func (t *fdHandlerTable) remove(fd int) {
	h := t.find(fd)
	if h == nil {
		return
	}
	h.deleted = true
	if !t.walking {
		t.purge()
	}
}

func (t *fdHandlerTable) purge() {
	live := t.handlers[:0]
	for _, h := range t.handlers {
		if !h.deleted {
			live = append(live, h)
		}
	}
	clear(t.handlers[len(live):])
	t.handlers = live
}

func (t *fdHandlerTable) len() int {
	return len(t.handlers)
}

// Fill implements IOSource. A handler's read side is watched only if
// readPoll is nil or reports that it can accept data.
func (t *fdHandlerTable) Fill(sets *FDSets, timeout *int) {
	for _, h := range t.handlers {
		if h.deleted {
			continue
		}
		if h.onRead != nil && (h.readPoll == nil || h.readPoll()) {
			sets.Add(h.fd, gmain.IOIn)
		}
		if h.onWrite != nil {
			sets.Add(h.fd, gmain.IOOut)
		}
	}
}

// Poll implements IOSource. Each handler present when the pass starts is
// invoked at most once per direction.
func (t *fdHandlerTable) Poll(sets *FDSets, failed bool) {
	if !failed {
		t.walking = true
		for i, n := 0, len(t.handlers); i < n; i++ {
			h := t.handlers[i]
			if !h.deleted && h.onRead != nil && sets.Read.IsSet(h.fd) {
				t.stats.fdDispatches.Add(1)
				t.diag.safeExecute(categoryPoll, h.onRead)
			}
			if !h.deleted && h.onWrite != nil && sets.Write.IsSet(h.fd) {
				t.stats.fdDispatches.Add(1)
				t.diag.safeExecute(categoryPoll, h.onWrite)
			}
		}
		t.walking = false
	}
	t.purge()
}
