// Package executortest provides a mock TaskExecutor for package tests.
package executortest

import (
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/ikmak/mongo-fetcher/errcode"
	"github.com/ikmak/mongo-fetcher/executor"
)

// Mock is a TaskExecutor that queues submissions until the test completes
// them with Deliver or DeliverError. Deliveries happen on the calling
// goroutine, which keeps handler invocations serialized as long as the
// mock is driven from a single test goroutine.
type Mock struct {
	mu       sync.Mutex
	pending  []*submission
	shutdown bool
}

type submission struct {
	req      *executor.Request
	handler  executor.ResponseHandler
	canceled bool
}

// New returns an empty Mock.
func New() *Mock {
	return &Mock{}
}

// Submit implements executor.TaskExecutor.
func (m *Mock) Submit(req *executor.Request, onComplete executor.ResponseHandler) (executor.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return nil, errcode.New(errcode.ShutdownInProgress, "executor shutdown in progress")
	}
	s := &submission{req: req, handler: onComplete}
	m.pending = append(m.pending, s)
	return s, nil
}

// Cancel implements executor.TaskExecutor. A canceled submission reports
// CallbackCanceled when it is eventually delivered. Canceling a completed
// or foreign handle is a no-op.
func (m *Mock) Cancel(h executor.Handle) {
	s, ok := h.(*submission)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pending {
		if p == s {
			p.canceled = true
		}
	}
}

// HasPending reports whether any submission is awaiting delivery.
func (m *Mock) HasPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending) > 0
}

// PendingCount returns the number of submissions awaiting delivery.
func (m *Mock) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// LastRequest returns the request of the most recent pending submission,
// or nil when nothing is pending.
func (m *Mock) LastRequest() *executor.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil
	}
	return m.pending[len(m.pending)-1].req
}

// Deliver completes the oldest pending submission with reply. A canceled
// submission reports CallbackCanceled instead of the reply. It panics when
// nothing is pending.
func (m *Mock) Deliver(reply bson.Raw) {
	s := m.pop()
	resp := executor.Response{Reply: reply}
	if s.canceled {
		resp = executor.Response{Err: errcode.New(errcode.CallbackCanceled, "command canceled")}
	}
	s.handler(resp)
}

// DeliverError completes the oldest pending submission with err. A
// canceled submission reports CallbackCanceled instead. It panics when
// nothing is pending.
func (m *Mock) DeliverError(err error) {
	s := m.pop()
	if s.canceled {
		err = errcode.New(errcode.CallbackCanceled, "command canceled")
	}
	s.handler(executor.Response{Err: err})
}

// Shutdown rejects all future submissions with ShutdownInProgress and
// drains the pending ones with that same status.
func (m *Mock) Shutdown() {
	m.mu.Lock()
	m.shutdown = true
	drained := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, s := range drained {
		s.handler(executor.Response{Err: errcode.New(errcode.ShutdownInProgress, "executor shutdown in progress")})
	}
}

func (m *Mock) pop() *submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		panic("executortest: no pending submissions")
	}
	s := m.pending[0]
	m.pending = m.pending[1:]
	return s
}
