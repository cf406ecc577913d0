package executor

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/semaphore"

	"github.com/ikmak/mongo-fetcher/errcode"
)

const defaultMaxInFlight = 64

// Runner executes one command against a server and returns the raw reply
// document. A reply carrying {ok: 0, ...} is returned as a document, not an
// error; errors are reserved for transport-level failures. Runners must
// honor ctx cancellation.
type Runner func(ctx context.Context, req *Request) (bson.Raw, error)

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger used for submission and completion events.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMaxInFlight bounds the number of concurrently executing submissions.
func WithMaxInFlight(n int64) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxInFlight = n
		}
	}
}

// Executor runs submitted commands through a Runner, each on its own
// goroutine, and delivers response handlers serialized with respect to each
// other. It implements TaskExecutor.
type Executor struct {
	run         Runner
	log         logrus.FieldLogger
	maxInFlight int64
	sem         *semaphore.Weighted

	ctx      context.Context
	cancelFn context.CancelFunc
	wg       sync.WaitGroup

	// deliverMu serializes handler invocations.
	deliverMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

type task struct {
	cancelFn context.CancelFunc

	mu       sync.Mutex
	canceled bool
}

func (t *task) cancel() {
	t.mu.Lock()
	t.canceled = true
	t.mu.Unlock()
	t.cancelFn()
}

func (t *task) wasCanceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}

// New returns an Executor that executes submissions through run.
func New(run Runner, opts ...Option) (*Executor, error) {
	if run == nil {
		return nil, errcode.New(errcode.BadValue, "runner cannot be nil")
	}

	e := &Executor{
		run:         run,
		log:         logrus.StandardLogger(),
		maxInFlight: defaultMaxInFlight,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sem = semaphore.NewWeighted(e.maxInFlight)
	e.ctx, e.cancelFn = context.WithCancel(context.Background())

	return e, nil
}

// Submit implements TaskExecutor.
func (e *Executor) Submit(req *Request, onComplete ResponseHandler) (Handle, error) {
	if req == nil {
		return nil, errcode.New(errcode.BadValue, "request cannot be nil")
	}
	if onComplete == nil {
		return nil, errcode.New(errcode.BadValue, "response handler cannot be nil")
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, errcode.New(errcode.ShutdownInProgress, "executor shutdown in progress")
	}
	ctx, cancel := context.WithCancel(e.ctx)
	t := &task{cancelFn: cancel}
	e.wg.Add(1)
	e.mu.Unlock()

	log := e.log.WithFields(logrus.Fields{
		"target":   req.Target,
		"database": req.Database,
	})
	log.Debug("submitting command")

	go func() {
		defer e.wg.Done()
		defer cancel()

		var resp Response
		if err := e.sem.Acquire(ctx, 1); err != nil {
			resp.Err = e.interruption(t)
		} else {
			reply, err := e.run(ctx, req)
			e.sem.Release(1)
			switch {
			case ctx.Err() != nil:
				resp.Err = e.interruption(t)
			case err != nil:
				resp.Err = classify(err)
			default:
				resp.Reply = reply
			}
		}

		if resp.Err != nil {
			log.WithError(resp.Err).Warn("command failed")
		} else {
			log.Debug("command completed")
		}

		e.deliverMu.Lock()
		defer e.deliverMu.Unlock()
		onComplete(resp)
	}()

	return t, nil
}

// Cancel implements TaskExecutor.
func (e *Executor) Cancel(h Handle) {
	t, ok := h.(*task)
	if !ok || t == nil {
		return
	}
	t.cancel()
}

// Shutdown stops accepting new submissions and interrupts pending ones.
// Pending submissions still deliver their handlers, reporting
// ShutdownInProgress. Shutdown does not wait for those deliveries; use Join
// for that. Idempotent, and safe to call from inside a response handler.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.log.Debug("executor shutting down")
	e.cancelFn()
}

// Join blocks until every accepted submission has delivered its handler.
// It must not be called from inside a response handler.
func (e *Executor) Join() {
	e.wg.Wait()
}

// interruption reports why an interrupted task failed: an explicit Cancel
// wins over executor shutdown.
func (e *Executor) interruption(t *task) error {
	if t.wasCanceled() {
		return errcode.New(errcode.CallbackCanceled, "command canceled")
	}
	return errcode.New(errcode.ShutdownInProgress, "executor shutdown in progress")
}

func classify(err error) error {
	if errcode.CodeOf(err) != errcode.UnknownError {
		return err
	}
	return errcode.Newf(errcode.HostUnreachable, "failed to execute command: %s", err)
}
