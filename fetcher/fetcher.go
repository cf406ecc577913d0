// Package fetcher implements a client for commands that reply with a
// command cursor.
//
// A Fetcher submits a cursor-returning command (find, listIndexes,
// listCollections, ...) to a target server through a
// executor.TaskExecutor, validates the cursor envelope of every reply, and
// hands each batch of documents to a caller-supplied callback. The
// callback decides whether the walk continues with a follow-up getMore
// command or stops. A Fetcher walks exactly one cursor: after it becomes
// inactive, whether by exhaustion, error, cancellation or shutdown, a new
// Fetcher must be constructed for a new walk.
package fetcher

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ikmak/mongo-fetcher/errcode"
	"github.com/ikmak/mongo-fetcher/executor"
)

// NextAction indicates what the fetcher does after delivering a batch.
type NextAction int

const (
	// NextActionInvalid is the zero value. Returned from a callback, it
	// keeps the fetcher's default decision.
	NextActionInvalid NextAction = iota
	// NextActionNoAction terminates the walk.
	NextActionNoAction
	// NextActionGetMore continues the walk with a follow-up command.
	NextActionGetMore
)

func (a NextAction) String() string {
	switch a {
	case NextActionInvalid:
		return "invalid"
	case NextActionNoAction:
		return "noAction"
	case NextActionGetMore:
		return "getMore"
	}
	return fmt.Sprintf("NextAction(%d)", int(a))
}

// Batch holds one reply's worth of result documents plus the cursor
// bookkeeping needed to continue the walk. CursorID of zero means the
// server has no more data.
type Batch struct {
	CursorID  int64
	Namespace Namespace
	Documents []bson.Raw
}

// Result describes one completed response cycle. Exactly one of Batch and
// Err is set. Action holds the default continuation decision: getMore while
// the cursor is open, noAction once it is exhausted, invalid on failure.
type Result struct {
	Batch  *Batch
	Action NextAction
	Err    error
}

// Response steers the walk after a successful batch. The zero value keeps
// the fetcher's default decision and default follow-up command. GetMore, if
// non-nil, replaces the default {getMore: <cursorId>, collection: <name>}
// command. The Response returned for a failed Result is ignored.
type Response struct {
	Action  NextAction
	GetMore bson.D
}

// CallbackFn is invoked exactly once per batch, and exactly once with the
// terminal error when a walk fails. It runs on the executor's goroutine.
// The callback may call Cancel and IsActive on its own fetcher. The Batch
// inside the Result is only valid for the duration of the call.
type CallbackFn func(Result) Response

type state int

const (
	stateInactive state = iota
	stateActive
)

// Fetcher walks one command cursor. See the package documentation.
type Fetcher struct {
	exec   executor.TaskExecutor
	target executor.Endpoint
	dbname string
	cb     CallbackFn

	mu       sync.Mutex
	st       state
	finished bool
	first    bool
	cmd      bson.Raw
	handle   executor.Handle
	done     chan struct{}
}

// New creates a Fetcher that will run cmd against the given database on
// target and deliver batches to cb. The command can be any command that
// replies with a cursor. Construction fails with a BadValue error given a
// nil executor, an empty database name, an empty command or a nil callback;
// the callback is never invoked for construction errors.
func New(exec executor.TaskExecutor, target executor.Endpoint, db string, cmd bson.D, cb CallbackFn) (*Fetcher, error) {
	if exec == nil {
		return nil, errcode.New(errcode.BadValue, "task executor cannot be nil")
	}
	if db == "" {
		return nil, errcode.New(errcode.BadValue, "database name cannot be empty")
	}
	if len(cmd) == 0 {
		return nil, errcode.New(errcode.BadValue, "command object cannot be empty")
	}
	if cb == nil {
		return nil, errcode.New(errcode.BadValue, "callback function cannot be nil")
	}

	raw, err := bson.Marshal(cmd)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal command object")
	}

	return &Fetcher{
		exec:   exec,
		target: target,
		dbname: db,
		cb:     cb,
		first:  true,
		cmd:    bson.Raw(raw),
		done:   make(chan struct{}),
	}, nil
}

// String returns a diagnostic summary of the fetcher. It is never empty.
func (f *Fetcher) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fmt.Sprintf("fetcher target=%s database=%s active=%t command=%s",
		f.target, f.dbname, f.st == stateActive, f.cmd)
}

// IsActive reports whether a walk is in progress.
func (f *Fetcher) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st == stateActive
}

// Schedule submits the initial command and starts the walk. It returns an
// IllegalOperation error if the fetcher is already active or has already
// completed a walk. If the executor rejects the submission synchronously,
// that error is returned, the fetcher stays inactive and the callback is
// not invoked.
func (f *Fetcher) Schedule() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.st == stateActive {
		return errcode.New(errcode.IllegalOperation, "fetcher already scheduled")
	}
	if f.finished {
		return errcode.New(errcode.IllegalOperation, "fetcher cannot be scheduled again after completing")
	}

	h, err := f.exec.Submit(&executor.Request{
		Target:   f.target,
		Database: f.dbname,
		Command:  f.cmd,
	}, f.processResponse)
	if err != nil {
		return errors.Wrap(err, "failed to schedule command")
	}

	f.handle = h
	f.st = stateActive
	return nil
}

// Cancel requests cancellation of the outstanding command. It is
// idempotent and a no-op when the fetcher is not active. Cancel does not
// itself change the fetcher's state: the terminal outcome, carrying a
// CallbackCanceled error, is still delivered exactly once through the
// callback.
func (f *Fetcher) Cancel() {
	f.mu.Lock()
	h := f.handle
	active := f.st == stateActive
	f.mu.Unlock()

	if !active || h == nil {
		return
	}
	f.exec.Cancel(h)
}

// Wait blocks until the fetcher is inactive. It returns immediately when
// the fetcher was never scheduled or has already finished.
func (f *Fetcher) Wait() {
	f.mu.Lock()
	if f.st != stateActive {
		f.mu.Unlock()
		return
	}
	done := f.done
	f.mu.Unlock()
	<-done
}

// Stop cancels any outstanding command and waits for the fetcher to become
// inactive. An active fetcher must be stopped before being discarded so
// that no callback invocation is in flight afterwards.
func (f *Fetcher) Stop() {
	f.Cancel()
	f.Wait()
}

// processResponse handles one completed submission. It is invoked by the
// executor, serialized with any other handler of the same executor.
func (f *Fetcher) processResponse(resp executor.Response) {
	f.mu.Lock()
	first := f.first
	f.first = false
	f.mu.Unlock()

	var result Result
	if resp.Err != nil {
		result.Err = resp.Err
	} else if batch, err := parseCursorResponse(resp.Reply, first); err != nil {
		result.Err = err
	} else {
		result.Batch = batch
		result.Action = NextActionNoAction
		if batch.CursorID != 0 {
			result.Action = NextActionGetMore
		}
	}

	// The callback runs without the fetcher's lock so that it may call
	// back into Cancel and IsActive.
	response := f.cb(result)

	if result.Err != nil {
		f.finish()
		return
	}

	action := response.Action
	if action == NextActionInvalid {
		action = result.Action
	}
	if result.Batch.CursorID == 0 {
		// No cursor left to continue, whatever the callback decided.
		action = NextActionNoAction
	}
	if action != NextActionGetMore {
		f.finish()
		return
	}

	getMore := response.GetMore
	if getMore == nil {
		getMore = bson.D{
			{Key: "getMore", Value: result.Batch.CursorID},
			{Key: "collection", Value: result.Batch.Namespace.Collection},
		}
	}
	raw, err := bson.Marshal(getMore)
	if err != nil {
		f.finish()
		return
	}

	f.mu.Lock()
	f.cmd = bson.Raw(raw)
	h, err := f.exec.Submit(&executor.Request{
		Target:   f.target,
		Database: f.dbname,
		Command:  f.cmd,
	}, f.processResponse)
	if err != nil {
		// A synchronous rejection of the follow-up submission terminates
		// the walk without a second callback invocation.
		f.finishLocked()
		f.mu.Unlock()
		return
	}
	f.handle = h
	f.mu.Unlock()
}

func (f *Fetcher) finish() {
	f.mu.Lock()
	f.finishLocked()
	f.mu.Unlock()
}

func (f *Fetcher) finishLocked() {
	if f.finished {
		return
	}
	f.st = stateInactive
	f.finished = true
	f.handle = nil
	close(f.done)
}
