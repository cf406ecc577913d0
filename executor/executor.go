// Package executor provides asynchronous execution of database commands
// against remote servers.
//
// The TaskExecutor interface is the contract consumed by the fetcher
// package: submit a command, receive exactly one completion callback,
// cancel a pending submission, shut the whole executor down. Executor is
// the concrete implementation shipped with this module; tests and embedders
// may substitute their own.
package executor

import (
	"net"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

const defaultPort = "27017"

// Endpoint represents the location of a remote server.
type Endpoint string

// Canonicalize lowercases the endpoint and applies the default port if none
// is present.
func (ep Endpoint) Canonicalize() Endpoint {
	s := strings.ToLower(string(ep))
	if !strings.Contains(s, "sock") {
		_, _, err := net.SplitHostPort(s)
		if err != nil && strings.Contains(err.Error(), "missing port in address") {
			s += ":" + defaultPort
		}
	}

	return Endpoint(s)
}

// Request describes a single database command to run against a target
// server.
type Request struct {
	Target   Endpoint
	Database string
	Command  bson.Raw
}

// Response carries the outcome of one submitted request. Exactly one of
// Reply and Err is set. Cancellation and shutdown are reported through Err
// with the CallbackCanceled and ShutdownInProgress codes respectively.
type Response struct {
	Reply bson.Raw
	Err   error
}

// ResponseHandler consumes the response of a submitted request.
//
// An accepted submission invokes its handler exactly once. Handler
// invocations for a given executor are serialized with respect to each
// other, but may run on a different goroutine than the one that called
// Submit or Cancel.
type ResponseHandler func(Response)

// Handle identifies a submission accepted by a TaskExecutor. It is opaque
// to callers and only meaningful to the executor that issued it.
type Handle interface{}

// TaskExecutor submits commands to remote servers and delivers their
// responses asynchronously.
type TaskExecutor interface {
	// Submit schedules the request for execution and returns a handle that
	// may be passed to Cancel. It returns an error synchronously only when
	// the executor cannot accept new work; the handler is then never
	// invoked for this submission.
	Submit(req *Request, onComplete ResponseHandler) (Handle, error)

	// Cancel requests that a pending submission be aborted. It is
	// idempotent, best-effort and non-blocking: the submission's handler is
	// still invoked, reporting a CallbackCanceled failure. Canceling an
	// already-completed or foreign handle is a no-op.
	Cancel(h Handle)
}
