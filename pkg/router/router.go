// Package router dispatches parsed request envelopes to action handlers and
// sends back correlated responses.
package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/entrhq/pilot/pkg/logging"
	"github.com/entrhq/pilot/pkg/plan"
	"github.com/entrhq/pilot/pkg/protocol"
	"github.com/entrhq/pilot/pkg/session"
	"github.com/entrhq/pilot/pkg/sitescript"
	"github.com/samber/lo"
)

// Sender writes one response to the client. Implementations must be safe
// for concurrent use.
type Sender func(resp *protocol.Response) error

// Call is one request as seen by a handler.
type Call struct {
	ConnectionID string
	Request      *protocol.Request

	send Sender
}

// Progress sends an intermediate response sharing the request's identifiers.
func (c *Call) Progress(result any) error {
	return c.send(protocol.Progress(c.Request, result))
}

// Handler serves one action. The router turns the return values into the
// single terminal response.
type Handler func(ctx context.Context, call *Call) (any, error)

// Deps are the collaborators the built-in handlers use.
type Deps struct {
	Manager  *session.Manager
	Executor *session.Executor
	Plans    *plan.Executor
	Scripts  *sitescript.Table
	Logger   *logging.Logger

	// OperationTimeout bounds each request. Zero means no limit.
	OperationTimeout time.Duration
}

// Router owns the action table.
type Router struct {
	deps    Deps
	logger  *logging.Logger
	timeout time.Duration

	mu       sync.RWMutex
	handlers map[protocol.Action]Handler
}

// New creates a router with the built-in handlers registered.
func New(deps Deps) *Router {
	r := &Router{
		deps:     deps,
		logger:   deps.Logger,
		timeout:  deps.OperationTimeout,
		handlers: make(map[protocol.Action]Handler),
	}
	r.registerBuiltins()
	return r
}

// Handle registers h for action, replacing any existing handler.
func (r *Router) Handle(action protocol.Action, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[action] = h
}

// Actions lists the registered actions, sorted.
func (r *Router) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Map(lo.Keys(r.handlers), func(a protocol.Action, _ int) string { return string(a) })
	sort.Strings(names)
	return names
}

func (r *Router) handler(action protocol.Action) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[action]
	return h, ok
}

// Dispatch parses frame, runs the matching handler and sends exactly one
// terminal response through send. It never panics.
func (r *Router) Dispatch(ctx context.Context, connectionID string, frame []byte, send Sender) {
	req, err := protocol.Parse(frame)
	if err != nil {
		var perr *protocol.ParseError
		if !errors.As(err, &perr) {
			perr = &protocol.ParseError{MessageID: "parse-unknown", Reason: err.Error()}
		}
		r.logger.Warnf("connection %s sent an invalid frame: %v", connectionID, err)
		r.send(send, protocol.ParseFailure(perr))
		return
	}

	log := r.logger.With("connection", connectionID, "messageId", req.Meta.MessageID, "action", string(req.Payload.Action))

	h, ok := r.handler(req.Payload.Action)
	if !ok {
		log.Infof("unknown action")
		r.send(send, protocol.Success(req, fmt.Sprintf("unknown action type: %s", req.Payload.Action)))
		return
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	call := &Call{ConnectionID: connectionID, Request: req, send: send}
	start := time.Now()
	result, err := r.invoke(ctx, h, call)
	if err != nil {
		log.Warnf("request failed after %s: %v", time.Since(start).Round(time.Millisecond), err)
		r.send(send, protocol.Failed(req, err))
		return
	}
	log.Debugf("request completed in %s", time.Since(start).Round(time.Millisecond))
	r.send(send, protocol.Success(req, result))
}

func (r *Router) invoke(ctx context.Context, h Handler, call *Call) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Errorf("handler for %s panicked: %v\n%s", call.Request.Payload.Action, p, debug.Stack())
			result, err = nil, fmt.Errorf("internal error: handler panicked: %v", p)
		}
	}()
	return h(ctx, call)
}

func (r *Router) send(send Sender, resp *protocol.Response) {
	if err := send(resp); err != nil {
		r.logger.Warnf("failed to send %s response for %s: %v", resp.Payload.Action, resp.Meta.MessageID, err)
	}
}
