package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/entrhq/pilot/pkg/automation"
	"github.com/entrhq/pilot/pkg/logging"
	"github.com/entrhq/pilot/pkg/types"
)

// fakeHandle is an in-memory automation.Handle with switchable failures.
type fakeHandle struct {
	id int

	mu            sync.Mutex
	showErr       error
	listErr       error
	assertErr     error
	instructionFn func(string) (any, error)
	scriptFn      func(*automation.Script) (*automation.ScriptResult, error)
	evalFn        func(string) (any, error)

	showCalls        atomic.Int32
	listCalls        atomic.Int32
	instructionCalls atomic.Int32
	scriptCalls      atomic.Int32
	assertCalls      atomic.Int32
	destroyed        atomic.Bool
}

func (h *fakeHandle) setShowErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.showErr = err
}

func (h *fakeHandle) setListErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listErr = err
}

func (h *fakeHandle) RunInstruction(_ context.Context, instruction string) (any, error) {
	h.instructionCalls.Add(1)
	h.mu.Lock()
	fn := h.instructionFn
	h.mu.Unlock()
	if fn != nil {
		return fn(instruction)
	}
	return "done: " + instruction, nil
}

func (h *fakeHandle) RunScript(_ context.Context, script *automation.Script) (*automation.ScriptResult, error) {
	h.scriptCalls.Add(1)
	h.mu.Lock()
	fn := h.scriptFn
	h.mu.Unlock()
	if fn != nil {
		return fn(script)
	}
	return &automation.ScriptResult{Succeeded: true}, nil
}

func (h *fakeHandle) Assert(_ context.Context, _ string) error {
	h.assertCalls.Add(1)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.assertErr
}

func (h *fakeHandle) ListTabs(_ context.Context) ([]automation.Tab, error) {
	h.listCalls.Add(1)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listErr != nil {
		return nil, h.listErr
	}
	return []automation.Tab{{ID: "tab-1", URL: "https://example.com", Active: true}}, nil
}

func (h *fakeHandle) SetActiveTab(_ context.Context, id string) error {
	if id != "tab-1" {
		return errors.New("unknown tab " + id)
	}
	return nil
}

func (h *fakeHandle) EvaluateScript(_ context.Context, script string) (any, error) {
	h.mu.Lock()
	fn := h.evalFn
	h.mu.Unlock()
	if fn != nil {
		return fn(script)
	}
	return float64(len(script)), nil
}

func (h *fakeHandle) ShowStatus(_ context.Context, _ string) error {
	h.showCalls.Add(1)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.showErr
}

func (h *fakeHandle) Destroy(_ context.Context) error {
	h.destroyed.Store(true)
	return nil
}

// fakeFactory creates fakeHandles. The first `failures` calls fail with
// createErr; when gate is set, Create blocks on it after signalling entered.
type fakeFactory struct {
	mu        sync.Mutex
	calls     int
	failures  int
	createErr error
	created   []*fakeHandle
	configure func(h *fakeHandle)

	gate    chan struct{}
	entered chan struct{}
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{createErr: errors.New("connection refused")}
}

func (f *fakeFactory) Create(ctx context.Context) (automation.Handle, error) {
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if gate != nil {
		if entered != nil {
			select {
			case entered <- struct{}{}:
			default:
			}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		return nil, f.createErr
	}
	h := &fakeHandle{id: len(f.created) + 1}
	if f.configure != nil {
		f.configure(h)
	}
	f.created = append(f.created, h)
	return h, nil
}

// failAlways makes every later Create fail.
func (f *fakeFactory) failAlways() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = -1
}

func (f *fakeFactory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFactory) handle(i int) *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[i]
}

// live counts handles that were created and not destroyed.
func (f *fakeFactory) live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, h := range f.created {
		if !h.destroyed.Load() {
			n++
		}
	}
	return n
}

func (f *fakeFactory) block() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	f.entered = make(chan struct{}, 1)
}

func (f *fakeFactory) release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

// recorder collects session events.
type recorder struct {
	mu     sync.Mutex
	events []types.SessionEvent
}

func (r *recorder) record(e types.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []types.SessionEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.SessionEventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) count(t types.SessionEventType) int {
	n := 0
	for _, et := range r.kinds() {
		if et == t {
			n++
		}
	}
	return n
}

func testOptions() Options {
	return Options{
		MaxReconnectAttempts: 3,
		ReconnectInterval:    10 * time.Millisecond,
		StartRetries:         3,
		StartRetryDelay:      0,
		StabilizeDelay:       0,
		Logger:               logging.Nop(),
	}
}

func newTestManager(t *testing.T, f *fakeFactory, opts Options) (*Manager, *recorder) {
	t.Helper()
	m := NewManager(f, opts)
	rec := &recorder{}
	m.Subscribe(rec.record)
	t.Cleanup(func() {
		f.release()
		_ = m.Stop(context.Background())
	})
	return m, rec
}
