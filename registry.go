package vscope

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Handle identifies an open connection in a Registry. Handles start at 1 and
// are never reused by the same registry.
type Handle uint64

// conn wraps one registered port with its exclusive I/O lock.
type conn struct {
	id   Handle
	io   sync.Mutex
	port Port

	// state is held only briefly and never across I/O.
	state          sync.Mutex
	busy           bool
	closeRequested bool
	closed         bool
	poisoned       bool
}

// release closes the port now or, when an operation is running, once it ends.
func (c *conn) release() error {
	c.state.Lock()
	defer c.state.Unlock()
	if c.closed {
		return nil
	}
	if c.busy {
		c.closeRequested = true
		return nil
	}
	c.closed = true
	return releasePort(c.port)
}

// Registry maps handles to open ports. The registry lock guards only the map;
// I/O on a port is serialized by that port's own lock.
type Registry struct {
	nextID  atomic.Uint64
	mu      sync.RWMutex
	ports   map[Handle]*conn
	faulted atomic.Bool
}

// NewRegistry returns an empty registry whose first handle is 1.
func NewRegistry() *Registry {
	return &Registry{ports: make(map[Handle]*conn)}
}

var defaultRegistry = sync.OnceValue(NewRegistry)

// Default returns the process-wide registry, creating it on first use.
// It is never torn down; ports are released individually by Close.
func Default() *Registry {
	return defaultRegistry()
}

func poisonedRegistry(op string) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf("registry lock poisoned during %s", op)}
}

// guard marks the registry faulted when fn panics while the map lock is held.
func (r *Registry) guard(op string, fn func()) (err error) {
	if r.faulted.Load() {
		return poisonedRegistry(op)
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.faulted.Store(true)
			err = poisonedRegistry(op)
		}
	}()
	fn()
	return nil
}

// Insert stores p under a new handle.
func (r *Registry) Insert(p Port) (Handle, error) {
	id := Handle(r.nextID.Add(1))
	err := r.guard("insert", func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.ports[id] = &conn{id: id, port: p}
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Registry) get(h Handle) (*conn, bool, error) {
	var c *conn
	var ok bool
	err := r.guard("get", func() {
		r.mu.RLock()
		defer r.mu.RUnlock()
		c, ok = r.ports[h]
	})
	return c, ok, err
}

// Contains reports whether h is registered.
func (r *Registry) Contains(h Handle) (bool, error) {
	_, ok, err := r.get(h)
	return ok, err
}

func (r *Registry) remove(h Handle) (*conn, bool, error) {
	var c *conn
	var ok bool
	err := r.guard("remove", func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		c, ok = r.ports[h]
		delete(r.ports, h)
	})
	return c, ok, err
}

// Remove evicts h and releases its port. The port is closed as soon as no
// operation holds it. Removing an unknown handle reports false.
func (r *Registry) Remove(h Handle) (bool, error) {
	c, ok, err := r.remove(h)
	if err != nil || !ok {
		return false, err
	}
	return true, c.release()
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ports)
}

// Handles returns the registered handles in ascending order.
func (r *Registry) Handles() []Handle {
	r.mu.RLock()
	out := make([]Handle, 0, len(r.ports))
	for h := range r.ports {
		out = append(out, h)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Use runs fn with exclusive access to the port registered under h.
//
// A panic inside fn poisons the connection and is returned as an I/O error.
// The next Use on a poisoned connection evicts the handle and fails with
// KindInvalidHandle; the caller has to open the device again.
func (r *Registry) Use(h Handle, op string, fn func(Port) error) (err error) {
	c, ok, err := r.get(h)
	if err != nil {
		return err
	}
	if !ok {
		return invalidHandle(h)
	}

	c.io.Lock()
	defer c.io.Unlock()

	c.state.Lock()
	if c.closed {
		c.state.Unlock()
		return invalidHandle(h)
	}
	if c.poisoned {
		c.state.Unlock()
		_, _, _ = r.remove(h)
		_ = c.release()
		return &Error{
			Kind:    KindInvalidHandle,
			Handle:  h,
			Message: fmt.Sprintf("device lock poisoned during %s; handle %d removed; reconnect required", op, h),
		}
	}
	c.busy = true
	c.state.Unlock()

	defer func() {
		rec := recover()
		c.state.Lock()
		c.busy = false
		if rec != nil {
			c.poisoned = true
			err = &Error{Kind: KindIO, Handle: h, Message: fmt.Sprintf("%s aborted: %v", op, rec)}
		}
		if c.closeRequested && !c.closed {
			c.closed = true
			_ = releasePort(c.port)
		}
		c.state.Unlock()
	}()
	return fn(c.port)
}
