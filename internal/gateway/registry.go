package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pushgw/internal/transport"
)

// Registry addresses Managers by connection name.
//
// It is safe for concurrent use.
type Registry struct {
	adapter transport.Adapter
	opts    []Option

	mu       sync.RWMutex
	managers map[string]*Manager // nil value: start in progress
}

// NewRegistry creates a registry whose managers use adapter and opts.
func NewRegistry(adapter transport.Adapter, opts ...Option) *Registry {
	return &Registry{
		adapter:  adapter,
		opts:     opts,
		managers: map[string]*Manager{},
	}
}

// Start creates and starts a manager for d. Names are unique; the name stays
// reserved while the first session is being opened.
func (r *Registry) Start(ctx context.Context, d Descriptor, client Client, opts ...Option) (*Manager, error) {
	name := d.Name()
	r.mu.Lock()
	if _, exists := r.managers[name]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	r.managers[name] = nil
	r.mu.Unlock()

	all := append(append([]Option(nil), r.opts...), opts...)
	m, err := Start(ctx, d, client, r.adapter, all...)

	r.mu.Lock()
	if err != nil {
		delete(r.managers, name)
	} else {
		r.managers[name] = m
	}
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// Forget the manager once it stops for any reason.
	go func() {
		<-m.Done()
		r.mu.Lock()
		if r.managers[name] == m {
			delete(r.managers, name)
		}
		r.mu.Unlock()
	}()
	return m, nil
}

// Get returns the running manager for name.
func (r *Registry) Get(name string) (*Manager, error) {
	r.mu.RLock()
	m := r.managers[name]
	r.mu.RUnlock()
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConnection, name)
	}
	return m, nil
}

// Names lists running connections in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.managers))
	for name, m := range r.managers {
		if m != nil {
			out = append(out, name)
		}
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Push sends on a certificate-mode connection without waiting.
func (r *Registry) Push(name, deviceID string, payload []byte, h Headers) error {
	m, err := r.Get(name)
	if err != nil {
		return err
	}
	return m.Push(deviceID, payload, h)
}

// PushToken sends on a token-mode connection without waiting.
func (r *Registry) PushToken(name, token, deviceID string, payload []byte, h Headers) error {
	m, err := r.Get(name)
	if err != nil {
		return err
	}
	return m.PushToken(token, deviceID, payload, h)
}

func (r *Registry) Request(ctx context.Context, name, deviceID string, payload []byte, h Headers) (transport.StreamID, error) {
	m, err := r.Get(name)
	if err != nil {
		return 0, err
	}
	return m.Request(ctx, deviceID, payload, h)
}

func (r *Registry) RequestToken(ctx context.Context, name, token, deviceID string, payload []byte, h Headers) (transport.StreamID, error) {
	m, err := r.Get(name)
	if err != nil {
		return 0, err
	}
	return m.RequestToken(ctx, token, deviceID, payload, h)
}

// Await waits in mb for the response to stream id on connection name.
func (r *Registry) Await(ctx context.Context, name string, mb *Mailbox, id transport.StreamID, timeout time.Duration) (Message, error) {
	m, err := r.Get(name)
	if err != nil {
		return Message{}, err
	}
	return m.Await(ctx, mb, id, timeout)
}

// Close asks the named manager to stop and returns without waiting.
func (r *Registry) Close(name string) error {
	m, err := r.Get(name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.managers, name)
	r.mu.Unlock()
	m.Close()
	return nil
}

// CurrentSession returns the live session of the named manager.
func (r *Registry) CurrentSession(ctx context.Context, name string) (transport.Session, error) {
	m, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return m.CurrentSession(ctx)
}

// State returns the connection state of the named manager.
func (r *Registry) State(ctx context.Context, name string) (State, error) {
	m, err := r.Get(name)
	if err != nil {
		return 0, err
	}
	snap, err := m.Snapshot(ctx)
	return snap.State, err
}

// Snapshots returns a snapshot of every running manager, sorted by name.
func (r *Registry) Snapshots(ctx context.Context) []Snapshot {
	names := r.Names()
	out := make([]Snapshot, 0, len(names))
	for _, name := range names {
		m, err := r.Get(name)
		if err != nil {
			continue
		}
		snap, err := m.Snapshot(ctx)
		if err != nil {
			continue
		}
		out = append(out, snap)
	}
	return out
}

// CloseAll stops every manager and waits for them in parallel.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	ms := make([]*Manager, 0, len(r.managers))
	for name, m := range r.managers {
		if m != nil {
			ms = append(ms, m)
			delete(r.managers, name)
		}
	}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range ms {
		m := m
		g.Go(func() error {
			m.Close()
			return m.Wait(gctx)
		})
	}
	return g.Wait()
}
