// Package listener subscribes a set of handlers to the child events of one
// datastore path. In Once mode each event channel detaches itself the first
// time its handler reports the event as handled; the channels are
// independent of one another.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Krajiyah/firebase-admin-util/internal/store"
)

// Mode selects how long a channel stays subscribed.
type Mode int

const (
	// Continuous channels stay subscribed until Stop.
	Continuous Mode = iota
	// Once channels detach after the first handled event.
	Once
)

func (m Mode) String() string {
	if m == Once {
		return "once"
	}
	return "continuous"
}

// ErrAlreadyListening is returned when Listen is called twice.
var ErrAlreadyListening = errors.New("listener already registered")

// Handler processes one event and reports whether it was handled.
type Handler func(store.ChildEvent) bool

// Factory builds the handler for one event channel.
type Factory func(store.EventType) Handler

// Listener manages the subscriptions of one path.
type Listener struct {
	ds      store.Datastore
	path    string
	factory Factory
	mode    Mode
	types   []store.EventType
	logger  *slog.Logger

	mu       sync.Mutex
	started  bool
	cancels  map[store.EventType]func()
	detached map[store.EventType]bool
}

// Option configures a Listener.
type Option func(*Listener)

// WithMode sets the subscription mode. The default is Continuous.
func WithMode(m Mode) Option {
	return func(l *Listener) { l.mode = m }
}

// WithEventTypes restricts the channels subscribed. The default is all three.
func WithEventTypes(types ...store.EventType) Option {
	return func(l *Listener) { l.types = types }
}

// WithLogger sets the logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Listener) { l.logger = lg }
}

// New creates an unregistered listener on path.
func New(ds store.Datastore, path string, factory Factory, opts ...Option) *Listener {
	l := &Listener{
		ds:       ds,
		path:     store.Join(path),
		factory:  factory,
		types:    store.EventTypes,
		logger:   slog.Default(),
		cancels:  make(map[store.EventType]func()),
		detached: make(map[store.EventType]bool),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Path returns the listened path.
func (l *Listener) Path() string { return l.path }

// Mode returns the subscription mode.
func (l *Listener) Mode() Mode { return l.mode }

// Listen subscribes every channel. Cancelling ctx stops the listener.
func (l *Listener) Listen(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return ErrAlreadyListening
	}
	l.started = true
	l.mu.Unlock()

	for _, typ := range l.types {
		cancel, err := l.ds.Subscribe(ctx, l.path, typ, l.dispatch(typ, l.factory(typ)))
		if err != nil {
			l.Stop()
			return fmt.Errorf("listen %s %s: %w", l.path, typ, err)
		}
		l.mu.Lock()
		if l.detached[typ] {
			// Fired once during the initial replay, before we held cancel.
			l.mu.Unlock()
			cancel()
			continue
		}
		l.cancels[typ] = cancel
		l.mu.Unlock()
	}

	context.AfterFunc(ctx, l.Stop)
	l.logger.Debug("listener registered", "path", l.path, "mode", l.mode)
	return nil
}

func (l *Listener) dispatch(typ store.EventType, h Handler) store.Handler {
	return func(ev store.ChildEvent) {
		l.mu.Lock()
		skip := l.detached[typ]
		l.mu.Unlock()
		if skip {
			return
		}
		if handled := h(ev); handled && l.mode == Once {
			l.detach(typ)
		}
	}
}

func (l *Listener) detach(typ store.EventType) {
	l.mu.Lock()
	l.detached[typ] = true
	cancel := l.cancels[typ]
	delete(l.cancels, typ)
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stop detaches every channel. It is safe to call more than once.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancels := l.cancels
	l.cancels = make(map[store.EventType]func())
	for _, typ := range l.types {
		l.detached[typ] = true
	}
	l.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// Registered reports whether any channel is still subscribed.
func (l *Listener) Registered() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return false
	}
	for _, typ := range l.types {
		if !l.detached[typ] {
			return true
		}
	}
	return false
}
