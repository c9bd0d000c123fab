package binding

import (
	"context"
	"net/http"
	"sync"

	configpkg "github.com/drblury/streambridge/internal/runtime/config"
	errspkg "github.com/drblury/streambridge/internal/runtime/errors"
	loggingpkg "github.com/drblury/streambridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/streambridge/internal/runtime/metadata"
)

// Sender publishes a payload to the destination behind a binding.
type Sender interface {
	Send(ctx context.Context, binding string, payload []byte, md metadatapkg.Metadata) error
}

// HTTPRegistrar mounts HTTP handlers on the server listening on port.
type HTTPRegistrar interface {
	RegisterHTTPHandler(port int, pattern string, handler http.Handler)
}

// Context is what a registrar needs to declare bindings and functions.
type Context struct {
	Config    *configpkg.Config
	Bindings  *Registry
	Functions *FunctionRegistry
	Sender    Sender
	HTTP      HTTPRegistrar
	Logger    loggingpkg.ServiceLogger
}

// Registrar declares bindings and functions for one side of the bridge.
// Registrars that do not apply to the configured running mode do nothing.
type Registrar interface {
	Register(rc *Context) error
}

// RegistrarFunc adapts a function to Registrar.
type RegistrarFunc func(rc *Context) error

func (f RegistrarFunc) Register(rc *Context) error { return f(rc) }

// State is the lifecycle state of a registrar.
type State int

const (
	StateCreated State = iota
	StateConfigured
	StateBound
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateConfigured:
		return "CONFIGURED"
	case StateBound:
		return "BOUND"
	default:
		return "UNKNOWN"
	}
}

// Lifecycle guards a registrar: SetContext moves it to CONFIGURED and the
// first successful Bind to BOUND. Later Binds are no-ops; a failed Bind
// leaves it CONFIGURED.
type Lifecycle struct {
	registrar Registrar

	mu    sync.Mutex
	state State
	rc    *Context
}

func NewLifecycle(registrar Registrar) *Lifecycle {
	return &Lifecycle{registrar: registrar}
}

func (l *Lifecycle) SetContext(rc *Context) error {
	if rc == nil {
		return errspkg.ErrContextRequired
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateBound {
		return nil
	}
	l.rc = rc
	l.state = StateConfigured
	return nil
}

func (l *Lifecycle) Bind() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateCreated:
		return errspkg.ErrRegistrarNotConfigured
	case StateBound:
		return nil
	}
	if err := l.registrar.Register(l.rc); err != nil {
		return err
	}
	l.state = StateBound
	return nil
}

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}
