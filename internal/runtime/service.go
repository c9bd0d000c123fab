package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/drblury/streambridge/binder"
	"github.com/drblury/streambridge/health"
	"github.com/drblury/streambridge/internal/runtime/binding"
	"github.com/drblury/streambridge/internal/runtime/bridge"
	configpkg "github.com/drblury/streambridge/internal/runtime/config"
	errspkg "github.com/drblury/streambridge/internal/runtime/errors"
	loggingpkg "github.com/drblury/streambridge/internal/runtime/logging"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// serveHTTP runs srv until ctx is cancelled, then shuts it down.
var serveHTTP = func(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// BinderFactory connects the broker selected by the configuration.
// *binder.Registry satisfies it.
type BinderFactory interface {
	Build(ctx context.Context, cfg binder.Config, logger watermill.LoggerAdapter) (*binder.Binder, error)
}

// BinderFactoryFunc adapts a function to BinderFactory.
type BinderFactoryFunc func(ctx context.Context, cfg binder.Config, logger watermill.LoggerAdapter) (*binder.Binder, error)

func (f BinderFactoryFunc) Build(ctx context.Context, cfg binder.Config, logger watermill.LoggerAdapter) (*binder.Binder, error) {
	return f(ctx, cfg, logger)
}

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to use the defaults.
type ServiceDependencies struct {
	// BinderFactory defaults to binder.DefaultRegistry.
	BinderFactory BinderFactory
	// Requester replaces the HTTP request function of the proxy consumer.
	Requester bridge.Requester
	// Registrars declare additional bindings and functions.
	Registrars []binding.Registrar
	// ErrorHandler observes deliveries that failed after every retry.
	ErrorHandler              ErrorHandler
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	// MetricsRegistry receives every collector. Defaults to a new registry.
	MetricsRegistry *prometheus.Registry
	ErrorClassifier ErrorClassifier
}

// Service binds the registered functions to the broker through a Watermill
// router and serves the bridge and management HTTP endpoints.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	wmLogger    watermill.LoggerAdapter
	binder      *binder.Binder
	provisioner binder.Provisioner
	router      *message.Router

	registry   *prometheus.Registry
	registerer prometheus.Registerer
	dlq        *DLQMetrics
	health     health.Indicator

	bindings   *binding.Registry
	functions  *binding.FunctionRegistry
	lifecycles []*binding.Lifecycle

	errorHandler    ErrorHandler
	errorClassifier ErrorClassifier

	containersMu sync.RWMutex
	containers   map[string]*listenerContainer

	suppliers []func(ctx context.Context) error

	httpServers   map[int]chi.Router
	httpServersMu sync.Mutex

	bindOnce sync.Once
	bindErr  error

	stopping chan struct{}
	stopOnce sync.Once
}

// NewService constructs a Service for the supplied configuration and panics
// when it cannot. Use TryNewService to handle the error instead.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	s, err := TryNewService(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewService validates the configuration, connects the binder and
// prepares the registrars. Nothing is bound or started until Start.
func TryNewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	normalized := conf.WithDefaults()
	conf = &normalized
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigurationError("", err)
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating stream bridge service", loggingpkg.LogFields{
		"binder":       conf.Binder,
		"running_mode": conf.RunningMode,
		"config":       conf.String(),
	})

	registry := deps.MetricsRegistry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	s := &Service{
		Conf:            conf,
		Logger:          log,
		wmLogger:        wmLogger,
		registry:        registry,
		registerer:      registry,
		bindings:        binding.NewRegistry(),
		functions:       binding.NewFunctionRegistry(),
		errorHandler:    deps.ErrorHandler,
		errorClassifier: deps.ErrorClassifier,
		containers:      make(map[string]*listenerContainer),
		stopping:        make(chan struct{}),
	}
	if s.errorClassifier == nil {
		s.errorClassifier = defaultErrorClassifier
	}

	var factory BinderFactory = binder.DefaultRegistry
	if deps.BinderFactory != nil {
		factory = deps.BinderFactory
	}
	b, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create binder %q: %w", conf.Binder, err)
	}
	if b == nil || b.Publisher == nil || b.Subscriber == nil {
		return nil, errspkg.ErrBinderRequired
	}
	s.binder = b
	s.provisioner = idempotentProvisioner(b.Provisioner)

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, errors.Join(err, b.Close())
	}
	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	if err := s.setupHealth(); err != nil {
		return nil, errors.Join(err, b.Close())
	}
	s.dlq = NewDLQMetrics(s.registerer)
	if err := s.dlq.Register(); err != nil {
		return nil, errors.Join(err, b.Close())
	}
	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		return nil, errors.Join(err, b.Close())
	}

	registrars := []binding.Registrar{
		&bridge.SinkRegistrar{Requester: deps.Requester},
		bridge.SourceRegistrar{},
	}
	registrars = append(registrars, deps.Registrars...)
	rc := &binding.Context{
		Config:    conf,
		Bindings:  s.bindings,
		Functions: s.functions,
		Sender:    s,
		HTTP:      s,
		Logger:    log,
	}
	for _, r := range registrars {
		lc := binding.NewLifecycle(r)
		if err := lc.SetContext(rc); err != nil {
			return nil, errors.Join(err, b.Close())
		}
		s.lifecycles = append(s.lifecycles, lc)
	}

	return s, nil
}

func idempotentProvisioner(p binder.Provisioner) binder.Provisioner {
	switch typed := p.(type) {
	case nil:
		return binder.Idempotent(binder.NopProvisioner{})
	case *binder.IdempotentProvisioner:
		return typed
	default:
		return binder.Idempotent(p)
	}
}

func (s *Service) setupHealth() error {
	composite := health.NewComposite()
	if s.binder.Health != nil {
		composite.Register(s.binder.Name, s.binder.Health)
	}
	composite.Register("listeners", health.NewListenerIndicator(s.listeners))

	var indicator health.Indicator = composite
	if s.Conf.MetricsEnabled {
		gauge, err := health.NewStatusGauge(s.registerer)
		if err != nil {
			return err
		}
		indicator = gauge.Instrument(composite)
	}
	s.health = indicator
	return nil
}

// Start binds every registrar and function, then runs the HTTP servers, the
// suppliers and the router until ctx is cancelled or one of them fails.
func (s *Service) Start(ctx context.Context) error {
	if err := s.bind(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	for port, handler := range s.httpHandlers() {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		g.Go(func() error {
			if err := serveHTTP(gctx, srv); err != nil {
				return fmt.Errorf("http server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	for _, supply := range s.suppliers {
		g.Go(func() error { return supply(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		s.markStopping()
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return routerRun(s.router, gctx)
	})

	return g.Wait()
}

// bind runs once; later calls return the first result.
func (s *Service) bind(ctx context.Context) error {
	s.bindOnce.Do(func() {
		for _, lc := range s.lifecycles {
			if err := lc.Bind(); err != nil {
				s.bindErr = err
				return
			}
		}
		for _, fn := range s.functions.Functions() {
			if err := s.bindFunction(ctx, fn); err != nil {
				s.bindErr = fmt.Errorf("failed to bind function %s: %w", fn.Name, err)
				return
			}
		}
		s.registerManagement()
	})
	return s.bindErr
}

func (s *Service) bindFunction(ctx context.Context, fn *binding.Function) error {
	switch {
	case fn.Arity.Inputs == 1 && fn.Arity.Outputs <= 1:
		return s.bindConsumer(ctx, fn)
	case fn.Arity.Inputs == 0 && fn.Arity.Outputs == 1:
		return s.bindSupplier(ctx, fn)
	default:
		return fmt.Errorf("streambridge: unsupported function arity %s", fn.Arity)
	}
}

func (s *Service) bindConsumer(ctx context.Context, fn *binding.Function) error {
	name := fn.InputBinding()
	props, _ := s.bindings.Get(name)
	destination := props.DestinationOr(name)

	if _, err := s.provision(ctx, destination, binder.KindConsumer, func(ctx context.Context) (binder.Destination, error) {
		return s.provisioner.EnsureConsumerDestination(ctx, destination, props.Group, props.ConsumerProperties())
	}); err != nil {
		return err
	}
	if props.DLTDestination != "" {
		if _, err := s.provisionProducer(ctx, props.DLTDestination, binder.ProducerProperties{}); err != nil {
			return err
		}
	}

	var output string
	if fn.Arity.Outputs == 1 {
		outName := fn.OutputBinding()
		outProps, _ := s.bindings.Get(outName)
		output = outProps.DestinationOr(outName)
		if _, err := s.provisionProducer(ctx, output, outProps.ProducerProperties()); err != nil {
			return err
		}
	}

	subscriber, err := s.binder.SubscriberFor(props.Group)
	if err != nil {
		return fmt.Errorf("failed to create subscriber for group %q: %w", props.Group, err)
	}

	container := newListenerContainer(name, destination, props.Group, s.stopping)
	handlerFunc := s.consumerHandler(fn, container)

	var handler *message.Handler
	if output != "" {
		handler = s.router.AddHandler(name, destination, subscriber, output, s.binder.Publisher, handlerFunc)
	} else {
		handler = s.router.AddNoPublisherHandler(name, destination, subscriber, func(msg *message.Message) error {
			_, err := handlerFunc(msg)
			return err
		})
	}

	chain, err := s.bindingMiddlewares(name, props, container)
	if err != nil {
		return err
	}
	handler.AddMiddleware(chain...)
	container.handler = handler

	s.containersMu.Lock()
	s.containers[name] = container
	s.containersMu.Unlock()

	s.Logger.Info("Bound consumer", loggingpkg.LogFields{
		"function":    fn.Name,
		"binding":     name,
		"destination": destination,
		"group":       props.Group,
		"output":      output,
		"input_type":  fn.InputType,
	})
	return nil
}

func (s *Service) consumerHandler(fn *binding.Function, container *listenerContainer) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		started := time.Now()
		outputs, err := fn.Invoke(msg.Context(), fromWatermillMessage(msg))
		container.stats.record(time.Since(started), err, s.errorClassifier)
		if err != nil {
			return nil, err
		}
		produced := make([]*message.Message, 0, len(outputs))
		for _, out := range outputs {
			produced = append(produced, toWatermillMessage(out.Payload, out.Metadata))
		}
		return produced, nil
	}
}

func (s *Service) bindSupplier(ctx context.Context, fn *binding.Function) error {
	name := fn.OutputBinding()
	props, _ := s.bindings.Get(name)
	destination := props.DestinationOr(name)
	if _, err := s.provisionProducer(ctx, destination, props.ProducerProperties()); err != nil {
		return err
	}

	emit := func(ctx context.Context, msg binding.Message) error {
		return s.publish(destination, name, msg.Payload, msg.Metadata)
	}
	s.suppliers = append(s.suppliers, func(ctx context.Context) error {
		if err := fn.Supply(ctx, emit); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("supplier %s: %w", fn.Name, err)
		}
		return nil
	})

	s.Logger.Info("Bound supplier", loggingpkg.LogFields{
		"function":    fn.Name,
		"binding":     name,
		"destination": destination,
		"output_type": fn.OutputType,
	})
	return nil
}

func (s *Service) markStopping() {
	s.stopOnce.Do(func() { close(s.stopping) })
}

// RegisterHTTPHandler mounts handler on the server for port. Each port has
// its own router, so patterns only need to be unique per port.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]chi.Router)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = chi.NewRouter()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

// Handler returns the router serving port, or nil when nothing is mounted on it.
func (s *Service) Handler(port int) http.Handler {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()
	if mux, ok := s.httpServers[port]; ok {
		return mux
	}
	return nil
}

func (s *Service) httpHandlers() map[int]http.Handler {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()
	handlers := make(map[int]http.Handler, len(s.httpServers))
	for port, mux := range s.httpServers {
		handlers[port] = mux
	}
	return handlers
}

// Health returns the composite verdict of the binder and the listeners.
func (s *Service) Health(ctx context.Context) health.Verdict {
	return s.health.Health(ctx)
}

// Running is closed once the router handlers are running.
func (s *Service) Running() chan struct{} {
	return s.router.Running()
}

// Bindings returns the names of every configured binding, sorted.
func (s *Service) Bindings() []string {
	return s.bindings.Names()
}

// BindingStats returns the stats of a consumer binding.
func (s *Service) BindingStats(name string) (BindingStatsSnapshot, bool) {
	container, ok := s.container(name)
	if !ok {
		return BindingStatsSnapshot{}, false
	}
	return container.stats.Snapshot(), true
}

// DLQMetrics returns the dead-letter metrics collector.
func (s *Service) DLQMetrics() *DLQMetrics {
	return s.dlq
}

// Pause holds new deliveries of a consumer binding until Resume.
func (s *Service) Pause(name string) error {
	container, ok := s.container(name)
	if !ok {
		return fmt.Errorf("%w: %s", errspkg.ErrBindingNotFound, name)
	}
	container.Pause()
	s.Logger.Info("Paused binding", loggingpkg.LogFields{"binding": name})
	return nil
}

// Resume releases a paused consumer binding.
func (s *Service) Resume(name string) error {
	container, ok := s.container(name)
	if !ok {
		return fmt.Errorf("%w: %s", errspkg.ErrBindingNotFound, name)
	}
	container.Resume()
	s.Logger.Info("Resumed binding", loggingpkg.LogFields{"binding": name})
	return nil
}

// Close stops the router and releases the binder.
func (s *Service) Close() error {
	s.markStopping()
	var errs []error
	if s.router != nil {
		errs = append(errs, s.router.Close())
	}
	if s.binder != nil {
		errs = append(errs, s.binder.Close())
	}
	return errors.Join(errs...)
}

func (s *Service) container(name string) (*listenerContainer, bool) {
	s.containersMu.RLock()
	defer s.containersMu.RUnlock()
	c, ok := s.containers[name]
	return c, ok
}

func (s *Service) listeners() []health.Listener {
	s.containersMu.RLock()
	defer s.containersMu.RUnlock()
	names := make([]string, 0, len(s.containers))
	for name := range s.containers {
		names = append(names, name)
	}
	sort.Strings(names)
	listeners := make([]health.Listener, 0, len(names))
	for _, name := range names {
		listeners = append(listeners, s.containers[name])
	}
	return listeners
}
