package xstream

import (
	"context"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Switch connector.
const (
	SwitchProcessedTotal = metricz.Key("switch.processed.total")
	SwitchSuccessesTotal = metricz.Key("switch.successes.total")
	SwitchRoutedTotal    = metricz.Key("switch.routed.total")
	SwitchUnroutedTotal  = metricz.Key("switch.unrouted.total")
	SwitchDurationMs     = metricz.Key("switch.duration.ms")

	SwitchProcessSpan = tracez.Key("switch.process")

	SwitchTagRouteKey = tracez.Tag("switch.route_key")
	SwitchTagRouted   = tracez.Tag("switch.routed")
	SwitchTagSuccess  = tracez.Tag("switch.success")
	SwitchTagError    = tracez.Tag("switch.error")

	SwitchEventRouted   = hookz.Key("switch.routed")
	SwitchEventUnrouted = hookz.Key("switch.unrouted")
)

// Route keys returned by Shape.
const (
	ShapeEmpty      = "empty"
	ShapeInvalid    = "invalid"
	ShapeFlat       = "flat"
	ShapeNamespaced = "namespaced"
)

// SwitchEvent is emitted after every routing decision.
type SwitchEvent struct {
	Timestamp     time.Time     // When the event occurred
	Error         error         // Error from processor (if failed)
	Name          Name          // Connector name
	RouteKey      string        // The key returned by the router
	ProcessorName Name          // Processor routed to (if any)
	Duration      time.Duration // How long the processor took (if routed)
	Routed        bool          // Whether a route was found
	Success       bool          // Whether the processor succeeded (if routed)
}

// Router picks a route key for a stream.
type Router func(context.Context, string) string

// Switch sends each stream to the processor registered under the key its
// router returns. Streams without a matching route pass through unchanged.
//
// Example:
//
//	sw := xstream.NewSwitch("by-shape", xstream.Shape).
//	    AddRoute(xstream.ShapeNamespaced, xstream.ForkStep("fork", xstream.All())).
//	    AddRoute(xstream.ShapeInvalid, xstream.ValidateStep("reject"))
type Switch struct {
	router  Router
	routes  map[string]Chainable
	clock   clockz.Clock
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[SwitchEvent]
	name    Name
	mu      sync.RWMutex
}

// NewSwitch creates a Switch with no routes.
func NewSwitch(name Name, router Router) *Switch {
	metrics := metricz.New()
	metrics.Counter(SwitchProcessedTotal)
	metrics.Counter(SwitchSuccessesTotal)
	metrics.Counter(SwitchRoutedTotal)
	metrics.Counter(SwitchUnroutedTotal)
	metrics.Gauge(SwitchDurationMs)

	return &Switch{
		name:    name,
		router:  router,
		routes:  make(map[string]Chainable),
		clock:   clockz.RealClock,
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[SwitchEvent](),
	}
}

// Process implements Chainable.
func (s *Switch) Process(ctx context.Context, input string) (result string, err error) {
	defer recoverFromPanic(&result, &err, s.name, input)

	s.mu.RLock()
	router := s.router
	routes := s.routes
	clock := s.getClock()
	s.mu.RUnlock()

	s.metrics.Counter(SwitchProcessedTotal).Inc()
	start := clock.Now()

	ctx, span := s.tracer.StartSpan(ctx, SwitchProcessSpan)
	defer func() {
		s.metrics.Gauge(SwitchDurationMs).Set(float64(clock.Since(start).Milliseconds()))
		if err == nil {
			span.SetTag(SwitchTagSuccess, "true")
			s.metrics.Counter(SwitchSuccessesTotal).Inc()
		} else {
			span.SetTag(SwitchTagSuccess, "false")
			span.SetTag(SwitchTagError, err.Error())
		}
		span.Finish()
	}()

	route := router(ctx, input)
	span.SetTag(SwitchTagRouteKey, route)

	processor, ok := routes[route]
	if !ok {
		span.SetTag(SwitchTagRouted, "false")
		s.metrics.Counter(SwitchUnroutedTotal).Inc()
		_ = s.hooks.Emit(ctx, SwitchEventUnrouted, SwitchEvent{ //nolint:errcheck
			Name:      s.name,
			RouteKey:  route,
			Timestamp: clock.Now(),
		})
		return input, nil
	}

	span.SetTag(SwitchTagRouted, "true")
	s.metrics.Counter(SwitchRoutedTotal).Inc()

	procStart := clock.Now()
	result, err = processor.Process(ctx, input)

	_ = s.hooks.Emit(ctx, SwitchEventRouted, SwitchEvent{ //nolint:errcheck
		Name:          s.name,
		RouteKey:      route,
		ProcessorName: processor.Name(),
		Routed:        true,
		Success:       err == nil,
		Error:         err,
		Duration:      clock.Since(procStart),
		Timestamp:     clock.Now(),
	})
	if err != nil {
		return result, wrapError(s.name, input, err, procStart, clock.Now())
	}
	return result, nil
}

// Shape routes a stream by its structure: ShapeEmpty for blank input,
// ShapeInvalid when it does not tokenize, ShapeFlat when every pair lands
// in the global namespace and ShapeNamespaced otherwise.
func Shape(_ context.Context, input string) string {
	if strings.TrimSpace(input) == "" {
		return ShapeEmpty
	}
	b, err := Parse(input, Hybrid)
	if err != nil {
		return ShapeInvalid
	}
	for _, ns := range b.Namespaces() {
		if ns != GlobalNamespace {
			return ShapeNamespaced
		}
	}
	return ShapeFlat
}

// FirstNamespace routes a stream by the namespace its first token lands in.
// A leading ns= switch names the namespace directly. Malformed and empty
// streams route to ShapeInvalid.
func FirstNamespace(_ context.Context, input string) string {
	tokens, err := Tokenize(input)
	if err != nil || len(tokens) == 0 {
		return ShapeInvalid
	}
	first := tokens[0]
	switch {
	case first.IsSwitch():
		return first.Value
	case !first.Namespace.IsZero():
		return first.Namespace.String()
	}
	return GlobalNamespace
}

// AddRoute registers processor under key, replacing any existing route.
func (s *Switch) AddRoute(key string, processor Chainable) *Switch {
	s.mu.Lock()
	defer s.mu.Unlock()
	routes := maps.Clone(s.routes)
	routes[key] = processor
	s.routes = routes
	return s
}

// RemoveRoute deletes the route for key.
func (s *Switch) RemoveRoute(key string) *Switch {
	s.mu.Lock()
	defer s.mu.Unlock()
	routes := maps.Clone(s.routes)
	delete(routes, key)
	s.routes = routes
	return s
}

// HasRoute reports whether key has a route.
func (s *Switch) HasRoute(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.routes[key]
	return ok
}

// Routes returns a copy of the route table.
func (s *Switch) Routes() map[string]Chainable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.routes)
}

// ClearRoutes removes every route.
func (s *Switch) ClearRoutes() *Switch {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = make(map[string]Chainable)
	return s
}

// SetRouter replaces the router.
func (s *Switch) SetRouter(router Router) *Switch {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.router = router
	return s
}

// Name returns the name of this switch.
func (s *Switch) Name() Name {
	return s.name
}

// WithClock sets the clock used for durations and event timestamps.
func (s *Switch) WithClock(clock clockz.Clock) *Switch {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
	return s
}

func (s *Switch) getClock() clockz.Clock {
	if s.clock == nil {
		return clockz.RealClock
	}
	return s.clock
}

// Metrics returns the metrics registry for this connector.
func (s *Switch) Metrics() *metricz.Registry {
	return s.metrics
}

// Tracer returns the tracer for this connector.
func (s *Switch) Tracer() *tracez.Tracer {
	return s.tracer
}

// Close shuts down the tracer and hooks.
func (s *Switch) Close() error {
	if s.tracer != nil {
		s.tracer.Close()
	}
	s.hooks.Close()
	return nil
}

// OnRouted registers a handler called after a routed processor ran.
func (s *Switch) OnRouted(handler func(context.Context, SwitchEvent) error) error {
	_, err := s.hooks.Hook(SwitchEventRouted, handler)
	return err
}

// OnUnrouted registers a handler called when no route matched.
func (s *Switch) OnUnrouted(handler func(context.Context, SwitchEvent) error) error {
	_, err := s.hooks.Hook(SwitchEventUnrouted, handler)
	return err
}
