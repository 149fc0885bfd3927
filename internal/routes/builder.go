package routes

import (
	"github.com/vyrodovalexey/avawsgw/internal/config"
	"github.com/vyrodovalexey/avawsgw/internal/observability"
)

// Catalog reports which handler functions exist.
type Catalog interface {
	Has(name string) bool
}

// Builder accumulates routes at configuration time and produces an
// immutable Table.
type Builder struct {
	catalog     Catalog
	noAuth      bool
	logger      observability.Logger
	routes      map[string]*Route
	authorizers map[string]string
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithNoAuth disables authorizer binding for every route.
func WithNoAuth(noAuth bool) BuilderOption {
	return func(b *Builder) {
		b.noAuth = noAuth
	}
}

// WithLogger sets the logger for configuration notices.
func WithLogger(logger observability.Logger) BuilderOption {
	return func(b *Builder) {
		b.logger = logger
	}
}

// NewBuilder creates a Builder that checks authorizer functions against catalog.
func NewBuilder(catalog Catalog, opts ...BuilderOption) *Builder {
	b := &Builder{
		catalog:     catalog,
		logger:      observability.NopLogger(),
		routes:      make(map[string]*Route),
		authorizers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddRoute registers functionKey as the handler of def.Route and, unless
// authorization is disabled, binds its authorizer.
func (b *Builder) AddRoute(functionKey string, def Definition) {
	if prev, ok := b.routes[def.Route]; ok {
		b.logger.Warn("route redefined, later definition wins",
			observability.String("route", def.Route),
			observability.String("previous_function", prev.FunctionKey),
			observability.String("function", functionKey),
		)
	}

	b.routes[def.Route] = &Route{FunctionKey: functionKey, Definition: def}

	b.logger.Info("route "+def.Route,
		observability.String("route", def.Route),
		observability.String("function", functionKey),
	)

	if !b.noAuth {
		b.configureAuthorizer(functionKey, def)
	}
}

func (b *Builder) configureAuthorizer(functionKey string, def Definition) {
	auth := def.Authorizer
	if auth == nil {
		return
	}

	log := b.logger.With(
		observability.String("route", def.Route),
		observability.String("function", functionKey),
	)

	if def.Route != Connect {
		log.Info("configuring authorization is supported only on $connect route")
		return
	}

	if auth.IsToken() {
		log.Warn("websockets do not support the TOKEN authorization type, use the REQUEST type instead")
		return
	}

	if auth.Name == "" {
		if auth.ARN != "" {
			log.Warn("authorizers referenced by ARN are not supported, authorization skipped",
				observability.String("arn", auth.ARN))
		} else {
			log.Warn("authorizer has no function name, authorization skipped")
		}
		return
	}

	if b.catalog == nil || !b.catalog.Has(auth.Name) {
		log.Warn("authorization function does not exist",
			observability.String("authorizer", auth.Name))
		return
	}

	b.authorizers[def.Route] = auth.Name

	log.Info("configuring authorization",
		observability.String("authorizer", auth.Name))
}

// Build returns a snapshot of the routes added so far. Later calls to
// AddRoute do not affect returned tables.
func (b *Builder) Build() *Table {
	t := &Table{
		routes:      make(map[string]*Route, len(b.routes)),
		authorizers: make(map[string]string, len(b.authorizers)),
	}
	for k, r := range b.routes {
		cp := *r
		t.routes[k] = &cp
	}
	for k, v := range b.authorizers {
		t.authorizers[k] = v
	}
	return t
}

// FromConfig builds a table from every websocket event declared by the
// configured functions, in function-name order.
func FromConfig(spec *config.GatewaySpec, catalog Catalog, opts ...BuilderOption) *Table {
	b := NewBuilder(catalog, append([]BuilderOption{WithNoAuth(spec.WebSocket.NoAuth)}, opts...)...)

	for _, name := range spec.FunctionNames() {
		for _, event := range spec.Functions[name].Events {
			if event.WebSocket == nil {
				continue
			}
			b.AddRoute(name, definitionFromConfig(event.WebSocket))
		}
	}

	return b.Build()
}

func definitionFromConfig(ev *config.WebSocketEvent) Definition {
	def := Definition{
		Route:                            ev.Route,
		RouteResponseSelectionExpression: ev.RouteResponseSelectionExpression,
	}
	if ev.Authorizer != nil {
		def.Authorizer = &AuthorizerRef{
			Name: ev.Authorizer.Name,
			Type: ev.Authorizer.Type,
			ARN:  ev.Authorizer.ARN,
		}
	}
	return def
}
