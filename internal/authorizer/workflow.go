// Package authorizer runs the REQUEST authorizer bound to the $connect
// route and caches the identity and context it grants.
package authorizer

import (
	"context"
	"errors"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/vyrodovalexey/avawsgw/internal/events"
	"github.com/vyrodovalexey/avawsgw/internal/invoker"
	"github.com/vyrodovalexey/avawsgw/internal/observability"
	"github.com/vyrodovalexey/avawsgw/internal/util"
)

// State is a step of the connect authorization flow.
type State int

// Authorization states. Unauthorized, NoPrincipal, ResourceDenied,
// AuthorizerError and Authorized are terminal.
const (
	StateNoAuthorizerConfigured State = iota
	StateInvoking
	StateUnauthorized
	StateNoPrincipal
	StateResourceDenied
	StateAuthorizerError
	StateAuthorized
)

// String returns the metric label of the state.
func (s State) String() string {
	switch s {
	case StateNoAuthorizerConfigured:
		return "no_authorizer"
	case StateInvoking:
		return "invoking"
	case StateUnauthorized:
		return "unauthorized"
	case StateNoPrincipal:
		return "no_principal"
	case StateResourceDenied:
		return "resource_denied"
	case StateAuthorizerError:
		return "authorizer_error"
	case StateAuthorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// unauthorizedSentinel is the bare string an authorizer returns to deny.
const unauthorizedSentinel = "Unauthorized"

// integrationLatency is the synthetic latency reported to handlers.
const integrationLatency = "42"

// Decision is the outcome of Authorize.
type Decision struct {
	State      State
	StatusCode int
	Headers    map[string]string
	Message    string
	Entry      *Entry
}

// Allowed reports whether the connect flow may proceed to the $connect
// handler.
func (d Decision) Allowed() bool {
	return d.State == StateNoAuthorizerConfigured || d.State == StateAuthorized
}

// Workflow invokes authorizers and records their grants.
type Workflow struct {
	invoker invoker.Invoker
	store   Store
	logger  observability.Logger
	metrics *observability.Metrics
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(w *Workflow) {
		w.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(w *Workflow) {
		w.metrics = metrics
	}
}

// NewWorkflow creates a Workflow invoking authorizers through inv and
// caching grants in store.
func NewWorkflow(inv invoker.Invoker, store Store, opts ...Option) *Workflow {
	w := &Workflow{
		invoker: inv,
		store:   store,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Store returns the entry store.
func (w *Workflow) Store() Store {
	return w.store
}

// Authorize runs function as the authorizer of connectionID. An empty
// function name means no authorizer is bound and the flow passes through.
func (w *Workflow) Authorize(
	ctx context.Context,
	function, connectionID string,
	ev *events.AuthorizerEvent,
) Decision {
	d := w.authorize(ctx, function, connectionID, ev)
	if w.metrics != nil {
		w.metrics.RecordAuthorization(d.State.String())
	}
	return d
}

func (w *Workflow) authorize(
	ctx context.Context,
	function, connectionID string,
	ev *events.AuthorizerEvent,
) Decision {
	if function == "" {
		return Decision{State: StateNoAuthorizerConfigured}
	}

	log := w.logger.WithContext(ctx).With(
		observability.String("connection_id", connectionID),
		observability.String("authorizer", function),
	)

	log.Info("running authorization function for " + events.RouteConnect)

	res, err := w.invoker.Invoke(ctx, function, ev)
	if err != nil {
		return authorizerError(log, err)
	}

	if s, ok := res.String(); ok {
		if s == unauthorizedSentinel {
			return Decision{State: StateUnauthorized, StatusCode: http.StatusUnauthorized}
		}
		log.Info("authorization response did not include a principalId")
		return Decision{State: StateNoPrincipal, StatusCode: http.StatusForbidden}
	}

	// Numbers, booleans, arrays and null carry no principal either.
	if !gjson.ParseBytes(res.Raw).IsObject() {
		log.Info("authorization response did not include a principalId")
		return Decision{State: StateNoPrincipal, StatusCode: http.StatusForbidden}
	}

	policy, err := ParsePolicy(res.Raw)
	if err != nil {
		return authorizerError(log, err)
	}

	if policy.PrincipalID == "" {
		log.Info("authorization response did not include a principalId")
		return Decision{State: StateNoPrincipal, StatusCode: http.StatusForbidden}
	}

	if policy.PolicyDocument == nil {
		return authorizerError(log, errors.New("authorization response did not include a policyDocument"))
	}

	if !CanExecuteResource(policy.PolicyDocument, ev.MethodArn) {
		log.Info("authorization response didn't authorize user to access resource",
			observability.String("method_arn", ev.MethodArn))
		return Decision{State: StateResourceDenied, StatusCode: http.StatusForbidden}
	}

	log.Info("authorization function returned a successful response",
		observability.String("principal_id", policy.PrincipalID))

	validated, err := ValidateContext(policy.Context)
	if err != nil {
		return authorizerError(log, err)
	}

	entry := &Entry{
		Identity: events.Identity{
			APIKey:    policy.UsageIdentifierKey,
			SourceIP:  ev.RequestContext.Identity.SourceIP,
			UserAgent: ev.RequestContext.Identity.UserAgent,
		},
		Authorizer: make(map[string]any, len(validated)+2),
	}
	entry.Authorizer["integrationLatency"] = integrationLatency
	entry.Authorizer["principalId"] = policy.PrincipalID
	for k, v := range validated {
		entry.Authorizer[k] = v
	}

	if err := w.store.Set(ctx, connectionID, entry); err != nil {
		return authorizerError(log, err)
	}

	return Decision{State: StateAuthorized, Entry: entry}
}

// authorizerError maps a failure to a rejection. StatusErrors surface
// their status, headers and message; anything else is a bare 500.
func authorizerError(log observability.Logger, err error) Decision {
	log.Debug("error in route handler '"+events.RouteConnect+"' authorizer", observability.Error(err))

	d := Decision{State: StateAuthorizerError, StatusCode: http.StatusInternalServerError}
	if se, ok := util.AsStatusError(err); ok {
		d.StatusCode = se.StatusCode
		d.Headers = se.Headers
		d.Message = se.Message
	}
	return d
}
