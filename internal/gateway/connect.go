package gateway

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/avawsgw/internal/events"
	"github.com/vyrodovalexey/avawsgw/internal/observability"
	"github.com/vyrodovalexey/avawsgw/internal/routes"
)

// VerifyClient runs the $connect flow for an upgrade request: the bound
// authorizer, if any, then the $connect handler with the event enriched
// by the authorization result. The connection is accepted only when the
// handler answers with a 2xx status.
func (g *Gateway) VerifyClient(ctx context.Context, connectionID string, r *http.Request) Verdict {
	ctx = observability.ContextWithConnectionID(ctx, connectionID)
	ctx, span := tracer.Start(ctx, "gateway.VerifyClient",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("ws.connection_id", connectionID)),
	)
	defer span.End()

	v := g.verify(ctx, connectionID, r)

	span.SetAttributes(
		attribute.Bool("ws.verified", v.Verified),
		attribute.Int("ws.status_code", v.StatusCode),
	)
	if !v.Verified {
		span.SetStatus(codes.Error, http.StatusText(v.StatusCode))
		g.metrics.RecordConnection(false)
	}
	return v
}

func (g *Gateway) verify(ctx context.Context, connectionID string, r *http.Request) Verdict {
	table := g.table.Load()

	route, ok := table.Lookup(routes.Connect)
	if !ok {
		return Verdict{StatusCode: http.StatusBadGateway}
	}

	authFn, _ := table.Authorizer(routes.Connect)
	decision := g.workflow.Authorize(ctx, authFn, connectionID, g.events.Authorizer(connectionID, r))
	if !decision.Allowed() {
		return Verdict{
			StatusCode: decision.StatusCode,
			Headers:    decision.Headers,
			Message:    decision.Message,
		}
	}

	ev := g.events.Connect(connectionID, r)
	g.enrich(ctx, ev)

	res, err := g.invoker.Invoke(ctx, route.FunctionKey, ev)
	if err != nil {
		g.logger.WithContext(ctx).Debug("error in route handler '"+route.FunctionKey+"'",
			observability.Error(err))
		g.discard(ctx, connectionID)
		return Verdict{StatusCode: http.StatusBadGateway}
	}

	verified := res.StatusCode >= 200 && res.StatusCode < 300
	if !verified {
		// The transport never registers a rejected connection, so nothing
		// else would clean up its grant.
		g.discard(ctx, connectionID)
	}
	return Verdict{Verified: verified, StatusCode: res.StatusCode}
}

// AddClient registers an upgraded connection, arms its timers and starts
// its dispatch worker.
func (g *Gateway) AddClient(handle Handle, connectionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrGatewayClosed
	}
	if err := g.registry.Register(handle, connectionID); err != nil {
		return err
	}

	now := g.now()
	s := newSession(connectionID, handle, now, g.cfg.DispatchQueueSize, g.limiter())
	g.sessions[connectionID] = s

	g.timeouts.ArmHard(connectionID)
	g.timeouts.Touch(connectionID)

	g.workers.Add(1)
	go g.run(s)

	g.metrics.RecordConnection(true)
	g.logger.Debug("connection registered", observability.String("connection_id", connectionID))
	return nil
}

// Abandon drops the authorization grant of a verified connection whose
// upgrade did not complete.
func (g *Gateway) Abandon(connectionID string) {
	g.discard(g.ctx, connectionID)
	g.metrics.RecordConnection(false)
}

func (g *Gateway) limiter() *rate.Limiter {
	if g.cfg.ThrottleRate <= 0 {
		return nil
	}
	burst := g.cfg.ThrottleBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(g.cfg.ThrottleRate), burst)
}

// enrich copies the cached authorization result of the connection, if
// any, into ev.
func (g *Gateway) enrich(ctx context.Context, ev *events.Event) {
	entry, ok, err := g.workflow.Store().Get(ctx, ev.ConnectionID())
	if err != nil {
		g.logger.WithContext(ctx).Warn("authorizer cache lookup failed", observability.Error(err))
		return
	}
	if ok {
		ev.Enrich(entry.Identity, entry.Authorizer)
	}
}

func (g *Gateway) discard(ctx context.Context, connectionID string) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	if err := g.workflow.Store().Delete(ctx, connectionID); err != nil {
		g.logger.Warn("authorizer cache delete failed",
			observability.String("connection_id", connectionID),
			observability.Error(err))
	}
}

// cacheOpTimeout bounds cache operations that run outside a request.
const cacheOpTimeout = 5 * time.Second
