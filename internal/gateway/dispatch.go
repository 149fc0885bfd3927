package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avawsgw/internal/events"
	"github.com/vyrodovalexey/avawsgw/internal/observability"
	"github.com/vyrodovalexey/avawsgw/internal/routes"
)

// errorFrame is sent to a client whose handler failed.
type errorFrame struct {
	ConnectionID string `json:"connectionId"`
	Message      string `json:"message"`
	RequestID    string `json:"requestId"`
}

// OnMessage handles an inbound frame from handle. The route is resolved
// from the payload and the dispatch is queued behind any earlier ones on
// the same connection.
func (g *Gateway) OnMessage(handle Handle, payload []byte) {
	id, ok := g.registry.ID(handle)
	if !ok {
		return
	}
	s := g.session(id)
	if s == nil {
		return
	}

	g.logger.Debug("message:"+string(payload), observability.String("connection_id", id))
	g.metrics.RecordMessageReceived()

	now := g.now()
	g.timeouts.Touch(id)
	s.touch(now)

	if !s.allow() {
		g.metrics.RecordThrottled()
		g.sendFrame(s, errorFrame{
			ConnectionID: id,
			Message:      "Too Many Requests",
			RequestID:    errorRequestID,
		})
		return
	}

	routeKey := g.resolver.Resolve(payload)
	g.logger.Debug("route:"+routeKey+" on connection="+id, observability.String("connection_id", id))

	ev := g.events.Message(id, routeKey, payload, s.connectedAt)
	s.enqueue(task{routeKey: routeKey, event: ev})
}

// OnClose handles the closure of handle. The connection leaves the
// registry immediately; its $disconnect dispatch runs after any queued
// messages and its authorization grant is dropped afterwards. Calling
// OnClose again for the same handle is a no-op.
func (g *Gateway) OnClose(handle Handle, code int, reason string) {
	id, ok := g.registry.Unregister(handle)
	if !ok {
		return
	}

	g.logger.Debug("disconnect:"+id,
		observability.String("connection_id", id),
		observability.Int("code", code))

	g.timeouts.Clear(id)
	g.metrics.RecordDisconnect()

	g.mu.Lock()
	s := g.sessions[id]
	delete(g.sessions, id)
	g.mu.Unlock()

	if s == nil {
		g.discard(g.ctx, id)
		return
	}

	ev := g.events.Disconnect(id, code, reason, s.connectedAt)
	s.stop(task{
		routeKey: routes.Disconnect,
		event:    ev,
		after:    func() { g.discard(g.ctx, id) },
	})
}

// dispatch runs the handler bound to routeKey. Routes that are not
// configured fall back to $default, except $disconnect. Handler failures
// and panics are reported to the connection with an error frame.
func (g *Gateway) dispatch(s *session, routeKey string, ev *events.Event) {
	table := g.table.Load()

	route, ok := table.Lookup(routeKey)
	if !ok && routeKey != routes.Disconnect {
		route, ok = table.Lookup(routes.Default)
	}
	if !ok {
		return
	}

	ctx := observability.ContextWithConnectionID(g.ctx, s.id)
	ctx = observability.ContextWithRequestID(ctx, ev.RequestContext.RequestID)
	ctx, span := tracer.Start(ctx, "gateway.dispatch",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("ws.connection_id", s.id),
			attribute.String("ws.route_key", routeKey),
			attribute.String("ws.function", route.FunctionKey),
		),
	)
	defer span.End()

	start := time.Now()
	err := g.invokeRoute(ctx, s, routeKey, route, ev)
	outcome := observability.OutcomeSuccess
	if err != nil {
		outcome = observability.OutcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		g.logger.WithContext(observability.ContextWithSpanIDs(ctx)).Error(
			"error in route handler '"+route.FunctionKey+"'",
			observability.String("route", routeKey),
			observability.Error(err),
		)
		if g.sendFrame(s, errorFrame{
			ConnectionID: s.id,
			Message:      "Internal server error",
			RequestID:    errorRequestID,
		}) {
			g.metrics.RecordErrorFrame()
		}
	}
	g.metrics.RecordRouteInvocation(routeKey, outcome, time.Since(start))
}

func (g *Gateway) invokeRoute(
	ctx context.Context,
	s *session,
	routeKey string,
	route *routes.Route,
	ev *events.Event,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in dispatch: %v", r)
		}
	}()

	g.enrich(ctx, ev)

	res, err := g.invoker.Invoke(ctx, route.FunctionKey, ev)
	if err != nil {
		return err
	}

	if res.Body != "" && routeKey != routes.Disconnect && route.RelaysResponse() {
		g.Send(s.id, []byte(res.Body))
	}
	return nil
}

// sendFrame writes a gateway-generated frame straight to the handle,
// without counting as connection activity.
func (g *Gateway) sendFrame(s *session, frame errorFrame) bool {
	if !s.handle.IsOpen() {
		return false
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return false
	}
	if err := s.handle.Send(payload); err != nil {
		g.logger.Debug("frame not delivered",
			observability.String("connection_id", s.id),
			observability.Error(err))
		return false
	}
	return true
}
