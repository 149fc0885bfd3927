package events

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Reserved route keys carried by lifecycle events.
const (
	RouteConnect    = "$connect"
	RouteDisconnect = "$disconnect"
)

// Provider describes the emulated deployment the events claim to come from.
type Provider struct {
	Region     string
	AccountID  string
	APIID      string
	Stage      string
	DomainName string
}

// Builder creates event envelopes for a provider.
type Builder struct {
	provider Provider
	now      func() time.Time
	newID    func() string
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithClock overrides the time source.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		b.now = now
	}
}

// WithIDGenerator overrides the request and message id generator.
func WithIDGenerator(newID func() string) BuilderOption {
	return func(b *Builder) {
		b.newID = newID
	}
}

// NewBuilder creates a Builder for provider.
func NewBuilder(provider Provider, opts ...BuilderOption) *Builder {
	b := &Builder{
		provider: provider,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// MethodARN returns the execute-api ARN of routeKey on the provider's stage.
func (b *Builder) MethodARN(routeKey string) string {
	return fmt.Sprintf("arn:aws:execute-api:%s:%s:%s/%s/%s",
		b.provider.Region, b.provider.AccountID, b.provider.APIID, b.provider.Stage, routeKey)
}

// Connect builds the $connect event for the upgrade request r.
func (b *Builder) Connect(connectionID string, r *http.Request) *Event {
	now := b.now()
	ev := &Event{
		Kind:                            KindConnect,
		Headers:                         singleValues(r.Header),
		MultiValueHeaders:               multiValues(r.Header),
		QueryStringParameters:           singleValues(r.URL.Query()),
		MultiValueQueryStringParameters: multiValues(r.URL.Query()),
		RequestContext:                  b.requestContext(KindConnect, RouteConnect, connectionID, now, now),
	}
	ev.RequestContext.Identity = identityFromRequest(r)
	ev.RequestContext.DomainName = b.domainName(r)
	return ev
}

// Message builds a message event for payload routed to routeKey. Payloads
// that are not valid UTF-8 are base64 encoded.
func (b *Builder) Message(connectionID, routeKey string, payload []byte, connectedAt time.Time) *Event {
	ev := &Event{
		Kind:           KindMessage,
		RequestContext: b.requestContext(KindMessage, routeKey, connectionID, b.now(), connectedAt),
	}
	ev.RequestContext.MessageID = b.newID()
	if utf8.Valid(payload) {
		ev.Body = string(payload)
	} else {
		ev.Body = base64.StdEncoding.EncodeToString(payload)
		ev.IsBase64Encoded = true
	}
	return ev
}

// Disconnect builds the $disconnect event with the close code and reason
// reported by the transport.
func (b *Builder) Disconnect(connectionID string, code int, reason string, connectedAt time.Time) *Event {
	ev := &Event{
		Kind:           KindDisconnect,
		RequestContext: b.requestContext(KindDisconnect, RouteDisconnect, connectionID, b.now(), connectedAt),
	}
	ev.RequestContext.DisconnectStatusCode = code
	ev.RequestContext.DisconnectReason = reason
	return ev
}

// Authorizer builds the REQUEST authorizer event for the upgrade request r.
func (b *Builder) Authorizer(connectionID string, r *http.Request) *AuthorizerEvent {
	now := b.now()
	rc := b.requestContext(KindConnect, RouteConnect, connectionID, now, now)
	rc.Identity = identityFromRequest(r)
	rc.DomainName = b.domainName(r)

	return &AuthorizerEvent{
		Type:                            "REQUEST",
		MethodArn:                       b.MethodARN(RouteConnect),
		Headers:                         singleValues(r.Header),
		MultiValueHeaders:               multiValues(r.Header),
		QueryStringParameters:           singleValues(r.URL.Query()),
		MultiValueQueryStringParameters: multiValues(r.URL.Query()),
		StageVariables:                  map[string]string{},
		RequestContext:                  rc,
	}
}

func (b *Builder) requestContext(kind Kind, routeKey, connectionID string, now, connectedAt time.Time) RequestContext {
	reqTime, epoch := requestTime(now)
	requestID := b.newID()
	return RequestContext{
		RouteKey:          routeKey,
		EventType:         kind.String(),
		ExtendedRequestID: requestID,
		RequestTime:       reqTime,
		RequestTimeEpoch:  epoch,
		MessageDirection:  "IN",
		Stage:             b.provider.Stage,
		ConnectedAt:       connectedAt.UnixMilli(),
		Identity:          Identity{SourceIP: "127.0.0.1"},
		RequestID:         requestID,
		DomainName:        b.domainName(nil),
		ConnectionID:      connectionID,
		APIID:             b.provider.APIID,
	}
}

func (b *Builder) domainName(r *http.Request) string {
	if b.provider.DomainName != "" {
		return b.provider.DomainName
	}
	if r != nil && r.Host != "" {
		return r.Host
	}
	return "localhost"
}

func identityFromRequest(r *http.Request) Identity {
	return Identity{
		SourceIP:  sourceIP(r),
		UserAgent: r.UserAgent(),
	}
}

func sourceIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func singleValues(values map[string][]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[len(v)-1]
		}
	}
	return out
}

func multiValues(values map[string][]string) map[string][]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string][]string, len(values))
	for k, v := range values {
		out[k] = append([]string(nil), v...)
	}
	return out
}
