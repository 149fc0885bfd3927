// Package events builds the JSON event envelopes handed to handler
// functions for WebSocket connect, message, disconnect and authorizer
// invocations.
package events

import (
	"fmt"
	"time"
)

// Kind is the closed set of routed event types.
type Kind int

const (
	// KindConnect is delivered to the $connect route.
	KindConnect Kind = iota
	// KindMessage is delivered for every inbound message.
	KindMessage
	// KindDisconnect is delivered to the $disconnect route.
	KindDisconnect
)

// String returns the eventType value used in the request context.
func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "CONNECT"
	case KindMessage:
		return "MESSAGE"
	case KindDisconnect:
		return "DISCONNECT"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// requestTimeLayout is the CLF timestamp format of requestContext.requestTime.
const requestTimeLayout = "02/Jan/2006:15:04:05 -0700"

// Identity is the caller identity attached to an event.
type Identity struct {
	APIKey    string `json:"apiKey,omitempty"`
	SourceIP  string `json:"sourceIp"`
	UserAgent string `json:"userAgent,omitempty"`
}

// RequestContext is the requestContext object of an event.
type RequestContext struct {
	RouteKey             string         `json:"routeKey"`
	EventType            string         `json:"eventType"`
	MessageID            string         `json:"messageId,omitempty"`
	ExtendedRequestID    string         `json:"extendedRequestId"`
	RequestTime          string         `json:"requestTime"`
	RequestTimeEpoch     int64          `json:"requestTimeEpoch"`
	MessageDirection     string         `json:"messageDirection"`
	Stage                string         `json:"stage"`
	ConnectedAt          int64          `json:"connectedAt"`
	Identity             Identity       `json:"identity"`
	Authorizer           map[string]any `json:"authorizer,omitempty"`
	RequestID            string         `json:"requestId"`
	DomainName           string         `json:"domainName"`
	ConnectionID         string         `json:"connectionId"`
	APIID                string         `json:"apiId"`
	DisconnectStatusCode int            `json:"disconnectStatusCode,omitempty"`
	DisconnectReason     string         `json:"disconnectReason,omitempty"`
}

// Event is the envelope for connect, message and disconnect invocations.
type Event struct {
	Kind                            Kind                `json:"-"`
	Headers                         map[string]string   `json:"headers,omitempty"`
	MultiValueHeaders               map[string][]string `json:"multiValueHeaders,omitempty"`
	QueryStringParameters           map[string]string   `json:"queryStringParameters,omitempty"`
	MultiValueQueryStringParameters map[string][]string `json:"multiValueQueryStringParameters,omitempty"`
	Body                            string              `json:"body,omitempty"`
	IsBase64Encoded                 bool                `json:"isBase64Encoded"`
	RequestContext                  RequestContext      `json:"requestContext"`
}

// Enrich replaces the event's identity and authorizer context with the
// values cached for the connection at authorization time.
func (e *Event) Enrich(identity Identity, authorizer map[string]any) {
	e.RequestContext.Identity = identity
	e.RequestContext.Authorizer = authorizer
}

// RouteKey returns the route the event is dispatched on.
func (e *Event) RouteKey() string {
	return e.RequestContext.RouteKey
}

// ConnectionID returns the id of the connection the event belongs to.
func (e *Event) ConnectionID() string {
	return e.RequestContext.ConnectionID
}

// AuthorizerEvent is the REQUEST authorizer envelope sent on $connect.
type AuthorizerEvent struct {
	Type                            string              `json:"type"`
	MethodArn                       string              `json:"methodArn"`
	Headers                         map[string]string   `json:"headers"`
	MultiValueHeaders               map[string][]string `json:"multiValueHeaders"`
	QueryStringParameters           map[string]string   `json:"queryStringParameters"`
	MultiValueQueryStringParameters map[string][]string `json:"multiValueQueryStringParameters"`
	StageVariables                  map[string]string   `json:"stageVariables"`
	RequestContext                  RequestContext      `json:"requestContext"`
}

func requestTime(t time.Time) (string, int64) {
	return t.Format(requestTimeLayout), t.UnixMilli()
}
