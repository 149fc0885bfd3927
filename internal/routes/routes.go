// Package routes holds the immutable route table of the gateway and the
// builder that produces it from configuration.
package routes

import (
	"sort"
	"strings"
)

// Reserved route keys.
const (
	Connect    = "$connect"
	Disconnect = "$disconnect"
	Default    = "$default"
)

// ResponseSelectionDefault is the routeResponseSelectionExpression value
// that makes the gateway relay a handler's response body to the client.
const ResponseSelectionDefault = "$default"

// AuthorizerRef points at the function authorizing a route.
type AuthorizerRef struct {
	Name string
	Type string
	ARN  string
}

// IsToken reports whether the reference is a TOKEN authorizer.
func (a *AuthorizerRef) IsToken() bool {
	return strings.EqualFold(a.Type, "token")
}

// Definition is the websocket event declaration a route was built from.
type Definition struct {
	Route                            string
	Authorizer                       *AuthorizerRef
	RouteResponseSelectionExpression string
}

// Route binds a route key to the function handling it.
type Route struct {
	FunctionKey string
	Definition  Definition
}

// RelaysResponse reports whether the handler's response body is sent
// back to the client.
func (r *Route) RelaysResponse() bool {
	return r.Definition.RouteResponseSelectionExpression == ResponseSelectionDefault
}

// Table is a read-only snapshot of routes and authorizer bindings. It is
// safe for concurrent use.
type Table struct {
	routes      map[string]*Route
	authorizers map[string]string
}

// Lookup returns the route registered for key.
func (t *Table) Lookup(key string) (*Route, bool) {
	if t == nil {
		return nil, false
	}
	r, ok := t.routes[key]
	return r, ok
}

// Authorizer returns the authorizer function bound to key.
func (t *Table) Authorizer(key string) (string, bool) {
	if t == nil {
		return "", false
	}
	name, ok := t.authorizers[key]
	return name, ok
}

// Len returns the number of routes.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.routes)
}

// Keys returns the route keys in sorted order.
func (t *Table) Keys() []string {
	if t == nil {
		return nil
	}
	keys := make([]string, 0, len(t.routes))
	for k := range t.routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
