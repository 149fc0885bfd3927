// Package selection resolves inbound WebSocket payloads to route keys
// using a route selection expression such as $request.body.action.
package selection

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	// DefaultExpression is the route selection expression used when none
	// is configured.
	DefaultExpression = "$request.body.action"

	// DefaultRoute is returned for payloads that do not select a route.
	DefaultRoute = "$default"

	bodyPrefix = "$request.body"
)

// ErrUnsupportedExpression is returned for expressions that do not
// select from the request body.
var ErrUnsupportedExpression = errors.New("unsupported route selection expression")

// Resolver derives route keys from message payloads. It is immutable and
// safe for concurrent use.
type Resolver struct {
	expression   string
	path         string
	defaultRoute string
}

// NewResolver compiles expression. Empty arguments fall back to
// DefaultExpression and DefaultRoute.
func NewResolver(expression, defaultRoute string) (*Resolver, error) {
	if expression == "" {
		expression = DefaultExpression
	}
	if defaultRoute == "" {
		defaultRoute = DefaultRoute
	}

	path, err := compile(expression)
	if err != nil {
		return nil, err
	}

	return &Resolver{
		expression:   expression,
		path:         path,
		defaultRoute: defaultRoute,
	}, nil
}

// Expression returns the configured route selection expression.
func (r *Resolver) Expression() string {
	return r.expression
}

// DefaultRoute returns the fallback route key.
func (r *Resolver) DefaultRoute() string {
	return r.defaultRoute
}

// Resolve returns the route key selected by payload. Payloads that are
// not JSON, or whose selected value is missing, empty or not a string,
// resolve to the default route.
func (r *Resolver) Resolve(payload []byte) string {
	if !gjson.ValidBytes(payload) {
		return r.defaultRoute
	}

	var value gjson.Result
	if r.path == "" {
		value = gjson.ParseBytes(payload)
	} else {
		value = gjson.GetBytes(payload, r.path)
	}

	if value.Type != gjson.String || value.Str == "" {
		return r.defaultRoute
	}
	return value.Str
}

// compile converts the part of expression after $request.body into a
// gjson path. Both dotted members and bracketed indexes are accepted:
// $request.body.items[0].type becomes items.0.type.
func compile(expression string) (string, error) {
	if !strings.HasPrefix(expression, bodyPrefix) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedExpression, expression)
	}

	rest := expression[len(bodyPrefix):]
	if rest == "" {
		return "", nil
	}

	var segments []string
	for rest != "" {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			end := strings.IndexAny(rest, ".[")
			if end < 0 {
				end = len(rest)
			}
			if end == 0 {
				return "", fmt.Errorf("%w: empty member in %q", ErrUnsupportedExpression, expression)
			}
			segments = append(segments, escape(rest[:end]))
			rest = rest[end:]
		case '[':
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return "", fmt.Errorf("%w: unterminated index in %q", ErrUnsupportedExpression, expression)
			}
			key := strings.Trim(rest[1:end], `"'`)
			if key == "" {
				return "", fmt.Errorf("%w: empty index in %q", ErrUnsupportedExpression, expression)
			}
			segments = append(segments, escape(key))
			rest = rest[end+1:]
		default:
			return "", fmt.Errorf("%w: %q", ErrUnsupportedExpression, expression)
		}
	}

	return strings.Join(segments, "."), nil
}

// escape quotes gjson path metacharacters so keys match literally.
func escape(key string) string {
	var b strings.Builder
	for _, c := range key {
		switch c {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
