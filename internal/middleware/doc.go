// Package middleware provides the gin middleware used by the gateway's
// HTTP surfaces.
//
//   - RequestID: reads or generates the X-Request-ID of a request
//   - Logging: structured access logging, leveled by response status
//   - Recovery: converts handler panics into 500 responses
//
// Middleware is registered on a gin engine in that order:
//
//	engine.Use(
//	    middleware.RequestID(),
//	    middleware.Logging(logger),
//	    middleware.Recovery(logger),
//	)
package middleware
