// Package health provides the liveness, readiness and health endpoints
// served next to the metrics endpoint.
//
// Readiness runs every registered check with a timeout and reports 503
// when any check fails or the gateway is draining:
//
//	checker := health.NewChecker(version)
//	checker.RegisterCheck("authorizer_cache", health.PingCheck(pinger))
//	checker.Register(engine)
package health
