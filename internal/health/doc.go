// Package health serves the /health, /ready and /live JSON endpoints.
//
// Readiness aggregates registered checks: any unhealthy check makes the
// service unavailable, a degraded check is reported but still ready. A
// draining checker reports unavailable regardless of its checks, which
// lets load balancers stop routing before the listener closes.
package health
