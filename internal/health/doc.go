// Package health provides liveness and readiness probes and their HTTP
// handlers.
//
// Probes compose with All and Any. ShutdownGate fails readiness as soon as
// shutdown starts so the load balancer drains the instance before the
// listeners close.
package health
