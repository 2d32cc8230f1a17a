package opshttp

import (
	"net/http"

	"github.com/keithlinneman/listings-admin/internal/health"
)

// Options configures the ops listener. It is meant for the private network
// only and serves no admin API routes.
type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe

	UseRecoverMW bool
	OnPanic      func()
}
