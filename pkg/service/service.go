// Package service runs the long-lived parts of lumenpay (the submission
// pipeline and the HTTP API) under one registry that orders their startup by
// dependency and gates each start on the previous service reporting healthy.
package service

import (
	"context"
)

// Status is a lifecycle state reported by a Service.
type Status string

const (
	StatusStopped  Status = "STOPPED"
	StatusStarting Status = "STARTING"
	StatusRunning  Status = "RUNNING"
	StatusStopping Status = "STOPPING"
	// StatusError sticks until the next Start.
	StatusError Status = "ERROR"
)

// Service is a component the Registry can start, stop and probe.
type Service interface {
	// Name is the key other services list in Dependencies.
	Name() string

	// Start must not block; background work belongs in goroutines bound to ctx.
	Start(ctx context.Context) error

	// Stop returns once in-flight work has drained or ctx expires.
	Stop(ctx context.Context) error

	Status() Status

	// Health returns nil when the service can take work. It has the
	// health.Checker shape so the readiness endpoint can call it directly.
	Health(ctx context.Context) error

	// Dependencies names the services that must be healthy before Start.
	Dependencies() []string
}
