// Package metrics defines the Prometheus instrumentation for the relay.
package metrics
