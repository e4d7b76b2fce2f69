// Package telemetry provides structured logging for sqlward built on
// zerolog. A Logger travels through context so the orchestrator,
// adapters and commands share one configured instance, each adding its
// own fields (run id, target, change) as work descends.
package telemetry
