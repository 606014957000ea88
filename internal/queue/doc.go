// Package queue persists assembly jobs, media references, transcript links,
// and billing events in SQLite, and provides the durable commit layer that
// guards status transitions against transient connection failures.
package queue
