// Package daemon hosts the long-running assembly service: single-instance
// locking, the workflow manager lifecycle, and the HTTP control API.
package daemon
