// Package errors defines the error taxonomy of the hub.
//
// Sentinels cover conditions callers branch on (a dead transport, a timed
// out request, a closed client). Typed errors carry detail and implement
// HubError. All of them support errors.Is, errors.As and errors.AsType.
package errors
