// Package errors provides the structured error type shared by the discovery
// packages: machine-readable codes, retryable detection and catalog status
// classification.
package errors
