// Package component defines the lifecycle contract shared by the agent's
// long-running parts: the HTTP listener, the catalog connection and the
// auto-registration hook. A Registry starts them in registration order and
// stops them in reverse.
package component
