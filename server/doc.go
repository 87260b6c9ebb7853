// Package server provides the agent's HTTP listeners: a Gin engine served
// over HTTP/1.1 and h2c with the component lifecycle.
//
// Start binds the port before returning and then calls the ready hooks with
// the bound port, which is how listeners announce themselves to
// auto-registration. Port 0 binds an ephemeral port.
//
// Built-in endpoints (server/endpoint): /health, /alive, /ready, /info and
// the instance status endpoint.
package server
