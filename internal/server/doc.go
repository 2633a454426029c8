// Package server carries the control plane: the websocket hub holding live
// client connections, the per-connection event dispatcher and the HTTP API
// for status, metrics and the connection upgrade endpoint.
package server
