// Package ingest receives datagrams from the network, wraps them as packets
// and feeds the buffer. The primary path is a UDP listener; an optional NATS
// subscriber feeds the same pipeline. Payloads are opaque bytes; nothing
// here parses them.
package ingest
