// Package buffer holds the bounded in-memory window of recently ingested
// datagrams. Packets are kept in arrival order and evicted oldest-first once
// the configured byte ceiling is exceeded.
package buffer
