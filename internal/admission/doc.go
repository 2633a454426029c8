// Package admission implements the rate-limiting and connection-capping
// discipline gating inbound work: fixed-window counters per subject and a
// per-address open-connection cap.
package admission
