// Package sinks implements concrete progress consumers: structured logging,
// Prometheus collectors and Pub/Sub forwarding.
package sinks
