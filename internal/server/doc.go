// Package server implements the HTTP surface of blobdrop: the shared-secret
// upload endpoint, key lookups, the optional admin listener with metrics and
// probes, and the lifecycle helpers used by tests and the production binary.
package server
