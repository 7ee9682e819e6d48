// Package server implements the HTTP transport of the detection service.
// It authenticates requests with the x-api-key header, validates the request
// schema, runs the auditor under a per-request timeout and maps every failure
// to the single generic error envelope. Health, statistics, configuration and
// Prometheus endpoints are served alongside the detection API.
package server
