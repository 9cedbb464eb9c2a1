// Package server hosts the streamswitch REST API behind a single HTTP server.
//
// The server builds a consistent middleware chain of request IDs, logging,
// audit, metrics, security headers, CORS, rate limiting, and bearer auth so
// handlers all share common protections and instrumentation.
//
// Only the health and metrics endpoints sit outside the guarded /api/ tree;
// everything else flows through the same multiplexer and chain.
package server
