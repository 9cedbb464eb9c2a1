// Package api hosts the HTTP handlers that front the streamswitch REST API.
//
// The handlers assembled by Handler coordinate request validation and
// response shaping while delegating the actual work to collaborators
// injected at construction time: the catalog repository for directory and
// health reads, the playback manager for session control, the prober and
// checker for ad hoc measurements, the monitor for on-demand sweeps, and
// the analytics recorder for reports. The package does not reach for
// globals and expects callers to supply fully configured dependencies.
//
// Handler implementations assume upstream middleware from internal/server
// has already enforced authentication, rate limiting, metrics, and request
// logging. New routes should preserve that contract by avoiding duplicate
// validation and by leaning on the middleware guarantees established in the
// server stack.
package api
