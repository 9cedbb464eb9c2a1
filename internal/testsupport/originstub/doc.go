// Package originstub hosts a deterministic fake stream origin for probe and
// playback tests. The server answers HLS and DASH manifest requests,
// progressive payloads with ranged reads, and per-path failure injection, so
// reachability and bandwidth tests can assert request sequences without
// touching the network.
package originstub
