package originstub

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultHLSManifest = "#EXTM3U\n" +
	"#EXT-X-VERSION:3\n" +
	"#EXT-X-TARGETDURATION:6\n" +
	"#EXTINF:6.0,\n" +
	"segment-0.ts\n" +
	"#EXT-X-ENDLIST\n"

const defaultDASHManifest = `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
	`<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static" mediaPresentationDuration="PT6S"/>` + "\n"

const defaultPayloadSize = 64 * 1024

// Options describes how the fake origin should behave.
type Options struct {
	// HLSManifest and DASHManifest replace the default bodies served for
	// .m3u8 and .mpd paths.
	HLSManifest  string
	DASHManifest string

	// PayloadSize is the byte length served for segment and progressive
	// paths.
	PayloadSize int

	// Latency delays every response, letting tests shape measured RTT.
	Latency time.Duration

	// FailPaths causes the first N requests to a path to return FailStatus.
	// Subsequent requests succeed.
	FailPaths map[string]int

	// FailStatus is the status injected failures answer with. Defaults to
	// HTTP 503.
	FailStatus int
}

// Request is a recorded origin interaction.
type Request struct {
	Method    string
	Path      string
	Range     string
	Status    int
	Attempt   int
	Timestamp time.Time
}

// Origin hosts a single httptest.Server acting as a stream origin.
type Origin struct {
	server *httptest.Server
	opts   Options

	mu       sync.Mutex
	requests []Request
	attempts map[string]int
}

// Start spins up a new origin stub using the provided options.
func Start(opts Options) *Origin {
	o := &Origin{opts: opts, attempts: make(map[string]int)}
	o.server = httptest.NewServer(http.HandlerFunc(o.handle))
	return o
}

// Close shuts down the underlying HTTP server.
func (o *Origin) Close() {
	if o.server != nil {
		o.server.Close()
	}
}

// BaseURL returns the origin's HTTP base URL.
func (o *Origin) BaseURL() string {
	return o.server.URL
}

// Client returns a client wired to the underlying test server.
func (o *Origin) Client() *http.Client {
	return o.server.Client()
}

// URL joins a path onto the origin's base URL.
func (o *Origin) URL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return o.server.URL + path
}

// Requests returns a copy of all recorded requests in the order they arrived.
func (o *Origin) Requests() []Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Request, len(o.requests))
	copy(out, o.requests)
	return out
}

// RequestCount returns how many requests the path has received.
func (o *Origin) RequestCount(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attempts[path]
}

func (o *Origin) handle(w http.ResponseWriter, r *http.Request) {
	if o.opts.Latency > 0 {
		select {
		case <-time.After(o.opts.Latency):
		case <-r.Context().Done():
			return
		}
	}

	path := r.URL.Path
	o.mu.Lock()
	o.attempts[path]++
	attempt := o.attempts[path]
	o.mu.Unlock()

	record := Request{
		Method:    r.Method,
		Path:      path,
		Range:     r.Header.Get("Range"),
		Attempt:   attempt,
		Timestamp: time.Now(),
	}

	if attempt <= o.opts.FailPaths[path] {
		status := o.opts.FailStatus
		if status == 0 {
			status = http.StatusServiceUnavailable
		}
		record.Status = status
		o.record(record)
		http.Error(w, "origin unavailable", status)
		return
	}

	switch {
	case strings.HasSuffix(path, ".m3u8"):
		record.Status = http.StatusOK
		o.record(record)
		o.writeManifest(w, r, "application/vnd.apple.mpegurl", o.hlsManifest())
	case strings.HasSuffix(path, ".mpd"):
		record.Status = http.StatusOK
		o.record(record)
		o.writeManifest(w, r, "application/dash+xml", o.dashManifest())
	default:
		status := o.servePayload(w, r)
		record.Status = status
		o.record(record)
	}
}

func (o *Origin) writeManifest(w http.ResponseWriter, r *http.Request, contentType, body string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	if r.Method == http.MethodHead {
		return
	}
	fmt.Fprint(w, body)
}

// servePayload answers segment and progressive requests with a deterministic
// byte pattern, honouring HEAD and single-range reads the way a CDN edge
// would. It returns the status written.
func (o *Origin) servePayload(w http.ResponseWriter, r *http.Request) int {
	size := o.opts.PayloadSize
	if size <= 0 {
		size = defaultPayloadSize
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Accept-Ranges", "bytes")

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.Itoa(size))
		return http.StatusOK
	}

	start, end, ok := parseRange(r.Header.Get("Range"), size)
	if ok {
		w.Header().Set("Content-Length", strconv.Itoa(end-start+1))
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(payload(start, end-start+1))
		return http.StatusPartialContent
	}

	w.Header().Set("Content-Length", strconv.Itoa(size))
	w.Write(payload(0, size))
	return http.StatusOK
}

func (o *Origin) hlsManifest() string {
	if o.opts.HLSManifest != "" {
		return o.opts.HLSManifest
	}
	return defaultHLSManifest
}

func (o *Origin) dashManifest() string {
	if o.opts.DASHManifest != "" {
		return o.opts.DASHManifest
	}
	return defaultDASHManifest
}

func (o *Origin) record(req Request) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = append(o.requests, req)
}

// parseRange handles the single ascending "bytes=a-b" form probe clients
// send. Anything else falls back to a full-body response.
func parseRange(header string, size int) (start, end int, ok bool) {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, "bytes=") {
		return 0, 0, false
	}
	value := strings.TrimPrefix(header, "bytes=")
	if strings.Contains(value, ",") {
		return 0, 0, false
	}
	parts := strings.SplitN(value, "-", 2)
	if len(parts) != 2 || parts[0] == "" {
		return 0, 0, false
	}
	start, err := strconv.Atoi(parts[0])
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}
	end = size - 1
	if parts[1] != "" {
		end, err = strconv.Atoi(parts[1])
		if err != nil || end < start {
			return 0, 0, false
		}
		if end >= size {
			end = size - 1
		}
	}
	return start, end, true
}

func payload(offset, length int) []byte {
	out := make([]byte, length)
	for i := range out {
		out[i] = byte((offset + i) % 251)
	}
	return out
}
