package playback

import (
	"context"
	"sync"

	"streamswitch/internal/models"
)

// AttachParams carries everything an engine needs to begin rendering one
// resolved source.
type AttachParams struct {
	URL                 string              `json:"url"`
	StartLevel          models.QualityLevel `json:"startLevel"`
	BufferTargetSeconds int                 `json:"bufferTargetSeconds"`
}

// Engine renders a resolved source. Attach blocks until the engine has
// accepted the source or rejected it with a fatal error; segment-level
// errors are the engine's own problem and never surface here. Fatal errors
// discovered after a successful Attach are reported back through the
// session's Report methods.
type Engine interface {
	Attach(ctx context.Context, params AttachParams) error
	Detach() error
}

// RemoteEngine stands in for a player that attaches out of band. Attach
// only records the parameters the remote player should use; the API layer
// hands them back in the session response and the player reports fatal
// errors, buffering, and level switches through the session event endpoints.
type RemoteEngine struct {
	mu       sync.Mutex
	params   AttachParams
	attached bool
}

func NewRemoteEngine() *RemoteEngine {
	return &RemoteEngine{}
}

func (e *RemoteEngine) Attach(_ context.Context, params AttachParams) error {
	e.mu.Lock()
	e.params = params
	e.attached = true
	e.mu.Unlock()
	return nil
}

func (e *RemoteEngine) Detach() error {
	e.mu.Lock()
	e.attached = false
	e.mu.Unlock()
	return nil
}

// Params returns the most recently attached parameters and whether the
// engine is currently attached.
func (e *RemoteEngine) Params() (AttachParams, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params, e.attached
}

var _ Engine = (*RemoteEngine)(nil)
