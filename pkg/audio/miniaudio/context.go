// Package miniaudio adapts miniaudio devices (via github.com/gen2brain/malgo)
// to the [audio.FrameSource] and [audio.Sink] interfaces.
//
// A single [Context] owns the native backend; capture and playback devices
// are created from it and must be closed before it.
package miniaudio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"
)

// Context owns the miniaudio backend context.
type Context struct {
	mu     sync.Mutex
	actx   *malgo.AllocatedContext
	closed bool
}

// NewContext initialises the default miniaudio backend.
func NewContext() (*Context, error) {
	actx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w", err)
	}
	return &Context{actx: actx}, nil
}

// Close releases the backend context. Close is idempotent.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	err := c.actx.Uninit()
	c.actx.Free()
	if err != nil {
		return fmt.Errorf("miniaudio: uninit context: %w", err)
	}
	return nil
}

func (c *Context) native() malgo.Context {
	return c.actx.Context
}
