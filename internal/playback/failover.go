package playback

import (
	"errors"
	"sync/atomic"
)

// remoteGate disables the remote synthesizer for the rest of the session once it rejects
// our credentials. Every other failure only affects the item being played.
type remoteGate struct {
	disabled atomic.Bool
}

func (g *remoteGate) allow() bool {
	return !g.disabled.Load()
}

func (g *remoteGate) observe(err error) {
	if errors.Is(err, ErrUnauthorized) {
		g.disabled.Store(true)
	}
}
