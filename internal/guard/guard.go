package guard

import (
	"sync"

	appErrors "github.com/noah-isme/workspace-hub-api/pkg/errors"
)

// Guard tracks mutations in progress per (scope, caller) pair and rejects
// re-entry on the same pair. Each mutating service operation acquires the
// guard on entry and releases it via the returned function on every exit
// path, so a caller can never re-enter a mutation path it already has
// pending.
type Guard struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

// New constructs an empty guard.
func New() *Guard {
	return &Guard{inflight: make(map[string]struct{})}
}

// Acquire marks a mutation in progress for the scope and caller. The
// returned release function must be deferred immediately.
func (g *Guard) Acquire(scope, caller string) (func(), error) {
	key := scope + "|" + caller

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.inflight[key]; busy {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "mutation already in progress for this caller")
	}
	g.inflight[key] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inflight, key)
			g.mu.Unlock()
		})
	}
	return release, nil
}
