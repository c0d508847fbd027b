// Package vitality keeps health and hunger identical across every connected
// participant.
package vitality

// Guard is a latch that stops the synchronizer's own writes from being
// synchronized again. It is not safe for concurrent use; it lives on the
// main context with the rest of the participant state.
type Guard struct {
	held bool
}

// Held reports whether a synchronization is in progress.
func (g *Guard) Held() bool {
	return g.held
}

// Do runs fn with the guard held and reports whether it ran. The guard is
// released on every exit path, including a panic inside fn.
func (g *Guard) Do(fn func()) bool {
	if g.held {
		return false
	}
	g.held = true
	defer func() { g.held = false }()
	fn()
	return true
}
