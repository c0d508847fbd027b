// Package session remembers who left while playing, so they can be sent
// back to the current world instead of the waiting area when they return.
package session

import (
	"log/slog"
	"sort"

	"github.com/talgya/sharedhealth/internal/participant"
)

// Scheduler runs fn on the main context after the given number of ticks.
type Scheduler interface {
	After(ticks uint64, fn func())
}

// Placer puts a participant into whatever environment is active when the
// call is made.
type Placer interface {
	PlaceInActive(p *participant.Participant)
}

// Tracker owns the disconnected set. It must only be used from the main
// context.
type Tracker struct {
	waiting      string
	delay        uint64
	sched        Scheduler
	placer       Placer
	disconnected map[string]struct{}

	// pending maps a returning participant to the token of its scheduled
	// placement. Anything that removes the entry cancels the placement.
	pending map[string]uint64
	seq     uint64
}

// NewTracker creates a tracker. waiting is the name of the waiting
// environment; delay is how many ticks to wait after a reconnect before
// placing the participant.
func NewTracker(waiting string, delay uint64, sched Scheduler, placer Placer) *Tracker {
	return &Tracker{
		waiting:      waiting,
		delay:        delay,
		sched:        sched,
		placer:       placer,
		disconnected: make(map[string]struct{}),
		pending:      make(map[string]uint64),
	}
}

// SetPlacer wires the placer after construction; the lifecycle manager and
// the tracker refer to each other.
func (t *Tracker) SetPlacer(p Placer) {
	t.placer = p
}

// OnDisconnect records p when it leaves from anywhere but the waiting area.
func (t *Tracker) OnDisconnect(p *participant.Participant) {
	delete(t.pending, p.ID)
	if p.In(t.waiting) {
		return
	}
	t.disconnected[p.ID] = struct{}{}
	slog.Debug("participant left mid-game", "participant", p.Name, "world", p.Location.World)
}

// OnReconnect reports whether p was tracked. A tracked participant is
// removed from the set and, after the configured delay, placed into the
// environment that is active at that moment. A later disconnect, death or
// Clear cancels the placement.
func (t *Tracker) OnReconnect(p *participant.Participant) bool {
	if _, ok := t.disconnected[p.ID]; !ok {
		return false
	}
	delete(t.disconnected, p.ID)

	t.seq++
	token := t.seq
	t.pending[p.ID] = token
	t.sched.After(t.delay, func() {
		if t.pending[p.ID] != token {
			return
		}
		delete(t.pending, p.ID)
		if !p.Connected {
			return
		}
		t.placer.PlaceInActive(p)
	})
	slog.Info("returning participant to active world", "participant", p.Name, "delay_ticks", t.delay)
	return true
}

// OnDeath forgets id and drops any placement still waiting on the reconnect
// delay. Death always routes through the waiting area.
func (t *Tracker) OnDeath(id string) {
	delete(t.disconnected, id)
	delete(t.pending, id)
}

// Clear empties the set after a migration. Migration has already placed
// everyone connected, so pending placements are dropped too.
func (t *Tracker) Clear() {
	clear(t.disconnected)
	clear(t.pending)
}

// Pending reports whether id has a placement scheduled.
func (t *Tracker) Pending(id string) bool {
	_, ok := t.pending[id]
	return ok
}

// Contains reports whether id is tracked.
func (t *Tracker) Contains(id string) bool {
	_, ok := t.disconnected[id]
	return ok
}

// Len returns the number of tracked participants.
func (t *Tracker) Len() int {
	return len(t.disconnected)
}

// IDs returns the tracked ids, sorted.
func (t *Tracker) IDs() []string {
	out := make([]string, 0, len(t.disconnected))
	for id := range t.disconnected {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
