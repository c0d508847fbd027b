// Simulation is the ingress side of the core: one function per host event
// kind, each run on the main context.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"

	"github.com/talgya/sharedhealth/internal/notify"
	"github.com/talgya/sharedhealth/internal/participant"
	"github.com/talgya/sharedhealth/internal/vitality"
	"github.com/talgya/sharedhealth/internal/world"
)

// ErrUnknownParticipant is returned by ingress functions for ids the
// roster has never seen.
var ErrUnknownParticipant = errors.New("unknown participant")

// ErrInvalidAmount is returned for vitality amounts that are negative or
// not finite.
var ErrInvalidAmount = errors.New("amount must be a finite, non-negative number")

// maxEvents bounds the in-memory event ring.
const maxEvents = 1000

// Event is a notable occurrence.
type Event struct {
	Tick        uint64 `json:"tick" db:"tick"`
	Description string `json:"description" db:"description"`
	Category    string `json:"category" db:"category"` // "vitality", "session", "death", "lifecycle"
}

// SimConfig holds the ingress timings.
type SimConfig struct {
	DeathTriggerDelayTicks uint64
	WaitingCheckTicks      uint64
	WaitingRadius          float64
	EventFlushTicks        uint64
}

// SimStats counts what happened since start.
type SimStats struct {
	Connects       int `json:"connects"`
	Disconnects    int `json:"disconnects"`
	Deaths         int `json:"deaths"`
	VitalityEvents int `json:"vitality_events"`
	Ignored        int `json:"ignored"`
}

// Simulation holds the participant state and routes host events to the
// synchronizer, tracker and lifecycle manager.
type Simulation struct {
	eng *Engine
	mgr *Manager
	cfg SimConfig

	Events  []Event // Recent events, oldest first
	pending []Event // Not yet persisted
	Stats   SimStats
}

// NewSimulation creates the ingress layer over mgr's collaborators.
func NewSimulation(eng *Engine, mgr *Manager, cfg SimConfig) *Simulation {
	return &Simulation{eng: eng, mgr: mgr, cfg: cfg}
}

// Manager returns the lifecycle manager.
func (s *Simulation) Manager() *Manager { return s.mgr }

// Start schedules the periodic waiting-area checks and event flushing.
// Main context only.
func (s *Simulation) Start() {
	s.eng.Every(s.cfg.WaitingCheckTicks, s.enforceWaitingArea)
	if s.mgr.Journal != nil && s.cfg.EventFlushTicks > 0 {
		s.eng.Every(s.cfg.EventFlushTicks, s.FlushEvents)
	}
}

// OnVitalityChanged reports a damage, heal or hunger change on id.
func (s *Simulation) OnVitalityChanged(id string, kind vitality.Kind, amount float64, cause string) (vitality.Outcome, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return vitality.Outcome{}, fmt.Errorf("%v: %w", amount, ErrInvalidAmount)
	}
	p := s.mgr.Roster.Get(id)
	if p == nil {
		return vitality.Outcome{}, fmt.Errorf("%s: %w", id, ErrUnknownParticipant)
	}
	if !p.Connected {
		return vitality.Outcome{}, fmt.Errorf("%s: not connected", id)
	}

	out := s.mgr.Sync.OnVitalityEvent(p, vitality.Event{Kind: kind, Amount: amount, Cause: cause})
	if !out.Applied {
		s.Stats.Ignored++
		return out, nil
	}
	s.Stats.VitalityEvents++
	if kind == vitality.Hunger {
		s.record("vitality", "%s set shared hunger to %d", p.Name, int(out.Target))
	} else {
		s.record("vitality", "%s %s %.1f, shared health now %.1f", p.Name, kind, amount, out.Target)
	}
	return out, nil
}

// OnConnect marks id connected, creating it on first sight. Returning
// participants who left mid-game are sent back to the current world after
// a delay; new ones go to the active world straight away.
func (s *Simulation) OnConnect(id, name string) *participant.Participant {
	p := s.mgr.Roster.Get(id)
	fresh := p == nil
	if fresh {
		p = participant.New(id, name)
		s.mgr.Roster.Add(p)
	}
	p.Connected = true
	s.Stats.Connects++

	switch {
	case s.mgr.Tracker.OnReconnect(p):
		s.record("session", "%s rejoined and will return to %s", p.Name, s.mgr.ActiveName())
	case fresh || !s.known(p.Location.World):
		s.mgr.PlaceInActive(p)
		s.record("session", "%s joined at %s", p.Name, p.Location)
	default:
		s.record("session", "%s reconnected in %s", p.Name, p.Location.World)
	}
	return p
}

// known reports whether env still exists as the active or waiting world.
func (s *Simulation) known(env string) bool {
	return env == s.mgr.cfg.Waiting || (env != "" && env == s.mgr.ActiveName())
}

// OnDisconnect marks id disconnected and remembers it when it left mid-game.
func (s *Simulation) OnDisconnect(id string) error {
	p := s.mgr.Roster.Get(id)
	if p == nil {
		return fmt.Errorf("%s: %w", id, ErrUnknownParticipant)
	}
	s.mgr.Tracker.OnDisconnect(p)
	p.Connected = false
	s.Stats.Disconnects++
	s.record("session", "%s left from %s", p.Name, p.Location.World)
	return nil
}

// OnDeath handles a participant dying: it keeps its inventory, waits on the
// platform and a new world is triggered shortly after.
func (s *Simulation) OnDeath(id string) error {
	p := s.mgr.Roster.Get(id)
	if p == nil {
		return fmt.Errorf("%s: %w", id, ErrUnknownParticipant)
	}
	s.mgr.Tracker.OnDeath(id)
	s.Stats.Deaths++
	s.record("death", "%s died in %s", p.Name, p.Location.World)

	s.mgr.SendToWaiting(p)
	s.mgr.Notifier.Send(p.ID, notify.Message{Text: "Generating new world...", Color: notify.Yellow})

	s.eng.After(s.cfg.DeathTriggerDelayTicks, func() {
		if s.mgr.TriggerRegeneration() {
			s.record("lifecycle", "regeneration triggered by %s", p.Name)
		}
	})
	return nil
}

// TriggerRegeneration is the operator ingress.
func (s *Simulation) TriggerRegeneration(reason string) bool {
	ok := s.mgr.TriggerRegeneration()
	if ok {
		s.record("lifecycle", "regeneration triggered: %s", reason)
	}
	return ok
}

// enforceWaitingArea keeps everyone on the platform safe and inside its
// walls.
func (s *Simulation) enforceWaitingArea() {
	center := s.mgr.WaitingCenter()
	for _, p := range s.mgr.Roster.In(s.mgr.cfg.Waiting) {
		if !p.Connected {
			continue
		}
		s.mgr.Actuator.SetMode(p, participant.ModeAdventure)
		s.mgr.Actuator.SetInvulnerable(p, true)
		if math.Abs(p.Location.X) > s.cfg.WaitingRadius || math.Abs(p.Location.Z) > s.cfg.WaitingRadius {
			s.mgr.Actuator.Teleport(p, center)
		}
	}
}

func (s *Simulation) record(category, format string, args ...any) {
	e := Event{
		Tick:        s.eng.CurrentTick(),
		Description: fmt.Sprintf(format, args...),
		Category:    category,
	}
	s.Events = append(s.Events, e)
	if len(s.Events) > maxEvents {
		s.Events = s.Events[len(s.Events)-maxEvents:]
	}
	if s.mgr.Journal != nil {
		s.pending = append(s.pending, e)
	}
	slog.Debug("event", "category", category, "description", e.Description)
}

// FlushEvents hands unsaved events to the journal on a separate goroutine.
func (s *Simulation) FlushEvents() {
	if s.mgr.Journal == nil {
		return
	}
	batch := s.TakePending()
	if len(batch) == 0 {
		return
	}
	go func() {
		if err := s.mgr.Journal.SaveEvents(batch); err != nil {
			slog.Warn("save events failed", "count", len(batch), "error", err)
		}
	}()
}

// TakePending returns and forgets the events not yet handed to the journal.
func (s *Simulation) TakePending() []Event {
	batch := s.pending
	s.pending = nil
	return batch
}

// RecentEvents returns up to n of the newest events, oldest first.
func (s *Simulation) RecentEvents(n int) []Event {
	start := max(len(s.Events)-n, 0)
	return append([]Event(nil), s.Events[start:]...)
}

// Status is a point-in-time summary for the API.
type Status struct {
	Tick         uint64          `json:"tick"`
	Uptime       string          `json:"uptime"`
	Phase        string          `json:"phase"`
	Generation   GenerationState `json:"generation"`
	Active       string          `json:"active"`
	Waiting      string          `json:"waiting"`
	Spawn        world.Location  `json:"spawn"`
	Participants int             `json:"participants"`
	Connected    int             `json:"connected"`
	Disconnected []string        `json:"disconnected"`
	Completed    int             `json:"completed"`
	Stats        SimStats        `json:"stats"`
}

// Status snapshots the current state. Main context only.
func (s *Simulation) Status() Status {
	tick := s.eng.CurrentTick()
	return Status{
		Tick:         tick,
		Uptime:       Uptime(tick),
		Phase:        s.mgr.Phase().String(),
		Generation:   s.mgr.State(),
		Active:       s.mgr.ActiveName(),
		Waiting:      s.mgr.cfg.Waiting,
		Spawn:        s.mgr.Spawn(),
		Participants: s.mgr.Roster.Len(),
		Connected:    len(s.mgr.Roster.Connected()),
		Disconnected: s.mgr.Tracker.IDs(),
		Completed:    s.mgr.Completed(),
		Stats:        s.Stats,
	}
}

// Participants returns detached copies of every participant, safe to use
// off the main context.
func (s *Simulation) Participants() []participant.Participant {
	all := s.mgr.Roster.All()
	out := make([]participant.Participant, 0, len(all))
	for _, p := range all {
		c := *p
		c.Attributes = maps.Clone(p.Attributes)
		c.Inventory = maps.Clone(p.Inventory)
		out = append(out, c)
	}
	return out
}
