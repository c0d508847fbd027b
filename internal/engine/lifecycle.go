package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/talgya/sharedhealth/internal/environment"
	"github.com/talgya/sharedhealth/internal/notify"
	"github.com/talgya/sharedhealth/internal/participant"
	"github.com/talgya/sharedhealth/internal/retention"
	"github.com/talgya/sharedhealth/internal/session"
	"github.com/talgya/sharedhealth/internal/vitality"
	"github.com/talgya/sharedhealth/internal/world"
)

var (
	// ErrStartup means the manager could not prepare its environments; the
	// server cannot run.
	ErrStartup = errors.New("startup failed")
	// ErrGeneration wraps every reason a regeneration can fail.
	ErrGeneration = errors.New("world generation failed")
)

// Phase is the lifecycle state.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseGenerating
	PhaseMigrating
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseGenerating:
		return "generating"
	case PhaseMigrating:
		return "migrating"
	default:
		return "unknown"
	}
}

// GenerationState is what participants in the waiting area see.
type GenerationState struct {
	InProgress bool   `json:"in_progress"`
	Percent    int    `json:"percent"`
	Label      string `json:"label"`
}

// WaitingHeight is the standing height on the waiting platform.
const WaitingHeight = 6.0

// Generation phase labels.
const (
	LabelStarting  = "Starting"
	LabelPreparing = "Preparing parameters"
	LabelTerrain   = "Generating terrain"
	LabelCreating  = "Creating world"
	LabelWarmup    = "Warming up chunks"
	LabelMigrating = "Teleporting players"
)

// SeedSource supplies seeds for new environments. Called off the main
// context.
type SeedSource interface {
	Seed() int64
}

// GenerationRecord is one finished regeneration, successful or not.
type GenerationRecord struct {
	Name       string    `json:"name" db:"name"`
	Seed       int64     `json:"seed" db:"seed"`
	StartedAt  time.Time `json:"started_at" db:"started_at"`
	FinishedAt time.Time `json:"finished_at" db:"finished_at"`
	OK         bool      `json:"ok" db:"ok"`
	Error      string    `json:"error,omitempty" db:"error"`
	Migrated   int       `json:"migrated" db:"migrated"`
	ChunkBytes int64     `json:"chunk_bytes" db:"chunk_bytes"`
	Deleted    int       `json:"deleted" db:"deleted"`
}

// MetaActiveWorld is the journal key holding the name of the world
// participants were last migrated into.
const MetaActiveWorld = "active_world"

// Journal persists what the core did. Best effort: errors are logged.
type Journal interface {
	RecordGeneration(rec GenerationRecord) error
	SaveEvents(events []Event) error
	SaveMeta(key, value string) error
	GetMeta(key string) (string, error)
}

// ManagerConfig holds the lifecycle settings.
type ManagerConfig struct {
	Waiting            string
	ProgressEveryTicks uint64
	Retention          retention.Policy
}

// Deps are the collaborators a Manager drives.
type Deps struct {
	Registry  environment.Registry
	Storage   environment.Storage
	Roster    *participant.Roster
	Sync      *vitality.Synchronizer
	Tracker   *session.Tracker
	Actuator  participant.Actuator
	Notifier  notify.Notifier
	Generator world.Generator
	Seeds     SeedSource
	Journal   Journal // optional
}

// Manager owns the active and waiting environments and runs
// regenerations. One instance lives for the life of the process; every
// method must be called on the main context.
type Manager struct {
	eng *Engine
	Deps
	cfg     ManagerConfig
	sweeper *retention.Sweeper
	now     func() time.Time

	phase   Phase
	state   GenerationState
	waiting *environment.Environment
	active  *environment.Environment
	spawn   world.Location

	startedAt    time.Time
	stopProgress func()
	completed    int
}

// NewManager wires a manager and registers it as the tracker's placer.
func NewManager(eng *Engine, deps Deps, cfg ManagerConfig) *Manager {
	m := &Manager{
		eng:     eng,
		Deps:    deps,
		cfg:     cfg,
		sweeper: &retention.Sweeper{Registry: deps.Registry, Storage: deps.Storage},
		now:     time.Now,
	}
	if deps.Tracker != nil {
		deps.Tracker.SetPlacer(m)
	}
	return m
}

// Init prepares the waiting area and restores the active environment. The
// world recorded in the journal wins; without a record the most recent
// generated environment is used.
func (m *Manager) Init() error {
	waiting, err := m.openOrCreate(m.cfg.Waiting)
	if err != nil {
		return fmt.Errorf("%w: waiting area %s: %w", ErrStartup, m.cfg.Waiting, err)
	}
	m.waiting = waiting

	history, err := m.Registry.History()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStartup, err)
	}
	var generated []*environment.Environment
	for _, env := range history {
		if !env.Waiting {
			generated = append(generated, env)
		}
	}

	pick := -1
	if last := m.lastActive(); last != "" {
		for i, env := range generated {
			if env.Name == last {
				pick = i
				break
			}
		}
		if pick < 0 {
			slog.Warn("recorded active world is gone", "environment", last)
		}
	}
	if pick > 0 {
		// Newer worlds never went live: an interrupted generation left them.
		m.sweeper.Cleanup(generated[:pick], 0)
	}
	if pick < 0 && len(generated) > 0 {
		pick = 0
	}

	if pick >= 0 {
		name := generated[pick].Name
		restored, err := m.Registry.Open(name)
		if err != nil {
			slog.Warn("could not restore environment", "environment", name, "error", err)
		} else {
			// Terrain is a pure function of the seed.
			terrain, err := m.Generator.Generate(context.Background(), restored.Seed, nil)
			if err != nil {
				slog.Warn("could not rebuild terrain", "environment", name, "error", err)
			} else {
				restored.Terrain = terrain
			}
			m.active = restored
			m.spawn = m.spawnPoint(restored)
		}
	}

	slog.Info("lifecycle ready",
		"waiting", m.waiting.Name,
		"active", m.ActiveName(),
		"retention", m.cfg.Retention.Mode,
	)
	return nil
}

// lastActive returns the journalled active world, or "" when there is no
// journal or no record.
func (m *Manager) lastActive() string {
	if m.Journal == nil {
		return ""
	}
	name, err := m.Journal.GetMeta(MetaActiveWorld)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Warn("could not read active world", "error", err)
		}
		return ""
	}
	return name
}

func (m *Manager) openOrCreate(name string) (*environment.Environment, error) {
	if env, ok := m.Registry.Get(name); ok {
		return env, nil
	}
	env, err := m.Registry.Open(name)
	if err == nil {
		return env, nil
	}
	if !errors.Is(err, environment.ErrNotFound) {
		return nil, err
	}
	return m.Registry.Create(name, 0)
}

// Phase returns the lifecycle state.
func (m *Manager) Phase() Phase { return m.phase }

// State returns the generation progress.
func (m *Manager) State() GenerationState { return m.state }

// Active returns the active environment, or nil before the first generation.
func (m *Manager) Active() *environment.Environment { return m.active }

// Waiting returns the waiting area.
func (m *Manager) Waiting() *environment.Environment { return m.waiting }

// ActiveName returns the active environment's name, or "".
func (m *Manager) ActiveName() string {
	if m.active == nil {
		return ""
	}
	return m.active.Name
}

// Spawn returns the active environment's spawn point.
func (m *Manager) Spawn() world.Location { return m.spawn }

// Completed returns how many regenerations have succeeded since start.
func (m *Manager) Completed() int { return m.completed }

// WaitingCenter is where participants stand while a world generates.
func (m *Manager) WaitingCenter() world.Location {
	return world.Location{World: m.cfg.Waiting, X: 0.5, Y: WaitingHeight, Z: 0.5}
}

// TriggerRegeneration starts building a new world. It reports false and
// does nothing while a regeneration is already under way.
func (m *Manager) TriggerRegeneration() bool {
	if m.phase != PhaseIdle {
		slog.Debug("regeneration already in progress", "phase", m.phase)
		return false
	}

	m.phase = PhaseGenerating
	m.state = GenerationState{InProgress: true, Percent: 0, Label: LabelStarting}
	m.startedAt = m.now()
	m.Notifier.Broadcast(notify.Message{Text: "Starting world generation...", Color: notify.Yellow})
	m.stopProgress = m.eng.Every(m.cfg.ProgressEveryTicks, m.publishProgress)

	slog.Info("regeneration started", "tick", m.eng.CurrentTick())
	go m.generate(m.eng.Context())
	return true
}

// outcome is the message the worker posts back to the main context.
type outcome struct {
	env     *environment.Environment
	terrain *world.Map
	seed    int64
	name    string
	bytes   int64
	err     error
}

// generate runs on its own goroutine. It touches shared state only through
// Post and Call.
func (m *Manager) generate(ctx context.Context) {
	var out outcome
	defer func() {
		if r := recover(); r != nil {
			out = outcome{name: out.name, seed: out.seed, err: fmt.Errorf("%w: panic: %v", ErrGeneration, r)}
		}
		m.eng.Post(func() { m.finish(out) })
	}()

	m.progress(5, LabelPreparing)
	out.seed = m.Seeds.Seed()
	out.name = fmt.Sprintf("world_%d", m.now().UnixMilli())

	m.progress(10, LabelTerrain)
	terrain, err := m.Generator.Generate(ctx, out.seed, func(done, total int) {
		m.progress(10+50*done/total, LabelTerrain)
	})
	if err != nil {
		out.err = fmt.Errorf("%w: terrain: %w", ErrGeneration, err)
		return
	}
	out.terrain = terrain

	m.progress(60, LabelCreating)
	var createErr error
	if err := m.eng.Call(ctx, func() {
		out.env, createErr = m.Registry.Create(out.name, out.seed)
	}); err != nil {
		out.err = fmt.Errorf("%w: create: %w", ErrGeneration, err)
		return
	}
	if createErr != nil {
		out.err = fmt.Errorf("%w: create: %w", ErrGeneration, createErr)
		return
	}

	m.progress(70, LabelWarmup)
	out.bytes, err = environment.WriteRegions(ctx, out.env.Dir, terrain, func(done, total int) {
		m.progress(70+25*done/total, LabelWarmup)
	})
	if err != nil {
		out.err = fmt.Errorf("%w: warm up: %w", ErrGeneration, err)
		return
	}
	m.progress(95, LabelWarmup)
}

// progress posts a progress update; the main context keeps it monotonic.
func (m *Manager) progress(percent int, label string) {
	m.eng.Post(func() {
		if m.phase != PhaseGenerating || percent < m.state.Percent {
			return
		}
		m.state.Percent = percent
		m.state.Label = label
	})
}

func (m *Manager) publishProgress() {
	if m.phase != PhaseGenerating {
		return
	}
	p := notify.Progress{Percent: m.state.Percent, Label: m.state.Label}
	for _, pp := range m.Roster.In(m.cfg.Waiting) {
		if pp.Connected {
			m.Notifier.Send(pp.ID, p)
		}
	}
}

func (m *Manager) finish(out outcome) {
	if m.phase != PhaseGenerating {
		slog.Warn("generation outcome arrived outside generating phase", "phase", m.phase)
		return
	}
	if m.stopProgress != nil {
		m.stopProgress()
		m.stopProgress = nil
	}
	if out.err != nil {
		m.fail(out)
		return
	}
	m.migrate(out)
}

func (m *Manager) fail(out outcome) {
	m.phase = PhaseIdle
	m.state = GenerationState{}
	m.Notifier.Broadcast(notify.Message{Text: "World generation failed!", Color: notify.Red})
	slog.Error("world generation failed", "environment", out.name, "error", out.err)

	// The world may have been created before the failure. It never went
	// live, so it goes now whatever the retention mode.
	if out.env != nil {
		rep := m.sweeper.Cleanup([]*environment.Environment{out.env}, 0)
		if rep.Failures > 0 {
			slog.Warn("failed world left on disk", "environment", out.env.Name, "failures", rep.Failures)
		}
	}

	m.record(GenerationRecord{
		Name:       out.name,
		Seed:       out.seed,
		StartedAt:  m.startedAt,
		FinishedAt: m.now(),
		Error:      out.err.Error(),
	})
}

func (m *Manager) migrate(out outcome) {
	m.phase = PhaseMigrating
	m.state = GenerationState{InProgress: true, Percent: 100, Label: LabelMigrating}

	previous := m.active
	out.env.Terrain = out.terrain
	m.active = out.env
	m.spawn = m.spawnPoint(out.env)

	connected := m.Roster.Connected()
	for _, p := range connected {
		if p.In(m.cfg.Waiting) {
			m.Actuator.ClearInventory(p)
		}
	}
	m.Sync.Restore(connected...)
	for _, p := range connected {
		m.Actuator.Teleport(p, m.spawn)
		m.Actuator.SetMode(p, participant.ModeSurvival)
		m.Actuator.SetInvulnerable(p, false)
		m.Notifier.Send(p.ID, notify.Message{Text: "Welcome to the new world!", Color: notify.Green})
	}
	if m.Tracker != nil {
		m.Tracker.Clear()
	}
	m.Notifier.Broadcast(notify.Message{Text: "World generation complete!", Color: notify.Green})
	if m.Journal != nil {
		if err := m.Journal.SaveMeta(MetaActiveWorld, out.env.Name); err != nil {
			slog.Warn("could not record active world", "environment", out.env.Name, "error", err)
		}
	}

	deleted := m.applyRetention(previous)
	m.completed++
	m.record(GenerationRecord{
		Name:       out.name,
		Seed:       out.seed,
		StartedAt:  m.startedAt,
		FinishedAt: m.now(),
		OK:         true,
		Migrated:   len(connected),
		ChunkBytes: out.bytes,
		Deleted:    deleted,
	})

	slog.Info("migration complete",
		"environment", out.env.Name,
		"spawn", m.spawn.String(),
		"participants", len(connected),
		"took", m.now().Sub(m.startedAt).Round(time.Millisecond),
	)
	m.phase = PhaseIdle
	m.state = GenerationState{}
}

// applyRetention returns how many environments were deleted synchronously.
func (m *Manager) applyRetention(previous *environment.Environment) int {
	switch m.cfg.Retention.Mode {
	case retention.ModePrevious:
		if previous == nil || previous.Waiting {
			return 0
		}
		m.eng.After(m.cfg.Retention.GraceTicks, func() {
			if previous == m.active {
				return
			}
			m.sweeper.Cleanup([]*environment.Environment{previous}, 0)
		})
		return 0

	default:
		history, err := m.Registry.History()
		if err != nil {
			slog.Warn("retention skipped", "error", err)
			return 0
		}
		rep := m.sweeper.Cleanup(history, m.cfg.Retention.KeepCount())
		return len(rep.Deleted)
	}
}

func (m *Manager) record(rec GenerationRecord) {
	if m.Journal == nil {
		return
	}
	if err := m.Journal.RecordGeneration(rec); err != nil {
		slog.Warn("record generation failed", "environment", rec.Name, "error", err)
	}
}

func (m *Manager) spawnPoint(env *environment.Environment) world.Location {
	if env.Terrain == nil {
		return world.Location{World: env.Name, X: 0.5, Y: world.SeaLevelY + 1, Z: 0.5}
	}
	hex, ok := world.FindSpawn(env.Terrain)
	if !ok {
		slog.Warn("no dry land for spawn", "environment", env.Name)
	}
	return world.CenterOf(env.Name, hex)
}

// PlaceInActive sends p to the active environment's spawn with full
// vitality, or to the waiting area when no world exists yet.
func (m *Manager) PlaceInActive(p *participant.Participant) {
	if m.active == nil {
		m.SendToWaiting(p)
		return
	}
	m.Sync.Restore(p)
	m.Actuator.Teleport(p, m.spawn)
	m.Actuator.SetMode(p, participant.ModeSurvival)
	m.Actuator.SetInvulnerable(p, false)
}

// SendToWaiting respawns p on the waiting platform, safe and unable to
// change anything.
func (m *Manager) SendToWaiting(p *participant.Participant) {
	m.Actuator.Respawn(p)
	m.Actuator.Teleport(p, m.WaitingCenter())
	m.Actuator.SetMode(p, participant.ModeAdventure)
	m.Actuator.SetInvulnerable(p, true)
}
