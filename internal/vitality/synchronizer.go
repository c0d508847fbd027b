package vitality

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/talgya/sharedhealth/internal/notify"
	"github.com/talgya/sharedhealth/internal/participant"
)

// Kind is the source of a vitality change.
type Kind uint8

const (
	Damage Kind = iota
	Heal
	Hunger
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case Damage:
		return "damage"
	case Heal:
		return "heal"
	case Hunger:
		return "hunger"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "damage":
		return Damage, nil
	case "heal":
		return Heal, nil
	case "hunger":
		return Hunger, nil
	}
	return 0, fmt.Errorf("unknown vitality kind %q", s)
}

// Event is one vitality change reported by the host. For Damage and Heal,
// Amount is the magnitude; for Hunger it is the new food level.
type Event struct {
	Kind   Kind
	Amount float64
	Cause  string
}

// Outcome describes what a synchronization did.
type Outcome struct {
	Applied  bool     // false when ignored (guard held, bad source)
	Target   float64  // shared health or hunger value
	Affected []string // non-source participants whose value changed
	Skipped  []string // participants without a max health attribute
}

// Roster is the subset of participant.Roster the synchronizer reads.
type Roster interface {
	Connected() []*participant.Participant
}

// Synchronizer broadcasts one participant's vitality change to everyone.
type Synchronizer struct {
	roster   Roster
	notifier notify.Notifier
	guard    Guard
}

// NewSynchronizer creates a synchronizer over the given roster.
func NewSynchronizer(roster Roster, notifier notify.Notifier) *Synchronizer {
	return &Synchronizer{roster: roster, notifier: notifier}
}

// Syncing reports whether a broadcast is in progress.
func (s *Synchronizer) Syncing() bool {
	return s.guard.Held()
}

// OnVitalityEvent applies ev from source to every connected participant.
// Events arriving while a broadcast is in progress are ignored.
func (s *Synchronizer) OnVitalityEvent(source *participant.Participant, ev Event) Outcome {
	if s.guard.Held() || source == nil {
		return Outcome{}
	}

	switch ev.Kind {
	case Damage:
		target := math.Max(source.Health-ev.Amount, 0)
		s.notifier.Broadcast(notify.Message{
			Text:  damageNotice(source.Name, ev),
			Color: notify.Gray,
		})
		return s.syncHealth(source, target)

	case Heal:
		maxHealth, ok := source.MaxHealth()
		if !ok {
			slog.Warn("max health attribute missing", "participant", source.Name)
			return Outcome{}
		}
		return s.syncHealth(source, math.Min(source.Health+ev.Amount, maxHealth))

	case Hunger:
		return s.syncHunger(int(ev.Amount))
	}
	return Outcome{}
}

func (s *Synchronizer) syncHealth(source *participant.Participant, target float64) Outcome {
	out := Outcome{Target: target}
	out.Applied = s.guard.Do(func() {
		for _, p := range s.roster.Connected() {
			maxHealth, ok := p.MaxHealth()
			if !ok {
				slog.Warn("max health attribute missing, skipping", "participant", p.Name)
				out.Skipped = append(out.Skipped, p.ID)
				continue
			}

			before := p.Health
			p.Health = clamp(target, 0, maxHealth)
			if p.ID == source.ID || p.Health == before {
				continue
			}

			out.Affected = append(out.Affected, p.ID)
			if p.Health < before {
				s.notifier.Send(p.ID, notify.Cue{Sound: notify.SoundHurt, Impulse: true})
			} else {
				s.notifier.Send(p.ID, notify.Cue{Sound: notify.SoundHeal})
			}
		}
	})
	return out
}

func (s *Synchronizer) syncHunger(level int) Outcome {
	level = min(max(level, 0), participant.MaxHunger)
	out := Outcome{Target: float64(level)}
	out.Applied = s.guard.Do(func() {
		for _, p := range s.roster.Connected() {
			if p.Hunger != level {
				out.Affected = append(out.Affected, p.ID)
			}
			p.Hunger = level
			p.Saturation = participant.RefillSaturation
		}
	})
	return out
}

// Restore resets ps to full health and hunger. It runs under the guard so
// the writes are not synchronized back out.
func (s *Synchronizer) Restore(ps ...*participant.Participant) {
	s.guard.Do(func() {
		for _, p := range ps {
			maxHealth, ok := p.MaxHealth()
			if !ok {
				maxHealth = participant.DefaultMaxHealth
			}
			p.Health = maxHealth
			p.Hunger = participant.MaxHunger
			p.Saturation = participant.RefillSaturation
		}
	})
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

func damageNotice(name string, ev Event) string {
	cause := ev.Cause
	if cause == "" {
		cause = "unknown"
	}
	return fmt.Sprintf("%s took %.1f damage (%s)", name, ev.Amount, cause)
}
