// Package participant provides the participant data model shared by the
// vitality, session and lifecycle components, plus the host-side primitives
// they invoke.
package participant

import (
	"github.com/talgya/sharedhealth/internal/world"
)

// Vitality bounds.
const (
	DefaultMaxHealth = 20.0
	MaxHunger        = 20
	RefillSaturation = 5.0
)

// Mode is the interaction mode granted to a participant.
type Mode uint8

const (
	ModeSurvival  Mode = iota // Unrestricted interaction
	ModeAdventure             // Can look around but not change the world
	ModeSpectator
)

// String returns the lowercase mode name used in API payloads.
func (m Mode) String() string {
	switch m {
	case ModeSurvival:
		return "survival"
	case ModeAdventure:
		return "adventure"
	case ModeSpectator:
		return "spectator"
	default:
		return "unknown"
	}
}

// Attribute names a host-provided numeric attribute.
type Attribute string

// AttrMaxHealth is the per-participant health ceiling.
const AttrMaxHealth Attribute = "max_health"

// Participant is one connected (or previously connected) player. The host
// owns identity; the core mutates vitality, location and the flags below.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Vitality
	Health     float64 `json:"health"`
	Hunger     int     `json:"hunger"`
	Saturation float64 `json:"saturation"`

	// Attributes reported by the host. A missing AttrMaxHealth is tolerated
	// and means the participant cannot be synchronized.
	Attributes map[Attribute]float64 `json:"attributes,omitempty"`

	Location     world.Location `json:"location"`
	Connected    bool           `json:"connected"`
	Mode         Mode           `json:"mode"`
	Invulnerable bool           `json:"invulnerable"`

	Inventory  map[string]int `json:"inventory,omitempty"`
	Level      int            `json:"level"`
	Experience float64        `json:"experience"`
}

// New returns a connected participant at full vitality with the default
// max health attribute.
func New(id, name string) *Participant {
	return &Participant{
		ID:         id,
		Name:       name,
		Health:     DefaultMaxHealth,
		Hunger:     MaxHunger,
		Saturation: RefillSaturation,
		Attributes: map[Attribute]float64{AttrMaxHealth: DefaultMaxHealth},
		Connected:  true,
		Inventory:  make(map[string]int),
	}
}

// MaxHealth returns the participant's health ceiling, if the host provides one.
func (p *Participant) MaxHealth() (float64, bool) {
	v, ok := p.Attributes[AttrMaxHealth]
	return v, ok
}

// In reports whether the participant is currently inside the named environment.
func (p *Participant) In(env string) bool {
	return p.Location.World == env
}
