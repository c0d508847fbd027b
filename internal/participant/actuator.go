package participant

import (
	"github.com/talgya/sharedhealth/internal/world"
)

// Actuator performs host-side effects that the core triggers but does not
// implement: moving a participant, changing its mode, and so on.
type Actuator interface {
	Teleport(p *Participant, to world.Location)
	SetMode(p *Participant, m Mode)
	SetInvulnerable(p *Participant, v bool)
	ClearInventory(p *Participant)
	Respawn(p *Participant)
}

// Direct applies every effect straight to the in-memory participant. It is
// the actuator of the standalone server, where the roster is the host.
type Direct struct{}

func (Direct) Teleport(p *Participant, to world.Location) { p.Location = to }
func (Direct) SetMode(p *Participant, m Mode)             { p.Mode = m }
func (Direct) SetInvulnerable(p *Participant, v bool)     { p.Invulnerable = v }

// ClearInventory empties the inventory and experience, as at the start of a
// fresh cycle.
func (Direct) ClearInventory(p *Participant) {
	p.Inventory = make(map[string]int)
	p.Level = 0
	p.Experience = 0
}

// Respawn brings a dead participant back with a sliver of health so the
// synchronizer can restore it.
func (Direct) Respawn(p *Participant) {
	if p.Health <= 0 {
		p.Health = 1
	}
}
