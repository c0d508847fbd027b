package participant

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/talgya/sharedhealth/internal/world"
)

func TestRosterKeepsJoinOrder(t *testing.T) {
	r := NewRoster()
	r.Add(New("c", "Cid"))
	r.Add(New("a", "Ann"))
	r.Add(New("b", "Bo"))
	r.Add(New("a", "Ann again"))

	var ids []string
	for _, p := range r.All() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
	assert.Equal(t, "Ann again", r.Get("a").Name)
	assert.Equal(t, 3, r.Len())
}

func TestRosterConnectedAndIn(t *testing.T) {
	r := NewRoster()
	a, b, c := New("a", "A"), New("b", "B"), New("c", "C")
	a.Location = world.Location{World: "lobby"}
	b.Location = world.Location{World: "world_1"}
	c.Location = world.Location{World: "lobby"}
	c.Connected = false
	r.Add(a)
	r.Add(b)
	r.Add(c)

	assert.Len(t, r.Connected(), 2)
	lobby := r.In("lobby")
	assert.Len(t, lobby, 1)
	assert.Equal(t, "a", lobby[0].ID)
}

func TestMaxHealthAttribute(t *testing.T) {
	p := New("a", "A")
	v, ok := p.MaxHealth()
	assert.True(t, ok)
	assert.Equal(t, DefaultMaxHealth, v)

	delete(p.Attributes, AttrMaxHealth)
	_, ok = p.MaxHealth()
	assert.False(t, ok)
}

func TestDirectClearInventory(t *testing.T) {
	p := New("a", "A")
	p.Inventory["dirt"] = 12
	p.Level = 4
	p.Experience = 0.5

	Direct{}.ClearInventory(p)
	assert.Empty(t, p.Inventory)
	assert.Zero(t, p.Level)
	assert.Zero(t, p.Experience)
}
