package participant

// Roster indexes participants by id while preserving join order, so every
// broadcast visits participants in the same order.
type Roster struct {
	byID  map[string]*Participant
	order []string
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{byID: make(map[string]*Participant)}
}

// Add registers p. Adding an id twice replaces the stored participant but
// keeps its original position.
func (r *Roster) Add(p *Participant) {
	if _, ok := r.byID[p.ID]; !ok {
		r.order = append(r.order, p.ID)
	}
	r.byID[p.ID] = p
}

// Get returns the participant with the given id, or nil.
func (r *Roster) Get(id string) *Participant {
	return r.byID[id]
}

// All returns every known participant in join order.
func (r *Roster) All() []*Participant {
	out := make([]*Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Connected returns connected participants in join order.
func (r *Roster) Connected() []*Participant {
	var out []*Participant
	for _, id := range r.order {
		if p := r.byID[id]; p.Connected {
			out = append(out, p)
		}
	}
	return out
}

// In returns connected participants inside the named environment.
func (r *Roster) In(env string) []*Participant {
	var out []*Participant
	for _, p := range r.Connected() {
		if p.In(env) {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of known participants.
func (r *Roster) Len() int {
	return len(r.order)
}
