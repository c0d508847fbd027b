// Package notify carries telemetry from the core to participants: text
// notices, generation progress and per-participant feedback cues. Rendering
// is up to whoever consumes the stream.
package notify

import (
	"log/slog"
	"sync"
	"time"
)

// Kind tags a payload on the wire.
type Kind string

const (
	KindMessage  Kind = "message"
	KindProgress Kind = "progress"
	KindCue      Kind = "cue"
)

// Payload is anything the core can send.
type Payload interface {
	Kind() Kind
}

// Color is a display hint for text notices.
type Color string

const (
	Yellow Color = "yellow"
	Green  Color = "green"
	Red    Color = "red"
	Gray   Color = "gray"
)

// Message is a chat-style notice.
type Message struct {
	Text  string `json:"text"`
	Color Color  `json:"color,omitempty"`
}

// Progress is the heads-up display update during generation.
type Progress struct {
	Percent int    `json:"percent"`
	Label   string `json:"label"`
}

// Cue is a sound/impulse telling a participant that someone else's event
// touched them.
type Cue struct {
	Sound   string `json:"sound"`
	Impulse bool   `json:"impulse,omitempty"`
}

func (Message) Kind() Kind  { return KindMessage }
func (Progress) Kind() Kind { return KindProgress }
func (Cue) Kind() Kind      { return KindCue }

// Cue sounds.
const (
	SoundHurt = "entity.player.hurt"
	SoundHeal = "entity.player.levelup"
)

// Notifier is the telemetry sink.
type Notifier interface {
	Broadcast(p Payload)
	Send(participantID string, p Payload)
}

// Envelope is the serialized form of one notification.
type Envelope struct {
	Kind    Kind      `json:"kind"`
	To      string    `json:"to,omitempty"` // empty = everyone
	Payload Payload   `json:"payload"`
	Time    time.Time `json:"time"`
}

// Multi fans out to several notifiers.
type Multi []Notifier

func (m Multi) Broadcast(p Payload) {
	for _, n := range m {
		n.Broadcast(p)
	}
}

func (m Multi) Send(id string, p Payload) {
	for _, n := range m {
		n.Send(id, p)
	}
}

// Log writes every notification to slog at debug level. Text notices are
// logged at info so operators see generation announcements.
type Log struct{}

func (Log) Broadcast(p Payload) {
	if msg, ok := p.(Message); ok {
		slog.Info("broadcast", "text", msg.Text)
		return
	}
	slog.Debug("broadcast", "kind", p.Kind(), "payload", p)
}

func (Log) Send(id string, p Payload) {
	slog.Debug("notify", "to", id, "kind", p.Kind(), "payload", p)
}

// Recorder keeps every notification in memory. Safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	sent []Envelope
}

func (r *Recorder) Broadcast(p Payload) { r.add("", p) }

func (r *Recorder) Send(id string, p Payload) { r.add(id, p) }

func (r *Recorder) add(to string, p Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Envelope{Kind: p.Kind(), To: to, Payload: p, Time: time.Now()})
}

// Envelopes returns a copy of everything recorded so far.
func (r *Recorder) Envelopes() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.sent...)
}

// To returns payloads addressed to one participant, in order.
func (r *Recorder) To(id string) []Payload {
	var out []Payload
	for _, e := range r.Envelopes() {
		if e.To == id {
			out = append(out, e.Payload)
		}
	}
	return out
}

// Broadcasts returns payloads sent to everyone, in order.
func (r *Recorder) Broadcasts() []Payload {
	return r.To("")
}

// Reset drops everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
