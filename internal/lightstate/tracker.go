// Package lightstate keeps an optimistic view of lights for interactive
// callers. Each light has a confirmed snapshot (last known bridge state) and
// at most one pending value (what the newest in-flight transaction will make
// it). The pending value is dropped when its call fails or is superseded.
package lightstate

import (
	"sync"

	"github.com/dokzlo13/huey/internal/hue"
)

// View is what a caller should display for one light.
type View struct {
	Light   hue.Light
	Pending bool
}

// Token identifies one optimistic change handed out by Begin.
type Token struct {
	lightID string
	epoch   uint64
	seq     uint64
	tx      hue.Transaction
}

type entry struct {
	confirmed hue.Light
	pending   *hue.Light
	seq       uint64
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	epoch  uint64
	lights map[string]*entry
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{lights: make(map[string]*entry)}
}

// Reset replaces all state with freshly listed lights. Pending changes are
// discarded; in-flight tokens issued before Reset are ignored on Resolve.
func (t *Tracker) Reset(lights []hue.Light) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.epoch++
	t.lights = make(map[string]*entry, len(lights))
	for _, l := range lights {
		t.lights[l.ID] = &entry{confirmed: l}
	}
}

// Begin records tx as the pending state of its light. ok is false when the
// light is unknown; the transaction may still be sent, it just is not tracked.
func (t *Tracker) Begin(tx hue.Transaction) (Token, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.lights[tx.LightID]
	if !ok {
		return Token{}, false
	}

	base := e.confirmed
	if e.pending != nil {
		base = *e.pending
	}
	projected := tx.Project(base)

	e.seq++
	e.pending = &projected

	return Token{lightID: tx.LightID, epoch: t.epoch, seq: e.seq, tx: tx}, true
}

// Resolve settles the change identified by tok. A successful call advances
// the confirmed snapshot whether or not it was superseded, since the bridge
// did apply it. The pending value is cleared only if tok is still the newest.
func (t *Tracker) Resolve(tok Token, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.lights[tok.lightID]
	if !ok || tok.epoch != t.epoch {
		return
	}

	if err == nil {
		e.confirmed = tok.tx.Project(e.confirmed)
	}
	if tok.seq == e.seq {
		e.pending = nil
	}
}

// View returns the pending value if there is one, else the confirmed snapshot.
func (t *Tracker) View(lightID string) (View, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.lights[lightID]
	if !ok {
		return View{}, false
	}
	return e.view(), true
}

// Confirmed returns the last state known to be applied on the bridge.
func (t *Tracker) Confirmed(lightID string) (hue.Light, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.lights[lightID]
	if !ok {
		return hue.Light{}, false
	}
	return e.confirmed, true
}

// Views returns every light sorted by name.
func (t *Tracker) Views() []View {
	t.mu.Lock()
	lights := make([]hue.Light, 0, len(t.lights))
	pending := make(map[string]bool, len(t.lights))
	for id, e := range t.lights {
		v := e.view()
		lights = append(lights, v.Light)
		pending[id] = v.Pending
	}
	t.mu.Unlock()

	hue.SortLights(lights)

	views := make([]View, len(lights))
	for i, l := range lights {
		views[i] = View{Light: l, Pending: pending[l.ID]}
	}
	return views
}

func (e *entry) view() View {
	if e.pending != nil {
		return View{Light: *e.pending, Pending: true}
	}
	return View{Light: e.confirmed}
}
