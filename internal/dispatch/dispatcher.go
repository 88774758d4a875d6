// Package dispatch sends transactions to the bridge in the background for
// interactive callers. Changes for one light are applied strictly in order
// with at most one call in flight; changes queued behind that call are folded
// into a single transaction, so a burst of slider moves costs one request.
package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huey/internal/hue"
	"github.com/dokzlo13/huey/internal/lightstate"
)

// ErrClosed is returned by Submit once Run has returned.
var ErrClosed = errors.New("dispatcher closed")

// Applier sends one transaction. *hue.Client implements it.
type Applier interface {
	Apply(ctx context.Context, ep hue.Endpoint, tx hue.Transaction) error
}

var _ Applier = (*hue.Client)(nil)

// Result reports the outcome of one call to the bridge.
type Result struct {
	Tx     hue.Transaction
	Err    error
	Merged int // submissions folded into Tx
}

type job struct {
	tx     hue.Transaction
	tokens []lightstate.Token
	count  int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTracker makes every submission visible as a pending value in tr until
// its call settles.
func WithTracker(tr *lightstate.Tracker) Option {
	return func(d *Dispatcher) {
		d.tracker = tr
	}
}

// WithResultHandler registers fn to be called after each call settles.
// fn runs on the worker goroutine of that light.
func WithResultHandler(fn func(Result)) Option {
	return func(d *Dispatcher) {
		d.onResult = fn
	}
}

// Dispatcher coordinates background calls for one bridge endpoint.
type Dispatcher struct {
	applier  Applier
	ep       hue.Endpoint
	tracker  *lightstate.Tracker
	onResult func(Result)

	mu       sync.Mutex
	queued   map[string]*job // light -> changes waiting for the light's worker
	inflight map[string]bool
	closed   bool
	trigger  chan struct{}

	outstanding sync.WaitGroup // queued or in-flight jobs
	running     sync.WaitGroup // worker goroutines
}

// New creates a dispatcher. Nothing is sent until Run is started.
func New(applier Applier, ep hue.Endpoint, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		applier:  applier,
		ep:       ep,
		queued:   make(map[string]*job),
		inflight: make(map[string]bool),
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit queues tx. If a change for the same light is already waiting, tx is
// layered on top of it.
func (d *Dispatcher) Submit(tx hue.Transaction) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}

	j, ok := d.queued[tx.LightID]
	if ok {
		j.tx = j.tx.Merge(tx)
	} else {
		j = &job{tx: tx}
		d.queued[tx.LightID] = j
		d.outstanding.Add(1)
	}
	j.count++

	// Begin under d.mu so tracker order matches queue order.
	if d.tracker != nil {
		if tok, tracked := d.tracker.Begin(tx); tracked {
			j.tokens = append(j.tokens, tok)
		}
	}
	d.mu.Unlock()

	log.Debug().
		Str("light", tx.LightID).
		Strs("fields", tx.Fields()).
		Bool("merged", ok).
		Msg("Transaction queued")

	d.Trigger()
	return nil
}

// Trigger signals that queued work may be ready.
func (d *Dispatcher) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
		// Already triggered
	}
}

// Wait blocks until every submitted transaction has settled. It must not be
// called concurrently with Submit.
func (d *Dispatcher) Wait() {
	d.outstanding.Wait()
}

// Run starts the dispatch loop. When ctx is cancelled, in-flight calls are
// allowed to settle (they observe the same ctx), changes still queued are
// dropped as failed, and Run returns nil.
func (d *Dispatcher) Run(ctx context.Context) error {
	log.Debug().Str("bridge", d.ep.String()).Msg("Dispatcher started")

	for {
		select {
		case <-ctx.Done():
			d.shutdown(ctx.Err())
			log.Debug().Msg("Dispatcher stopped")
			return nil
		case <-d.trigger:
			d.dispatchReady(ctx)
		}
	}
}

func (d *Dispatcher) dispatchReady(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for lightID, j := range d.queued {
		if d.inflight[lightID] {
			continue
		}
		delete(d.queued, lightID)
		d.inflight[lightID] = true

		d.running.Add(1)
		go d.apply(ctx, lightID, j)
	}
}

func (d *Dispatcher) apply(ctx context.Context, lightID string, j *job) {
	defer d.running.Done()

	err := d.applier.Apply(ctx, d.ep, j.tx)
	if err != nil {
		log.Warn().Err(err).Str("light", lightID).Msg("Transaction failed")
	}
	d.settle(j, err)

	d.mu.Lock()
	delete(d.inflight, lightID)
	d.mu.Unlock()

	// The light's next change may be waiting on this one.
	d.Trigger()
}

func (d *Dispatcher) settle(j *job, err error) {
	if d.tracker != nil {
		for _, tok := range j.tokens {
			d.tracker.Resolve(tok, err)
		}
	}
	if d.onResult != nil {
		d.onResult(Result{Tx: j.tx, Err: err, Merged: j.count})
	}
	d.outstanding.Done()
}

func (d *Dispatcher) shutdown(cause error) {
	d.running.Wait()

	d.mu.Lock()
	d.closed = true
	dropped := d.queued
	d.queued = make(map[string]*job)
	d.mu.Unlock()

	for lightID, j := range dropped {
		log.Warn().Str("light", lightID).Msg("Dropping queued transaction on shutdown")
		d.settle(j, cause)
	}
}
