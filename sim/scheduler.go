/*
 * ADUP routing core. Copyright (C) 2021-present the ADUP authors
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation; either version 2 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License along
 * with this program; if not, write to the Free Software Foundation, Inc.,
 * 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.
 */

package sim

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/btree"
	"golang.org/x/sync/errgroup"

	"github.com/adup-project/adup/log"
	"github.com/adup-project/adup/metric"
	"github.com/adup-project/adup/router"
	"github.com/adup-project/adup/topology"
)

// Scheduler is the discrete-event core described in §4.7: it owns the
// global clock, the (time, sequence)-ordered event queue, every Router,
// and the Link abstraction between them. It implements Controller.
//
// Scheduler itself runs on whatever goroutine calls Start — there is no
// internal "event loop goroutine" to spawn, since §5 requires the whole
// core to be single-threaded and cooperative. The only extra goroutine is
// the subscription drain loop, started once at construction and
// coordinated through an errgroup.Group so Stop cancels it cleanly.
type Scheduler struct {
	clock time.Duration
	seq   uint64
	queue *btree.BTreeG[scheduledEvent]

	routers map[RouterID]*router.Router
	links   map[linkKey]*link

	rng    *rand.Rand
	cfg    router.Config
	logger log.Log

	evMu   sync.Mutex
	evCond *sync.Cond
	evBuf  []Event
	evOut  chan Event
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	started  bool
	fatalErr error
}

// New returns an unconfigured Scheduler. Call Configure before Start.
func New(logger log.Log) *Scheduler {
	if logger == nil {
		logger = log.Nil{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	s := &Scheduler{
		queue:   newEventQueue(),
		routers: map[RouterID]*router.Router{},
		links:   map[linkKey]*link{},
		logger:  logger,
		evOut:   make(chan Event, 4096),
		ctx:     ctx,
		cancel:  cancel,
		group:   group,
	}
	s.evCond = sync.NewCond(&s.evMu)

	group.Go(func() error { return s.drainLoop(gctx) })

	return s
}

// Events returns the channel external observers read subscription Events
// from (§6). Closed only when the drain goroutine exits after Stop. Stop
// cancels that goroutine, so events still buffered but not yet taken by a
// reader at that point may be discarded.
func (s *Scheduler) Events() <-chan Event { return s.evOut }

// Configure builds the Router set and Link set from topo (§6). Must be
// called before Start, exactly once.
func (s *Scheduler) Configure(topo TopologyDescription, w metric.Weights, seed int64) error {
	known := make(map[RouterID]bool, len(topo.Routers))
	for _, id := range topo.Routers {
		known[id] = true
	}

	for _, l := range topo.Links {
		if !known[l.A] || !known[l.B] {
			return &ConfigError{Reason: "link references unknown router", Cause: topology.UnknownNeighbor}
		}
		key := linkKeyOf(l.A, l.B)
		if _, dup := s.links[key]; dup {
			return &ConfigError{Reason: "duplicate link", Cause: topology.DuplicateLink}
		}
		delay := l.PropDelay
		if delay == 0 {
			delay = DefaultPropDelay
		}
		s.links[key] = &link{a: l.A, b: l.B, metrics: l.Metrics, propDelay: delay, lossProb: l.LossProb, up: true}
	}

	s.rng = rand.New(rand.NewSource(seed))
	s.cfg = router.DefaultConfig()
	s.cfg.Weights = w

	for _, id := range topo.Routers {
		s.routers[id] = router.New(id, s.cfg, s.logger, s.rng, s.peerMetrics(id),
			s.publish,
			s.sendFrame,
			s.scheduleTimer(id),
		)
	}
	return nil
}

func (s *Scheduler) peerMetrics(id RouterID) map[RouterID]metric.Metrics {
	out := map[RouterID]metric.Metrics{}
	for _, l := range s.links {
		if peer := l.other(id); peer != 0 {
			out[peer] = l.metrics
		}
	}
	return out
}

func (s *Scheduler) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// scheduleTimer returns the per-router scheduleAt callback (§4.2, §4.4,
// §4.5).
func (s *Scheduler) scheduleTimer(id RouterID) func(at time.Duration, kind router.TimerKind, neighbor RouterID, generation int) {
	return func(at time.Duration, kind router.TimerKind, neighbor RouterID, generation int) {
		s.queue.ReplaceOrInsert(scheduledEvent{
			time: at, seq: s.nextSeq(), kind: evTimer,
			router: id, timerKind: kind, neighbor: neighbor, generation: generation,
		})
	}
}

// sendFrame is the per-router send callback: it schedules a Deliver event
// after the link's propagation delay, unless the shared RNG draws a loss
// (§4.7), or the link is currently Down (frame simply vanishes, same as a
// physically severed link).
func (s *Scheduler) sendFrame(now time.Duration, from, to RouterID, frame []byte) {
	l, ok := s.links[linkKeyOf(from, to)]
	if !ok || !l.up {
		return
	}
	if l.lossProb > 0 && s.rng.Float64() < l.lossProb {
		return
	}
	s.queue.ReplaceOrInsert(scheduledEvent{
		time: now + l.propDelay, seq: s.nextSeq(), kind: evDeliver,
		from: from, to: to, frame: frame,
	})
}

func (s *Scheduler) publish(ev Event) {
	s.evMu.Lock()
	s.evBuf = append(s.evBuf, ev)
	s.evMu.Unlock()
	s.evCond.Signal()
}

// drainLoop is the subscription fan-out goroutine (§5): it moves
// published events from the internal growable buffer onto evOut, so a
// slow or absent subscriber can never stall the event-dispatch loop.
func (s *Scheduler) drainLoop(ctx context.Context) error {
	defer close(s.evOut)
	for {
		s.evMu.Lock()
		for len(s.evBuf) == 0 && !s.closed {
			s.evCond.Wait()
		}
		if len(s.evBuf) == 0 && s.closed {
			s.evMu.Unlock()
			return nil
		}
		batch := s.evBuf
		s.evBuf = nil
		s.evMu.Unlock()

		for _, ev := range batch {
			select {
			case s.evOut <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Start runs the event-dispatch loop from the current clock until until,
// or until Stop is called (§4.7: "runs until a specified simulated end
// time or external stop()"). It is safe to call Start again afterwards
// with a later until to resume — e.g. to inject a link failure partway
// through a scenario and continue (see S2, §8) — since the Scheduler
// keeps its clock and queue between calls.
func (s *Scheduler) Start(until time.Duration) error {
	if !s.started {
		s.started = true
		for _, r := range s.routers {
			r.Start(0)
		}
	}

	for {
		select {
		case <-s.ctx.Done():
			return nil
		default:
		}

		ev, ok := s.queue.DeleteMin()
		if !ok || ev.time > until {
			if ok {
				s.queue.ReplaceOrInsert(ev) // put it back, not yet due
			}
			s.clock = until
			return nil
		}
		s.clock = ev.time
		s.dispatch(ev)

		if err := s.fatalErr; err != nil {
			return err
		}
	}
}

func (s *Scheduler) dispatch(ev scheduledEvent) {
	switch ev.kind {
	case evDeliver:
		r := s.routers[ev.to]
		if r == nil {
			return
		}
		r.OnPacket(ev.time, ev.from, ev.frame)
		s.checkFatal(r)

	case evTimer:
		r := s.routers[ev.router]
		if r == nil {
			return
		}
		r.OnTimer(ev.time, ev.timerKind, ev.neighbor, ev.generation)
		s.checkFatal(r)

	case evLinkDown:
		s.applyLinkDown(ev.time, ev.a, ev.b)

	case evLinkUp:
		s.applyLinkUp(ev.time, ev.a, ev.b, ev.metrics)
	}
}

func (s *Scheduler) checkFatal(r *router.Router) {
	if err := r.FatalError(); err != nil && s.fatalErr == nil {
		s.fatalErr = &SchedulerError{Router: r.ID(), Reason: "dual invariant violated", Cause: err}
	}
}

// Stop drains the event queue without executing further handlers (§5
// Cancellation) and shuts down the subscription drain goroutine.
func (s *Scheduler) Stop() {
	for _, r := range s.routers {
		r.Stop()
	}
	s.queue = newEventQueue()

	s.evMu.Lock()
	s.closed = true
	s.evMu.Unlock()
	s.evCond.Signal()

	s.cancel()
	_ = s.group.Wait()
}

// InjectLinkDown takes the link between a and b down immediately, at the
// Scheduler's current clock (§6).
func (s *Scheduler) InjectLinkDown(a, b RouterID) error {
	if _, ok := s.links[linkKeyOf(a, b)]; !ok {
		return &ConfigError{Reason: "no such link", Cause: topology.UnknownNeighbor}
	}
	s.applyLinkDown(s.clock, a, b)
	return nil
}

// InjectLinkUp restores the link between a and b with the given metrics,
// immediately, at the Scheduler's current clock (§6).
func (s *Scheduler) InjectLinkUp(a, b RouterID, m metric.Metrics) error {
	if _, ok := s.links[linkKeyOf(a, b)]; !ok {
		return &ConfigError{Reason: "no such link", Cause: topology.UnknownNeighbor}
	}
	s.applyLinkUp(s.clock, a, b, m)
	return nil
}

func (s *Scheduler) applyLinkDown(now time.Duration, a, b RouterID) {
	l, ok := s.links[linkKeyOf(a, b)]
	if !ok || !l.up {
		return
	}
	l.up = false
	if r := s.routers[a]; r != nil {
		r.OnLinkDown(now, b)
		s.checkFatal(r)
	}
	if r := s.routers[b]; r != nil {
		r.OnLinkDown(now, a)
		s.checkFatal(r)
	}
}

func (s *Scheduler) applyLinkUp(now time.Duration, a, b RouterID, m metric.Metrics) {
	l, ok := s.links[linkKeyOf(a, b)]
	if !ok {
		return
	}
	l.up = true
	l.metrics = m
	if r := s.routers[a]; r != nil {
		r.OnLinkUp(now, b, m)
		s.checkFatal(r)
	}
	if r := s.routers[b]; r != nil {
		r.OnLinkUp(now, a, m)
		s.checkFatal(r)
	}
}

// ScheduleLinkDown schedules a link failure at a future simulated time —
// the mechanism cmd/adupsim's -fail-at uses to drive a deterministic,
// pre-planned link event instead of live injection.
func (s *Scheduler) ScheduleLinkDown(at time.Duration, a, b RouterID) {
	s.queue.ReplaceOrInsert(scheduledEvent{time: at, seq: s.nextSeq(), kind: evLinkDown, a: a, b: b})
}

// ScheduleLinkUp schedules a link repair at a future simulated time.
func (s *Scheduler) ScheduleLinkUp(at time.Duration, a, b RouterID, m metric.Metrics) {
	s.queue.ReplaceOrInsert(scheduledEvent{time: at, seq: s.nextSeq(), kind: evLinkUp, a: a, b: b, metrics: m})
}

// Router returns the Router for id, for tests and read-only accessors
// (RoutingTable/NeighborTable) — nil if id is unconfigured.
func (s *Scheduler) Router(id RouterID) *router.Router { return s.routers[id] }

// Clock returns the Scheduler's current simulated time.
func (s *Scheduler) Clock() time.Duration { return s.clock }

var _ Controller = (*Scheduler)(nil)
