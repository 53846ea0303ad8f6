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

// Package router implements one simulated router: it owns the Neighbor,
// Topology, DUAL and Routing tables for a single RouterID and wires them
// together (§3, §4.6). A Router never touches a wall clock or a real
// socket — every handler takes the simulation's current time as an
// argument, and every outbound packet and scheduled timer is handed to
// callbacks supplied by whatever owns the Router (the sim package's
// Scheduler), so Router stays reusable outside a discrete-event harness.
package router

import (
	"math/rand"
	"time"

	"github.com/adup-project/adup/dual"
	"github.com/adup-project/adup/log"
	"github.com/adup-project/adup/mab"
	"github.com/adup-project/adup/metric"
	"github.com/adup-project/adup/topology"
)

// TimerKind distinguishes the recurring timers a Router schedules (§4.2,
// §4.5, §4.4 Failure semantics). Hold timers are additionally tagged with
// a neighbor and a generation so a stale fire (superseded by a fresh
// Hello) can be told apart from a live expiry (§5 Cancellation).
type TimerKind int

const (
	TimerHello TimerKind = iota
	TimerHold
	TimerMABSample
	TimerActiveSweep
)

func (k TimerKind) String() string {
	switch k {
	case TimerHello:
		return "Hello"
	case TimerHold:
		return "Hold"
	case TimerMABSample:
		return "MABSample"
	case TimerActiveSweep:
		return "ActiveSweep"
	}
	return "?"
}

// Router owns one simulated router's full protocol state (§3). Construct
// with New, drive it exclusively through its exported methods (Start,
// Stop, the On* handlers, OriginatePrefix/WithdrawPrefix) from a single
// goroutine (the owning Scheduler's), and read back state only through
// RoutingTable/NeighborTable/DualState/MABPulls/FatalError.
type Router struct {
	id     RouterID
	cfg    Config
	logger log.Log
	rng    *rand.Rand

	peers     map[RouterID]metric.Metrics // statically configured interfaces
	neighbors map[RouterID]*NeighborEntry
	linkCost  map[RouterID]metric.Cost

	topo       *topology.Table
	dualM      *dual.Machine
	mabL       *mab.Learner
	routes     map[Prefix]RouteEntry
	originated map[Prefix]bool // locally-sourced prefixes, never driven by DUAL

	emit       func(Event)
	send       func(now time.Duration, from, to RouterID, frame []byte)
	scheduleAt func(at time.Duration, kind TimerKind, neighbor RouterID, generation int)

	fatalErr error
	stopped  bool
}

// New returns a Router for id. peers is the static set of configured
// point-to-point interfaces and their initial outbound link metrics
// (§4.6); emit receives every subscription Event the Router produces;
// send is called to hand one encoded frame to a peer; scheduleAt asks the
// owner to call OnTimer back at the given simulation time. rng must be
// the simulation's single shared generator (§5, §9 Open Question ii) so
// MAB tie-breaks stay reproducible across a run.
func New(
	id RouterID,
	cfg Config,
	logger log.Log,
	rng *rand.Rand,
	peers map[RouterID]metric.Metrics,
	emit func(Event),
	send func(now time.Duration, from, to RouterID, frame []byte),
	scheduleAt func(at time.Duration, kind TimerKind, neighbor RouterID, generation int),
) *Router {
	if logger == nil {
		logger = log.Nil{}
	}
	r := &Router{
		id:         id,
		cfg:        cfg,
		logger:     logger,
		rng:        rng,
		peers:      map[RouterID]metric.Metrics{},
		neighbors:  map[RouterID]*NeighborEntry{},
		linkCost:   map[RouterID]metric.Cost{},
		topo:       topology.New(),
		dualM:      dual.NewMachine(cfg.ActiveTimeout),
		mabL:       mab.NewLearner(cfg.Epsilon),
		routes:     map[Prefix]RouteEntry{},
		originated: map[Prefix]bool{},
		emit:       emit,
		send:       send,
		scheduleAt: scheduleAt,
	}
	for peer, m := range peers {
		r.peers[peer] = m
	}
	return r
}

// ID returns the router's identity.
func (r *Router) ID() RouterID { return r.id }

// FatalError returns the first DUAL invariant violation this Router has
// observed, or nil. The simulation must halt once this is non-nil (§7).
func (r *Router) FatalError() error { return r.fatalErr }

// Start schedules the Router's recurring timers as of now (§4.2, §4.5,
// §4.4). Call exactly once, before any packets are delivered.
func (r *Router) Start(now time.Duration) {
	r.scheduleAt(now, TimerHello, 0, 0)
	r.scheduleAt(now+r.cfg.MABSampleInterval, TimerMABSample, 0, 0)
	r.scheduleAt(now+time.Second, TimerActiveSweep, 0, 0)
}

// Stop marks the Router as no longer accepting input; already-scheduled
// timers that still fire afterwards are silently ignored.
func (r *Router) Stop() { r.stopped = true }

func (r *Router) fatal(err error) {
	if r.fatalErr == nil {
		r.fatalErr = err
	}
	r.logger.ERR("dual", log.KV{"router": r.id, "error": err.Error()})
}

func (r *Router) upNeighborIDs() []RouterID {
	var out []RouterID
	for id, ne := range r.neighbors {
		if ne.State == Up {
			out = append(out, id)
		}
	}
	return out
}

func (r *Router) tieBreakFor(p Prefix) dual.TieBreak {
	return func(candidates []RouterID) RouterID {
		return r.mabL.Select(p, candidates, r.rng)
	}
}
