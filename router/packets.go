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

package router

import (
	"time"

	"github.com/adup-project/adup/dual"
	"github.com/adup-project/adup/log"
	"github.com/adup-project/adup/metric"
	"github.com/adup-project/adup/packet"
	"github.com/adup-project/adup/topology"
)

// OnPacket decodes and dispatches one inbound frame received from from
// (§4.1, §4.6). Malformed frames are logged and dropped, never fatal —
// only a DUAL invariant violation halts the simulation (§7).
func (r *Router) OnPacket(now time.Duration, from RouterID, frame []byte) {
	if r.stopped {
		return
	}

	p, err := packet.Decode(frame, r.cfg.MTU)
	if err != nil {
		r.logger.WARNING("packet", log.KV{"router": r.id, "from": from, "error": err.Error()})
		return
	}

	switch v := p.(type) {
	case *packet.Hello:
		r.onHello(now, from, v.Metrics)
	case *packet.Update:
		r.onUpdate(now, from, v.Entries)
	}
}

// onHello processes a received Hello (§3, §4.2, §4.6): it refreshes the
// sending neighbor's Up state and hold timer, and — since this simulation
// treats a link's metrics as symmetric, both ends reporting the same
// underlying physical link — recomputes the local link cost used when
// composing that neighbor's computed distance for every prefix.
func (r *Router) onHello(now time.Duration, from RouterID, m metric.Metrics) {
	r.emit(Event{Time: now, Kind: HelloRecv, Router: r.id, Peer: from, Payload: m})

	newCost := metric.Compose(m, r.cfg.Weights)
	oldCost, hadCost := r.linkCost[from]
	costChanged := !hadCost || oldCost != newCost
	r.linkCost[from] = newCost

	ne, existed := r.neighbors[from]
	if !existed {
		ne = &NeighborEntry{ID: from}
		r.neighbors[from] = ne
	}
	wasUp := existed && ne.State == Up

	ne.LastHello = now
	ne.Metrics = m
	ne.LinkCost = newCost
	ne.State = Up
	ne.generation++
	ne.HoldDeadline = now + r.cfg.holdTime()
	r.scheduleAt(ne.HoldDeadline, TimerHold, from, ne.generation)

	if !wasUp {
		r.logger.NOTICE("neighbor", log.KV{"router": r.id, "neighbor": from, "state": "Up"})
		r.emit(Event{Time: now, Kind: NeighborUp, Router: r.id, Peer: from})
		r.sendFullUpdate(now, from)
		return
	}

	if costChanged {
		r.recomputeAffectedByNeighbor(now, from)
	}
}

// recomputeAffectedByNeighbor re-drives DUAL for every prefix that carries
// an entry from neighbor, after its link cost or reachability changed
// (§4.4 input "a local link cost changes").
func (r *Router) recomputeAffectedByNeighbor(now time.Duration, neighbor RouterID) {
	cost, ok := r.linkCost[neighbor]
	if !ok {
		return
	}
	for _, p := range r.topo.Prefixes() {
		e, ok := r.topo.Lookup(p, neighbor)
		if !ok {
			continue
		}
		r.topo.Insert(p, neighbor, e.RD, cost)
		r.redrive(now, p, neighbor)
	}
}

// onUpdate processes a received Update/Query/Reply frame (§4.1, §4.4,
// §4.6). Per §7, an Update from a neighbor this router does not currently
// consider Up is logged and the whole packet discarded.
func (r *Router) onUpdate(now time.Duration, from RouterID, entries []packet.WireRouteEntry) {
	ne, ok := r.neighbors[from]
	if !ok || ne.State != Up {
		r.logger.WARNING("topology", log.KV{
			"router": r.id, "from": from, "error": topology.UnknownNeighbor.Error(),
		})
		return
	}

	r.emit(Event{Time: now, Kind: UpdateRecv, Router: r.id, Peer: from, Payload: entries})

	linkCost := r.linkCost[from]
	for _, e := range entries {
		p := e.Prefix
		if r.originated[p] {
			// A neighbor advertising our own locally-sourced prefix back at
			// us (normal flooding: split horizon only stops a neighbor whose
			// successor we are) — never let DUAL treat self-originated
			// reachability as learned, just ignore it.
			continue
		}
		if e.RD == metric.Infinity {
			r.topo.Remove(p, from)
		} else {
			r.topo.Insert(p, from, e.RD, linkCost)
		}
		r.redrive(now, p, from)
	}
}

// redrive re-evaluates DUAL for p after the Topology Table has already
// been updated to reflect from's latest input, choosing between the
// Active-state Reply/Query handlers and the Passive-state Evaluate path
// depending on whether from currently has an outstanding Query (§4.4).
func (r *Router) redrive(now time.Duration, p Prefix, from RouterID) {
	var intents []dual.Intent
	var err error

	if r.dualM.IsOutstanding(p, from) {
		intents, err = r.dualM.ReceiveReply(p, from, r.topo, r.tieBreakFor(p), now)
	} else if r.dualM.State(p).State == dual.Active {
		intents = r.dualM.HandleQueryWhileActive(p, from)
	} else {
		intents, err = r.dualM.Evaluate(p, r.topo, r.upNeighborIDs(), r.tieBreakFor(p), from, now)
	}

	if err != nil {
		r.fatal(err)
		return
	}
	r.applyIntents(now, p, intents)
}

func (r *Router) applyIntents(now time.Duration, p Prefix, intents []dual.Intent) {
	for _, in := range intents {
		switch in.Kind {
		case dual.RouteInstall:
			re := RouteEntry{Prefix: p, NextHop: in.NextHop, Metric: in.Metric, InstalledAt: now}
			r.routes[p] = re
			r.logger.DEBUG("route", log.KV{"router": r.id, "prefix": p.String(), "next_hop": in.NextHop, "metric": uint32(in.Metric)})
			r.emit(Event{Time: now, Kind: RouteInstalled, Router: r.id, Prefix: &p, Payload: re})

		case dual.RouteWithdraw:
			delete(r.routes, p)
			r.emit(Event{Time: now, Kind: RouteWithdrawn, Router: r.id, Prefix: &p})

		case dual.SendUpdate, dual.SendQuery:
			r.floodUpdate(now, p, in.Metric, in.Exclude...)

		case dual.SendReply:
			r.sendUpdateTo(now, in.Target, p, in.Metric)

		case dual.EnterActive:
			r.logger.NOTICE("dual", log.KV{"router": r.id, "prefix": p.String(), "state": "Active"})
			r.emit(Event{Time: now, Kind: DualActive, Router: r.id, Prefix: &p})

		case dual.EnterPassive:
			r.emit(Event{Time: now, Kind: DualPassive, Router: r.id, Prefix: &p})
		}
	}
}

// OriginatePrefix marks p as directly attached to this router — an
// administratively assigned local network, not something learned via
// DUAL — and advertises it to every Up neighbor at RD=0 (§8 S1/S5 treat
// a router's "local prefix" this way). Inbound Updates about an
// originated prefix are ignored rather than fed to DUAL (see onUpdate).
func (r *Router) OriginatePrefix(now time.Duration, p Prefix) {
	r.originated[p] = true
	re := RouteEntry{Prefix: p, NextHop: 0, Metric: 0, InstalledAt: now}
	r.routes[p] = re
	r.emit(Event{Time: now, Kind: RouteInstalled, Router: r.id, Prefix: &p, Payload: re})
	r.floodUpdate(now, p, 0, 0)
}

// WithdrawPrefix stops originating p and advertises metric=∞ to every Up
// neighbor (§8 S5 "R3 withdraws its local prefix").
func (r *Router) WithdrawPrefix(now time.Duration, p Prefix) {
	if !r.originated[p] {
		return
	}
	delete(r.originated, p)
	delete(r.routes, p)
	r.emit(Event{Time: now, Kind: RouteWithdrawn, Router: r.id, Prefix: &p})
	r.floodUpdate(now, p, metric.Infinity, 0)
}

// floodUpdate sends a single-entry Update advertising metric for p to
// every Up neighbor except those listed in excludes (zero values ignored)
// (§4.4). Split horizon (never advertising a prefix back to its own next
// hop) is expressed entirely through which neighbors dual.Intent.Exclude
// names, not by any special-casing here.
func (r *Router) floodUpdate(now time.Duration, p Prefix, metricVal metric.Cost, excludes ...RouterID) {
	for _, peer := range r.upNeighborIDs() {
		if excluded(peer, excludes) {
			continue
		}
		r.sendUpdateTo(now, peer, p, metricVal)
	}
}

func excluded(peer RouterID, excludes []RouterID) bool {
	for _, e := range excludes {
		if e != 0 && peer == e {
			return true
		}
	}
	return false
}

func (r *Router) sendUpdateTo(now time.Duration, to RouterID, p Prefix, metricVal metric.Cost) {
	entry := packet.WireRouteEntry{Prefix: p, Metrics: r.peers[to], RD: metricVal}
	u := &packet.Update{Entries: []packet.WireRouteEntry{entry}}
	r.sendPacket(now, to, u)
	r.emit(Event{Time: now, Kind: UpdateSent, Router: r.id, Peer: to, Prefix: &p, Payload: metricVal})
}

// sendFullUpdate dumps every installed route to a newly-Up neighbor
// (§4.6: "triggers a full routing-table dump"), except a route whose next
// hop is that very neighbor (split horizon — see floodUpdate).
func (r *Router) sendFullUpdate(now time.Duration, to RouterID) {
	if len(r.routes) == 0 {
		return
	}
	entries := make([]packet.WireRouteEntry, 0, len(r.routes))
	for p, re := range r.routes {
		if re.NextHop == to {
			continue
		}
		entries = append(entries, packet.WireRouteEntry{Prefix: p, Metrics: r.peers[to], RD: re.Metric})
	}
	if len(entries) == 0 {
		return
	}
	u := &packet.Update{Entries: entries}
	r.sendPacket(now, to, u)
	r.emit(Event{Time: now, Kind: UpdateSent, Router: r.id, Peer: to, Payload: entries})
}

func (r *Router) sendHelloToAll(now time.Duration) {
	for peer, m := range r.peers {
		h := &packet.Hello{Metrics: m}
		r.sendPacket(now, peer, h)
		r.emit(Event{Time: now, Kind: HelloSent, Router: r.id, Peer: peer, Payload: m})
	}
}

func (r *Router) sendPacket(now time.Duration, to RouterID, p packet.Packet) {
	frame, err := packet.Encode(p)
	if err != nil {
		// Only hit by a programmer error (unknown Packet variant); there is
		// nothing a simulated router can do about it at runtime.
		r.logger.ERR("packet", log.KV{"router": r.id, "to": to, "error": err.Error()})
		return
	}
	r.send(now, r.id, to, frame)
}

// OnLinkUp tells the Router that its interface toward peer is usable with
// the given metrics (§4.6). It does not by itself mark the neighbor Up —
// that still requires a Hello to be exchanged — but it primes the
// interface and, to speed convergence after a repair, sends one
// immediately rather than waiting for the next Hello timer.
func (r *Router) OnLinkUp(now time.Duration, peer RouterID, m metric.Metrics) {
	if r.stopped {
		return
	}
	r.peers[peer] = m
	h := &packet.Hello{Metrics: m}
	r.sendPacket(now, peer, h)
	r.emit(Event{Time: now, Kind: HelloSent, Router: r.id, Peer: peer, Payload: m})
}

// OnLinkDown tells the Router its interface toward peer is gone (§4.6).
// This is the explicit counterpart to hold-timer expiry: both converge on
// neighborDown.
func (r *Router) OnLinkDown(now time.Duration, peer RouterID) {
	if r.stopped {
		return
	}
	delete(r.peers, peer)
	r.neighborDown(now, peer)
}

// neighborDown marks peer Down, drops its Topology Table entries, and
// re-drives DUAL for every prefix that was affected (§3 Lifecycle, §4.4
// input "a neighbor carrying p goes Down").
func (r *Router) neighborDown(now time.Duration, peer RouterID) {
	ne, ok := r.neighbors[peer]
	if !ok || ne.State != Up {
		return
	}
	ne.State = Down
	ne.generation++ // invalidate any in-flight hold timer for this neighbor
	delete(r.linkCost, peer)

	r.logger.NOTICE("neighbor", log.KV{"router": r.id, "neighbor": peer, "state": "Down"})
	r.emit(Event{Time: now, Kind: NeighborDown, Router: r.id, Peer: peer})

	affected := r.topo.RemoveNeighbor(peer)
	for _, p := range affected {
		var intents []dual.Intent
		var err error
		if r.dualM.IsOutstanding(p, peer) {
			intents, err = r.dualM.NeighborDown(p, peer, r.topo, r.tieBreakFor(p), now)
		} else if r.dualM.State(p).State == dual.Active {
			continue // Active, peer wasn't outstanding: nothing to do
		} else {
			intents, err = r.dualM.Evaluate(p, r.topo, r.upNeighborIDs(), r.tieBreakFor(p), peer, now)
		}
		if err != nil {
			r.fatal(err)
			return
		}
		r.applyIntents(now, p, intents)
	}
}
