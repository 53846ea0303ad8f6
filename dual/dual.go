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

// Package dual implements the per-prefix DUAL finite state machine (§4.4).
//
// Machine is a pure state machine: it only reads the Topology Table handed
// to it and returns Intent records describing what the Router should do
// (install/withdraw a route, send packets, transition state). It never
// touches the Topology Table or a socket itself — see the design note in
// spec §9 on breaking the Router/DUAL reference cycle this way.
package dual

import (
	"fmt"
	"time"

	"github.com/adup-project/adup/metric"
	"github.com/adup-project/adup/packet"
	"github.com/adup-project/adup/topology"
)

type RouterID = packet.RouterID
type Prefix = packet.Prefix

// State is a prefix's DUAL state (§3, §4.4).
type State int

const (
	Passive State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "Active"
	}
	return "Passive"
}

// PrefixState is one prefix's full DUAL bookkeeping (§3). FD is the
// Feasible Distance: the lowest composite distance ever advertised for
// this prefix since the last Active→Passive transition.
type PrefixState struct {
	Prefix             Prefix
	State              State
	FD                 metric.Cost
	Successor          RouterID // 0 = none installed
	InstalledMetric    metric.Cost
	QueryOrigin        RouterID // 0 = Self (locally triggered)
	RepliesOutstanding map[RouterID]bool
	ActiveSince        time.Duration
}

// Snapshot is an immutable, copy-on-read view of a PrefixState for the
// subscription interface (§5: "immutable snapshots (copy-on-read)").
func (ps *PrefixState) Snapshot() PrefixState {
	cp := *ps
	cp.RepliesOutstanding = make(map[RouterID]bool, len(ps.RepliesOutstanding))
	for k, v := range ps.RepliesOutstanding {
		cp.RepliesOutstanding[k] = v
	}
	return cp
}

// InvariantViolation is the fatal error family of §7: FD increasing while
// Passive, an Active computation with no outstanding neighbors to wait on,
// or a negative (here: underflowing) replies_outstanding set. The caller
// must halt the simulation, not mask this.
type InvariantViolation struct {
	Prefix Prefix
	Reason string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("dual: invariant violated for %s: %s", e.Prefix, e.Reason)
}

// IntentKind tags an Intent's meaning (§9 design note).
type IntentKind int

const (
	RouteInstall IntentKind = iota
	RouteWithdraw
	SendUpdate // flood to all up neighbors except Exclude (if nonzero)
	SendQuery  // flood to all up neighbors
	SendReply  // targeted at Target
	EnterActive
	EnterPassive
)

// Intent is one thing the Router must do in response to a Handle call. The
// Machine never performs it itself.
type Intent struct {
	Kind    IntentKind
	Prefix  Prefix
	NextHop RouterID    // RouteInstall
	Metric  metric.Cost // SendUpdate/SendQuery/SendReply advertised distance
	Target  RouterID    // SendReply destination
	Exclude []RouterID  // SendUpdate: neighbors to skip (split horizon / already replied directly)
}

// Machine owns every prefix's DUAL state for one router.
type Machine struct {
	states        map[Prefix]*PrefixState
	activeTimeout time.Duration
}

// NewMachine returns an empty Machine. activeTimeout is the Active-state
// collapse timeout (§4.4 Failure semantics; default 16s per spec §9).
func NewMachine(activeTimeout time.Duration) *Machine {
	return &Machine{states: map[Prefix]*PrefixState{}, activeTimeout: activeTimeout}
}

func (m *Machine) state(p Prefix) *PrefixState {
	ps, ok := m.states[p]
	if !ok {
		ps = &PrefixState{Prefix: p, State: Passive, FD: metric.Infinity, InstalledMetric: metric.Infinity}
		m.states[p] = ps
	}
	return ps
}

// State returns the current snapshot for p, creating it (Passive, FD=∞) if
// unseen, matching §3's "DUAL state exists for every prefix ever seen".
func (m *Machine) State(p Prefix) PrefixState {
	return m.state(p).Snapshot()
}

// Prefixes returns every prefix this Machine has ever created state for.
func (m *Machine) Prefixes() []Prefix {
	out := make([]Prefix, 0, len(m.states))
	for p := range m.states {
		out = append(out, p)
	}
	return out
}

// TieBreak is consulted only when more than one feasible successor ties
// for the minimum computed distance (§4.4, §4.5: "MAB is consulted ONLY
// when candidates.len() > 1").
type TieBreak func(candidates []RouterID) RouterID

// Evaluate drives the Passive-state recompute of §4.4: it must be called
// whenever an Update is received for p, a local link cost changes, or a
// neighbor carrying p goes Down — after the Router has already applied
// that change to the Topology Table. upNeighbors is the router's full set
// of currently-Up neighbor IDs (not just ones that have advertised p),
// needed because entering Active means waiting on all of them except
// originator. originator is the neighbor whose input triggered this call,
// or 0 for a purely local event (used as QueryOrigin if the prefix goes
// Active).
//
// Evaluate is a no-op (returns nil, nil) if the prefix is currently
// Active: Active-state inputs go through ReceiveReply/HandleQueryWhileActive
// instead (§4.4: "block further local routing-table changes").
func (m *Machine) Evaluate(p Prefix, topo *topology.Table, upNeighbors []RouterID, tieBreak TieBreak, originator RouterID, now time.Duration) ([]Intent, error) {
	ps := m.state(p)
	if ps.State == Active {
		return nil, nil
	}

	feasible, best := topo.FindSuccessors(p, ps.FD)

	if len(feasible) > 0 {
		return m.installPassive(ps, feasible, best, tieBreak), nil
	}

	if len(topo.Entries(p)) == 0 {
		return m.withdrawUnreachable(ps), nil
	}

	if len(upNeighbors) == 0 {
		// No one to query — treat as unreachable rather than entering an
		// Active computation that could never complete (defensive: avoids
		// the "Active with empty neighbor set" invariant violation).
		return m.withdrawUnreachable(ps), nil
	}

	return m.beginActive(ps, topo, upNeighbors, tieBreak, originator, now), nil
}

func (m *Machine) installPassive(ps *PrefixState, feasible []topology.Entry, best metric.Cost, tieBreak TieBreak) []Intent {
	successor := chooseSuccessor(feasible, tieBreak)

	newFD := ps.FD
	if best < newFD {
		newFD = best
	}

	changed := ps.Successor != successor || ps.InstalledMetric != best

	ps.FD = newFD
	ps.Successor = successor
	ps.InstalledMetric = best

	intents := []Intent{{Kind: RouteInstall, Prefix: ps.Prefix, NextHop: successor, Metric: best}}
	if changed {
		// Split horizon: never advertise a route back to the very neighbor
		// it is installed through — the Non-goals' "no split-horizon beyond
		// what DUAL already implies" assumes this baseline holds; reflecting
		// it back is how a 2-node stub poisons its own successor's Topology
		// Table entry (§8 S2).
		intents = append(intents, Intent{Kind: SendUpdate, Prefix: ps.Prefix, Metric: best, Exclude: []RouterID{successor}})
	}
	return intents
}

func (m *Machine) withdrawUnreachable(ps *PrefixState) []Intent {
	if ps.Successor == 0 && ps.InstalledMetric == metric.Infinity {
		return nil // already withdrawn, nothing changed
	}

	ps.FD = metric.Infinity
	ps.Successor = 0
	ps.InstalledMetric = metric.Infinity

	return []Intent{
		{Kind: RouteWithdraw, Prefix: ps.Prefix},
		{Kind: SendUpdate, Prefix: ps.Prefix, Metric: metric.Infinity},
	}
}

// beginActive opens a diffusing computation: every up neighbor except
// originator is queried and marked outstanding. originator — the neighbor
// whose own input triggered this recompute — is deliberately never
// re-queried: it just told us everything it currently knows, so asking it
// again would only echo that same information back, and crediting that
// echo as "the Reply" is exactly how two routers that are each other's only
// remaining neighbor turn a single Active computation into a standing loop
// (§8 S2; see the IsOutstanding doc comment). If excluding originator
// leaves no one to query, there is nothing left to diffuse: resolve
// immediately with whatever the Topology Table already holds, the same way
// a fully-replied Active computation does.
func (m *Machine) beginActive(ps *PrefixState, topo *topology.Table, upNeighbors []RouterID, tieBreak TieBreak, originator RouterID, now time.Duration) []Intent {
	ps.State = Active
	ps.QueryOrigin = originator
	ps.ActiveSince = now
	ps.RepliesOutstanding = make(map[RouterID]bool, len(upNeighbors))
	for _, n := range upNeighbors {
		if n == originator {
			continue
		}
		ps.RepliesOutstanding[n] = true
	}

	intents := []Intent{{Kind: EnterActive, Prefix: ps.Prefix}}

	if len(ps.RepliesOutstanding) == 0 {
		return append(intents, m.collapse(ps, topo, tieBreak)...)
	}

	queryMetric, _ := topo.MinComputedDistance(ps.Prefix)
	intents = append(intents, Intent{Kind: SendQuery, Prefix: ps.Prefix, Metric: queryMetric})
	return intents
}

// IsOutstanding reports whether p is Active and currently waiting on a
// reply from neighbor — the Router uses this to decide whether an inbound
// Update from that neighbor is the Reply to its own Query (ReceiveReply) or
// an unrelated Query arriving mid-computation (HandleQueryWhileActive),
// since the wire protocol has no distinct Query/Reply opcode (§4.1, §4.4).
// This is sound only because beginActive never puts the triggering
// neighbor (originator) into RepliesOutstanding in the first place — a
// neighbor that is never marked outstanding can never be misread as having
// "replied" when it was in fact raising a fresh, independent Query.
func (m *Machine) IsOutstanding(p Prefix, neighbor RouterID) bool {
	ps := m.state(p)
	return ps.State == Active && ps.RepliesOutstanding[neighbor]
}

// ReceiveReply processes a neighbor's answer to an outstanding Query
// (§4.4). The Router must have already applied the neighbor's Update entry
// to the Topology Table before calling this. No-op if p is not Active or
// from was not outstanding.
func (m *Machine) ReceiveReply(p Prefix, from RouterID, topo *topology.Table, tieBreak TieBreak, now time.Duration) ([]Intent, error) {
	ps := m.state(p)
	if ps.State != Active {
		return nil, nil
	}
	if !ps.RepliesOutstanding[from] {
		return nil, nil
	}
	delete(ps.RepliesOutstanding, from)

	if len(ps.RepliesOutstanding) > 0 {
		return nil, nil
	}

	return m.collapse(ps, topo, tieBreak), nil
}

// NeighborDown implicitly answers any outstanding Query from neighbor with
// metric ∞ (§4.4 Failure semantics). The Router must have already removed
// neighbor's Topology Table entries. If p is Passive, the caller should use
// Evaluate instead (neighbor-down is a Passive input too, per §4.4(iii)).
func (m *Machine) NeighborDown(p Prefix, neighbor RouterID, topo *topology.Table, tieBreak TieBreak, now time.Duration) ([]Intent, error) {
	return m.ReceiveReply(p, neighbor, topo, tieBreak, now)
}

// HandleQueryWhileActive answers an inbound Query immediately with the
// current (possibly stale, possibly ∞) installed metric, without
// perturbing the in-flight diffusing computation (§4.4).
func (m *Machine) HandleQueryWhileActive(p Prefix, from RouterID) []Intent {
	ps := m.state(p)
	if ps.State != Active {
		return nil
	}
	return []Intent{{Kind: SendReply, Prefix: p, Target: from, Metric: ps.InstalledMetric}}
}

// CheckActiveTimeout collapses an Active computation that has been waiting
// longer than the configured Active timeout, treating every still-
// outstanding neighbor as Down (§4.4 Failure semantics).
func (m *Machine) CheckActiveTimeout(p Prefix, topo *topology.Table, tieBreak TieBreak, now time.Duration) ([]Intent, error) {
	ps := m.state(p)
	if ps.State != Active {
		return nil, nil
	}
	if now-ps.ActiveSince < m.activeTimeout {
		return nil, nil
	}

	for n := range ps.RepliesOutstanding {
		delete(ps.RepliesOutstanding, n)
	}

	return m.collapse(ps, topo, tieBreak), nil
}

// collapse performs the Active→Passive transition of §4.4: FD is relaxed
// to infinity for the purpose of picking any surviving successor, the new
// successor (if any) is installed, and a Reply to the query origin plus an
// Update to every other neighbor are emitted.
func (m *Machine) collapse(ps *PrefixState, topo *topology.Table, tieBreak TieBreak) []Intent {
	feasible, best := topo.FindSuccessors(ps.Prefix, metric.Infinity)

	var successor RouterID
	if len(feasible) > 0 {
		successor = chooseSuccessor(feasible, tieBreak)
	} else {
		best = metric.Infinity
	}

	origin := ps.QueryOrigin

	ps.State = Passive
	ps.FD = best
	ps.Successor = successor
	ps.InstalledMetric = best
	ps.QueryOrigin = 0
	ps.RepliesOutstanding = nil

	intents := []Intent{{Kind: EnterPassive, Prefix: ps.Prefix}}
	if successor != 0 {
		intents = append(intents, Intent{Kind: RouteInstall, Prefix: ps.Prefix, NextHop: successor, Metric: best})
	} else {
		intents = append(intents, Intent{Kind: RouteWithdraw, Prefix: ps.Prefix})
	}

	if origin != 0 {
		intents = append(intents, Intent{Kind: SendReply, Prefix: ps.Prefix, Target: origin, Metric: best})
	}
	// origin already got its answer via the direct Reply above (or never
	// queried us at all); successor never needs to be told it is its own
	// next hop (split horizon).
	intents = append(intents, Intent{Kind: SendUpdate, Prefix: ps.Prefix, Metric: best, Exclude: []RouterID{origin, successor}})

	return intents
}

func chooseSuccessor(feasible []topology.Entry, tieBreak TieBreak) RouterID {
	if len(feasible) == 1 {
		return feasible[0].Neighbor
	}

	candidates := make([]RouterID, len(feasible))
	for i, e := range feasible {
		candidates[i] = e.Neighbor
	}
	if tieBreak == nil {
		// No tie-breaker available (e.g. unit tests exercising Machine in
		// isolation): fall back to the lowest ID for determinism, same as
		// the MAB's own deterministic fallback (§4.5).
		lowest := candidates[0]
		for _, c := range candidates[1:] {
			if c < lowest {
				lowest = c
			}
		}
		return lowest
	}
	return tieBreak(candidates)
}
