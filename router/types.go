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

	"github.com/adup-project/adup/metric"
	"github.com/adup-project/adup/packet"
)

type RouterID = packet.RouterID
type Prefix = packet.Prefix

// NeighborState is a neighbor's discovery state (§3).
type NeighborState int

const (
	Pending NeighborState = iota
	Up
	Down
)

func (s NeighborState) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Up:
		return "Up"
	case Down:
		return "Down"
	}
	return "?"
}

// NeighborEntry is one router's view of one adjacency (§3). A neighbor is
// Up iff a Hello has been received within the hold time; that invariant is
// enforced by the hold timer in timers.go, not by this struct itself.
type NeighborEntry struct {
	ID           RouterID
	State        NeighborState
	LastHello    time.Duration
	Metrics      metric.Metrics
	LinkCost     metric.Cost
	HoldDeadline time.Duration
	generation   int // bumped on every Hello; stale hold-timer fires are discarded (§5 Cancellation)
}

// RouteEntry is one installed forwarding-table row (§3). Distinct from
// packet.WireRouteEntry, which is the wire encoding of an Update entry.
type RouteEntry struct {
	Prefix      Prefix
	NextHop     RouterID
	Metric      metric.Cost
	InstalledAt time.Duration
}

// EventKind enumerates the subscription-interface event kinds (§6).
type EventKind int

const (
	HelloSent EventKind = iota
	HelloRecv
	UpdateSent
	UpdateRecv
	NeighborUp
	NeighborDown
	RouteInstalled
	RouteWithdrawn
	DualActive
	DualPassive
)

func (k EventKind) String() string {
	switch k {
	case HelloSent:
		return "HelloSent"
	case HelloRecv:
		return "HelloRecv"
	case UpdateSent:
		return "UpdateSent"
	case UpdateRecv:
		return "UpdateRecv"
	case NeighborUp:
		return "NeighborUp"
	case NeighborDown:
		return "NeighborDown"
	case RouteInstalled:
		return "RouteInstalled"
	case RouteWithdrawn:
		return "RouteWithdrawn"
	case DualActive:
		return "DualActive"
	case DualPassive:
		return "DualPassive"
	}
	return "?"
}

// Event is one append-only subscription record (§6). Payload is an
// immutable snapshot — never a pointer into live router state.
type Event struct {
	Time    time.Duration
	Kind    EventKind
	Router  RouterID
	Peer    RouterID // the neighbor involved, where applicable (0 otherwise)
	Prefix  *Prefix  // nil where not applicable
	Payload any      // metric.Metrics, RouteEntry, []packet.WireRouteEntry, metric.Cost, or nil
}

// Config aggregates the timing and weighting knobs the spec leaves as
// "configuration" (§4.2, §4.5, §4.6, §9 Open Question i).
type Config struct {
	HelloInterval     time.Duration
	HoldMultiplier    int // hold time = HelloInterval * HoldMultiplier
	ActiveTimeout     time.Duration
	MABSampleInterval time.Duration
	Epsilon           float64
	Weights           metric.Weights
	MTU               int
}

// DefaultConfig returns the spec's default timing constants.
func DefaultConfig() Config {
	return Config{
		HelloInterval:     5 * time.Second,
		HoldMultiplier:    3,
		ActiveTimeout:     16 * time.Second,
		MABSampleInterval: 2 * time.Second,
		Epsilon:           0.1,
		Weights:           metric.DefaultWeights(),
		MTU:               1500,
	}
}

func (c Config) holdTime() time.Duration {
	return c.HelloInterval * time.Duration(c.HoldMultiplier)
}
