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

// Package sim implements the discrete-event Scheduler/Network that drives
// a set of router.Router instances against a simulated clock (§4.7, §5):
// neighbor discovery, periodic Hello/MAB/Active-sweep timers, triggered
// Updates, and link failure/repair injection, all deterministic given a
// seed.
package sim

import (
	"fmt"
	"time"

	"github.com/adup-project/adup/metric"
	"github.com/adup-project/adup/packet"
	"github.com/adup-project/adup/router"
)

type RouterID = packet.RouterID
type Prefix = packet.Prefix

// Event is re-exported from router: the Scheduler only ever forwards what
// Routers emit, it never originates its own subscription events.
type Event = router.Event

// LinkDescription is one configured point-to-point link between two
// routers (§4.7). PropDelay defaults to 10ms and LossProb to 0 when zero.
type LinkDescription struct {
	A, B      RouterID
	Metrics   metric.Metrics
	PropDelay time.Duration
	LossProb  float64
}

// DefaultPropDelay is the spec's default link propagation delay (§4.7).
const DefaultPropDelay = 10 * time.Millisecond

// TopologyDescription is the configuration-time description of a
// simulated network (§6 "configure(topology, weights, seed)").
type TopologyDescription struct {
	Routers []RouterID
	Links   []LinkDescription
}

// ConfigError reports a problem with a TopologyDescription discovered at
// Configure time (§7: recoverable, surfaced to the configuration layer,
// never fatal to an in-progress simulation because there is no
// in-progress simulation yet).
type ConfigError struct {
	Reason string
	Cause  error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("sim: configuration error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("sim: configuration error: %s", e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// SchedulerError is fatal: a DUAL invariant violation surfaced by some
// Router, or an internal scheduling inconsistency. The caller (typically
// cmd/adupsim) must halt and report it, never mask it (§7).
type SchedulerError struct {
	Router RouterID
	Reason string
	Cause  error
}

func (e *SchedulerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("sim: scheduler error (router %s): %s: %v", e.Router, e.Reason, e.Cause)
	}
	return fmt.Sprintf("sim: scheduler error (router %s): %s", e.Router, e.Reason)
}

func (e *SchedulerError) Unwrap() error { return e.Cause }

// Controller is the external control-plane surface of §6: configure once,
// then start/stop the clock and inject link failures/repairs.
type Controller interface {
	Configure(topo TopologyDescription, w metric.Weights, seed int64) error
	Start(until time.Duration) error
	Stop()
	InjectLinkDown(a, b RouterID) error
	InjectLinkUp(a, b RouterID, m metric.Metrics) error
}

func linkKeyOf(a, b RouterID) linkKey {
	if a <= b {
		return linkKey{a, b}
	}
	return linkKey{b, a}
}

type linkKey struct{ a, b RouterID }

type link struct {
	a, b      RouterID
	metrics   metric.Metrics
	propDelay time.Duration
	lossProb  float64
	up        bool
}

// other returns the far end of the link from the perspective of one, or 0
// if one is not an endpoint of this link.
func (l *link) other(one RouterID) RouterID {
	switch one {
	case l.a:
		return l.b
	case l.b:
		return l.a
	default:
		return 0
	}
}
