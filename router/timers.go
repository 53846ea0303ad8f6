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

	"github.com/adup-project/adup/log"
)

// OnTimer fires whatever the owner previously scheduled via scheduleAt
// (§4.2, §4.4, §4.5). Per-neighbor Hold timers carry the generation they
// were scheduled with; a stale one (superseded by a later Hello) is
// silently discarded (§5 Cancellation).
func (r *Router) OnTimer(now time.Duration, kind TimerKind, neighbor RouterID, generation int) {
	if r.stopped {
		return
	}

	switch kind {
	case TimerHello:
		r.sendHelloToAll(now)
		r.scheduleAt(now+r.cfg.HelloInterval, TimerHello, 0, 0)

	case TimerHold:
		r.onHoldExpiry(now, neighbor, generation)

	case TimerMABSample:
		r.sampleMAB(now)
		r.scheduleAt(now+r.cfg.MABSampleInterval, TimerMABSample, 0, 0)

	case TimerActiveSweep:
		r.sweepActiveTimeouts(now)
		r.scheduleAt(now+time.Second, TimerActiveSweep, 0, 0)
	}
}

func (r *Router) onHoldExpiry(now time.Duration, neighbor RouterID, generation int) {
	ne, ok := r.neighbors[neighbor]
	if !ok || ne.generation != generation || ne.State != Up {
		return // superseded by a later Hello, or already Down
	}
	r.logger.WARNING("neighbor", log.KV{"router": r.id, "neighbor": neighbor, "reason": "hold timer expired"})
	r.neighborDown(now, neighbor)
}

// sampleMAB feeds the bandit one quality sample per (prefix, candidate
// neighbor) for every prefix with a currently installed route, using the
// reward convention reward = -composite_cost (§4.5, §9 Open Question ii).
func (r *Router) sampleMAB(now time.Duration) {
	for p := range r.routes {
		for _, e := range r.topo.Entries(p) {
			reward := -float64(uint32(e.ComputedDistance()))
			r.mabL.Observe(p, e.Neighbor, reward)
		}
	}
}

func (r *Router) sweepActiveTimeouts(now time.Duration) {
	for _, p := range r.dualM.Prefixes() {
		intents, err := r.dualM.CheckActiveTimeout(p, r.topo, r.tieBreakFor(p), now)
		if err != nil {
			r.fatal(err)
			return
		}
		r.applyIntents(now, p, intents)
	}
}
