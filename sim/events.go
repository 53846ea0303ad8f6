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
	"time"

	"github.com/google/btree"

	"github.com/adup-project/adup/metric"
	"github.com/adup-project/adup/router"
)

type eventKind int

const (
	evDeliver eventKind = iota
	evTimer
	evLinkDown
	evLinkUp
)

// scheduledEvent is one entry in the Scheduler's central priority queue,
// keyed by (time, seq) so equal-time events are FIFO in scheduling order
// (§4.7, §5 Ordering guarantees).
type scheduledEvent struct {
	time time.Duration
	seq  uint64
	kind eventKind

	// evDeliver
	from, to RouterID
	frame    []byte

	// evTimer
	router     RouterID
	timerKind  router.TimerKind
	neighbor   RouterID
	generation int

	// evLinkDown / evLinkUp
	a, b    RouterID
	metrics metric.Metrics
}

func lessEvent(x, y scheduledEvent) bool {
	if x.time != y.time {
		return x.time < y.time
	}
	return x.seq < y.seq
}

func newEventQueue() *btree.BTreeG[scheduledEvent] {
	return btree.NewG(32, lessEvent)
}
