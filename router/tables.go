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
	"cmp"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/adup-project/adup/dual"
)

// RoutingTable returns a sorted, copy-on-read snapshot of every currently
// installed route (§4.6, §5: "immutable snapshots").
func (r *Router) RoutingTable() []RouteEntry {
	out := maps.Values(r.routes)
	slices.SortFunc(out, func(a, b RouteEntry) int {
		if a.Prefix.Less(b.Prefix) {
			return -1
		}
		if b.Prefix.Less(a.Prefix) {
			return 1
		}
		return 0
	})
	return out
}

// NeighborTable returns a sorted, copy-on-read snapshot of every neighbor
// this router has ever heard a Hello from (§3, §4.6).
func (r *Router) NeighborTable() []NeighborEntry {
	out := make([]NeighborEntry, 0, len(r.neighbors))
	for _, ne := range r.neighbors {
		out = append(out, *ne)
	}
	slices.SortFunc(out, func(a, b NeighborEntry) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// DualState returns a copy-on-read snapshot of the DUAL state for prefix
// p, mainly for tests and diagnostics.
func (r *Router) DualState(p Prefix) dual.PrefixState {
	return r.dualM.State(p)
}

// MABPulls returns how many quality samples the MAB learner has observed
// for neighbor as a candidate successor of p, mainly for tests exercising
// the convergence property (§8 property 6).
func (r *Router) MABPulls(p Prefix, neighbor RouterID) int {
	return r.mabL.Pulls(p, neighbor)
}
