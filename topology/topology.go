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

// Package topology holds the per-router Topology Table: for every prefix
// ever heard of, the set of (neighbor, reported distance, link cost)
// triples a router has learned from its neighbors (§3, §4.3).
package topology

import (
	"sort"

	"github.com/google/btree"

	"github.com/adup-project/adup/metric"
	"github.com/adup-project/adup/packet"
)

type RouterID = packet.RouterID
type Prefix = packet.Prefix

// Entry is one (prefix, neighbor) triple (§3).
type Entry struct {
	Neighbor RouterID
	RD       metric.Cost // reported distance
	LinkCost metric.Cost
}

// ComputedDistance is RD + link_cost (§3, §4.3), saturating rather than
// overflowing.
func (e Entry) ComputedDistance() metric.Cost {
	return metric.Add(e.RD, e.LinkCost)
}

// Error enumerates the recoverable configuration-layer failures of §7.
type Error int

const (
	UnknownNeighbor Error = iota
	DuplicateLink
)

func (e Error) Error() string {
	switch e {
	case UnknownNeighbor:
		return "topology: unknown neighbor"
	case DuplicateLink:
		return "topology: duplicate link"
	}
	return "topology: error"
}

type prefixNode struct {
	prefix    Prefix
	neighbors map[RouterID]Entry
}

func lessPrefixNode(a, b *prefixNode) bool {
	return a.prefix.Less(b.prefix)
}

// Table is one router's Topology Table. Not safe for concurrent use without
// external synchronization — the Router serializes all access through its
// own event loop (§5).
type Table struct {
	tree *btree.BTreeG[*prefixNode]
}

// New returns an empty Topology Table.
func New() *Table {
	return &Table{tree: btree.NewG(32, lessPrefixNode)}
}

func (t *Table) node(p Prefix, create bool) *prefixNode {
	key := &prefixNode{prefix: p}
	if n, ok := t.tree.Get(key); ok {
		return n
	}
	if !create {
		return nil
	}
	n := &prefixNode{prefix: p, neighbors: map[RouterID]Entry{}}
	t.tree.ReplaceOrInsert(n)
	return n
}

// Insert records or updates the (prefix, neighbor) entry (§4.3). A
// duplicate (prefix, neighbor) entry is an update, never a second row —
// the invariant "no duplicate (prefix, neighbor) entry" is preserved by
// construction via the neighbor map.
func (t *Table) Insert(p Prefix, neighbor RouterID, rd, linkCost metric.Cost) {
	n := t.node(p, true)
	n.neighbors[neighbor] = Entry{Neighbor: neighbor, RD: rd, LinkCost: linkCost}
}

// Remove deletes the (prefix, neighbor) entry, e.g. on withdrawal or
// neighbor-down (§3 Lifecycle).
func (t *Table) Remove(p Prefix, neighbor RouterID) {
	n := t.node(p, false)
	if n == nil {
		return
	}
	delete(n.neighbors, neighbor)
	if len(n.neighbors) == 0 {
		t.tree.Delete(n)
	}
}

// RemoveNeighbor drops every entry naming neighbor, across all prefixes —
// used when a neighbor transitions to Down (§3 Lifecycle). Returns the
// prefixes that were affected so the caller can re-drive DUAL for each.
func (t *Table) RemoveNeighbor(neighbor RouterID) []Prefix {
	var affected []Prefix
	var empty []*prefixNode

	t.tree.Ascend(func(n *prefixNode) bool {
		if _, ok := n.neighbors[neighbor]; ok {
			delete(n.neighbors, neighbor)
			affected = append(affected, n.prefix)
			if len(n.neighbors) == 0 {
				empty = append(empty, n)
			}
		}
		return true
	})

	for _, n := range empty {
		t.tree.Delete(n)
	}

	return affected
}

// Lookup returns the entry for (prefix, neighbor), if any.
func (t *Table) Lookup(p Prefix, neighbor RouterID) (Entry, bool) {
	n := t.node(p, false)
	if n == nil {
		return Entry{}, false
	}
	e, ok := n.neighbors[neighbor]
	return e, ok
}

// Entries returns every neighbor entry known for prefix, sorted by
// neighbor ID for deterministic iteration.
func (t *Table) Entries(p Prefix) []Entry {
	n := t.node(p, false)
	if n == nil {
		return nil
	}
	out := make([]Entry, 0, len(n.neighbors))
	for _, e := range n.neighbors {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Neighbor < out[j].Neighbor })
	return out
}

// FindSuccessors applies the Feasibility Condition (RD < FD strictly) and
// returns every feasible successor tied for the minimum computed distance,
// plus that minimum (§4.3). If no feasible successor exists, feasible is
// empty and best is metric.Infinity.
func (t *Table) FindSuccessors(p Prefix, fd metric.Cost) (feasible []Entry, best metric.Cost) {
	best = metric.Infinity

	for _, e := range t.Entries(p) {
		if e.RD >= fd {
			continue // not feasible: RD must be strictly less than FD
		}

		cd := e.ComputedDistance()
		switch {
		case cd < best:
			best = cd
			feasible = []Entry{e}
		case cd == best:
			feasible = append(feasible, e)
		}
	}

	return feasible, best
}

// MinComputedDistance returns the smallest computed distance among ALL
// known neighbor entries for prefix, feasible or not — used by DUAL as the
// distance it advertises in the Query it sends on entering Active (§4.4).
func (t *Table) MinComputedDistance(p Prefix) (best metric.Cost, any bool) {
	best = metric.Infinity
	for _, e := range t.Entries(p) {
		cd := e.ComputedDistance()
		if cd < best {
			best = cd
			any = true
		}
	}
	return best, any
}

// Prefixes returns every prefix the table currently has at least one
// neighbor entry for, in deterministic (address, length) order.
func (t *Table) Prefixes() []Prefix {
	var out []Prefix
	t.tree.Ascend(func(n *prefixNode) bool {
		out = append(out, n.prefix)
		return true
	})
	return out
}
