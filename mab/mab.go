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

// Package mab implements the epsilon-greedy Multi-Armed Bandit tie-breaker
// DUAL consults when more than one feasible successor ties for the best
// composite cost (§4.5). One Learner tracks independent arm estimates per
// prefix, since a next-hop's observed quality toward one destination says
// nothing about its quality toward another.
package mab

import (
	"math/rand"

	"github.com/adup-project/adup/packet"
)

type RouterID = packet.RouterID
type Prefix = packet.Prefix

// DefaultEpsilon is the spec's default exploration rate (§4.5).
const DefaultEpsilon = 0.1

type arm struct {
	n int
	q float64
}

// Learner is an epsilon-greedy bandit, one independent arm set per prefix.
// Not safe for concurrent use — like every other core component, it is
// only ever touched from the owning Router's single event-loop goroutine
// (§5).
type Learner struct {
	epsilon float64
	arms    map[Prefix]map[RouterID]*arm
}

// NewLearner returns a Learner with the given exploration rate. Pass
// DefaultEpsilon for the spec default.
func NewLearner(epsilon float64) *Learner {
	return &Learner{epsilon: epsilon, arms: map[Prefix]map[RouterID]*arm{}}
}

func (l *Learner) armsFor(p Prefix) map[RouterID]*arm {
	a, ok := l.arms[p]
	if !ok {
		a = map[RouterID]*arm{}
		l.arms[p] = a
	}
	return a
}

func (a *arm) estimate() float64 {
	if a == nil {
		return 0 // unknown arms have q_estimate = 0 (§4.5)
	}
	return a.q
}

// Select chooses a next-hop among candidates for prefix (§4.5). Candidates
// must be pre-filtered to feasible successors by the caller — the bandit
// never overrides DUAL correctness, only breaks ties among options DUAL
// already proved safe. rng must be the simulation's single seeded source
// (§5, §9) to keep runs reproducible.
//
// Select is defined for len(candidates) <= 1 too (returning the sole
// candidate, or 0 for none) purely for caller convenience; per spec the
// Router should only bother calling it when there is an actual tie.
func (l *Learner) Select(p Prefix, candidates []RouterID, rng *rand.Rand) RouterID {
	if len(candidates) == 0 {
		return 0
	}
	if len(candidates) == 1 {
		return candidates[0]
	}

	if rng.Float64() < l.epsilon {
		return candidates[rng.Intn(len(candidates))]
	}

	arms := l.arms[p]
	best := candidates[0]
	bestQ := arms[best].estimate()

	for _, c := range candidates[1:] {
		q := arms[c].estimate()
		if q > bestQ || (q == bestQ && c < best) {
			best, bestQ = c, q
		}
	}
	return best
}

// Observe records a quality sample for neighbor as a candidate successor
// of prefix, updating its running mean estimate (§4.5): reward is
// typically -composite_cost, sampled every MABSampleInterval (default 2s,
// §9 Open Question ii).
func (l *Learner) Observe(p Prefix, neighbor RouterID, reward float64) {
	a, ok := l.armsFor(p)[neighbor]
	if !ok {
		a = &arm{}
		l.armsFor(p)[neighbor] = a
	}
	a.n++
	a.q += (reward - a.q) / float64(a.n)
}

// Pulls returns how many times neighbor has been observed for prefix,
// mainly for tests exercising the convergence property (§8 property 6).
func (l *Learner) Pulls(p Prefix, neighbor RouterID) int {
	a, ok := l.arms[p][neighbor]
	if !ok {
		return 0
	}
	return a.n
}
