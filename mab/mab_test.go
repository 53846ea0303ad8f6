package mab

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func pfx() Prefix { return Prefix{Addr: 1, Length: 24} }

func TestSelectSingleCandidateNoRNGConsumed(t *testing.T) {
	l := NewLearner(DefaultEpsilon)
	rng := rand.New(rand.NewSource(1))

	got := l.Select(pfx(), []RouterID{7}, rng)
	require.Equal(t, RouterID(7), got)

	// rng must still be at its first draw.
	require.Equal(t, rand.New(rand.NewSource(1)).Int63(), rng.Int63())
}

func TestSelectPrefersHigherEstimate(t *testing.T) {
	l := NewLearner(0) // epsilon=0: pure exploitation, deterministic
	p := pfx()

	l.Observe(p, 1, -100)
	l.Observe(p, 2, -10) // better (less negative) reward -> preferred

	rng := rand.New(rand.NewSource(1))
	got := l.Select(p, []RouterID{1, 2}, rng)
	require.Equal(t, RouterID(2), got)
}

func TestSelectTieBreaksByLowestID(t *testing.T) {
	l := NewLearner(0)
	p := pfx()
	// Neither arm pulled: both estimates are 0, tie broken by lowest ID.
	rng := rand.New(rand.NewSource(1))
	got := l.Select(p, []RouterID{5, 2, 9}, rng)
	require.Equal(t, RouterID(2), got)
}

func TestObserveIncrementalMean(t *testing.T) {
	l := NewLearner(DefaultEpsilon)
	p := pfx()

	l.Observe(p, 1, 10)
	l.Observe(p, 1, 20)
	l.Observe(p, 1, 30)

	require.Equal(t, 3, l.Pulls(p, 1))
	require.InDelta(t, 20.0, estimateOf(l, p, 1), 1e-9)
}

func estimateOf(l *Learner, p Prefix, r RouterID) float64 {
	return l.arms[p][r].estimate()
}

// Property 6 (§8): epsilon-greedy selection frequency of non-best arms
// converges within statistical tolerance over >=10000 pulls. Exploration
// draws uniformly from all candidates (the best arm included), so with k
// arms the non-best frequency is epsilon*(k-1)/k.
func TestEpsilonConvergence(t *testing.T) {
	const epsilon = 0.1
	const pulls = 20000

	l := NewLearner(epsilon)
	p := pfx()

	// Arm 1 is clearly best, arm 2 clearly worse, so exploitation always
	// picks 1 and only exploration should ever pick 2.
	l.Observe(p, 1, -1)
	l.Observe(p, 2, -1000)

	rng := rand.New(rand.NewSource(42))
	var nonBest int
	for i := 0; i < pulls; i++ {
		got := l.Select(p, []RouterID{1, 2}, rng)
		if got != 1 {
			nonBest++
		}
	}

	freq := float64(nonBest) / float64(pulls)
	require.InDelta(t, epsilon/2, freq, 0.02, "non-best arm frequency should track epsilon*(k-1)/k within tolerance")
}
