package topology

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/adup-project/adup/metric"
)

func p(addr uint32, length uint8) Prefix { return Prefix{Addr: addr, Length: length} }

func TestInsertLookupRemove(t *testing.T) {
	tt := New()
	tt.Insert(p(1, 24), 2, 100, 10)

	e, ok := tt.Lookup(p(1, 24), 2)
	require.True(t, ok)
	require.Equal(t, metric.Cost(100), e.RD)
	require.Equal(t, metric.Cost(110), e.ComputedDistance())

	tt.Remove(p(1, 24), 2)
	_, ok = tt.Lookup(p(1, 24), 2)
	require.False(t, ok)
}

func TestNoDuplicateEntryOnReinsert(t *testing.T) {
	tt := New()
	tt.Insert(p(1, 24), 2, 100, 10)
	tt.Insert(p(1, 24), 2, 50, 10) // update, not a second row

	require.Len(t, tt.Entries(p(1, 24)), 1)
	e, _ := tt.Lookup(p(1, 24), 2)
	require.Equal(t, metric.Cost(50), e.RD)
}

func TestFindSuccessorsAppliesFeasibilityCondition(t *testing.T) {
	tt := New()
	pfx := p(1, 24)

	tt.Insert(pfx, 1, 100, 10) // RD 100 < FD 200: feasible, cd=110
	tt.Insert(pfx, 2, 250, 1)  // RD 250 >= FD 200: NOT feasible
	tt.Insert(pfx, 3, 50, 50)  // RD 50 < FD 200: feasible, cd=100 (best)

	feasible, best := tt.FindSuccessors(pfx, 200)
	require.Equal(t, metric.Cost(100), best)
	require.Len(t, feasible, 1)
	require.Equal(t, RouterID(3), feasible[0].Neighbor)
}

func TestFindSuccessorsReturnsAllTiedMinimums(t *testing.T) {
	tt := New()
	pfx := p(1, 24)

	tt.Insert(pfx, 1, 50, 50)  // cd=100
	tt.Insert(pfx, 2, 90, 10)  // cd=100, tie
	tt.Insert(pfx, 3, 10, 95)  // cd=105, not tied

	feasible, best := tt.FindSuccessors(pfx, 200)
	require.Equal(t, metric.Cost(100), best)
	require.Len(t, feasible, 2)
}

func TestFindSuccessorsEmptyWhenNoneFeasible(t *testing.T) {
	tt := New()
	pfx := p(1, 24)
	tt.Insert(pfx, 1, 300, 10)

	feasible, best := tt.FindSuccessors(pfx, 200)
	require.Empty(t, feasible)
	require.Equal(t, metric.Infinity, best)
}

func TestRemoveNeighborAffectsAllPrefixes(t *testing.T) {
	tt := New()
	tt.Insert(p(1, 24), 9, 10, 10)
	tt.Insert(p(2, 24), 9, 10, 10)
	tt.Insert(p(2, 24), 8, 10, 10)

	affected := tt.RemoveNeighbor(9)
	require.ElementsMatch(t, []Prefix{p(1, 24), p(2, 24)}, affected)

	require.Empty(t, tt.Entries(p(1, 24)))
	require.Len(t, tt.Entries(p(2, 24)), 1)
}

func TestPrefixesDeterministicOrder(t *testing.T) {
	tt := New()
	tt.Insert(p(3, 24), 1, 10, 10)
	tt.Insert(p(1, 24), 1, 10, 10)
	tt.Insert(p(2, 24), 1, 10, 10)

	require.Equal(t, []Prefix{p(1, 24), p(2, 24), p(3, 24)}, tt.Prefixes())
}
