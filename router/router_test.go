package router

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/adup-project/adup/metric"
	"github.com/adup-project/adup/packet"
)

// harness wires two Routers' send/scheduleAt callbacks together directly,
// bypassing any scheduler: tests drive time and delivery by hand.
type harness struct {
	routers map[RouterID]*Router
	events  map[RouterID][]Event
	timers  map[RouterID][]timerCall
}

type timerCall struct {
	at         time.Duration
	kind       TimerKind
	neighbor   RouterID
	generation int
}

func newHarness() *harness {
	return &harness{
		routers: map[RouterID]*Router{},
		events:  map[RouterID][]Event{},
		timers:  map[RouterID][]timerCall{},
	}
}

func (h *harness) add(id RouterID, peers map[RouterID]metric.Metrics) *Router {
	cfg := DefaultConfig()
	rng := rand.New(rand.NewSource(1))
	r := New(id, cfg, nil, rng, peers,
		func(ev Event) { h.events[id] = append(h.events[id], ev) },
		func(now time.Duration, from, to RouterID, frame []byte) {
			if dst := h.routers[to]; dst != nil {
				dst.OnPacket(now, from, frame)
			}
		},
		func(at time.Duration, kind TimerKind, neighbor RouterID, generation int) {
			h.timers[id] = append(h.timers[id], timerCall{at, kind, neighbor, generation})
		},
	)
	h.routers[id] = r
	return r
}

func (h *harness) lastEvent(id RouterID, kind EventKind) (Event, bool) {
	evs := h.events[id]
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Kind == kind {
			return evs[i], true
		}
	}
	return Event{}, false
}

func lowMetrics() metric.Metrics {
	return metric.Metrics{DelayUs: 100, JitterUs: 10, LossPermille: 0, CongestionPct: 0, Stability: 1000}
}

func TestHelloExchangeBringsNeighborUp(t *testing.T) {
	h := newHarness()
	a := h.add(1, map[RouterID]metric.Metrics{2: lowMetrics()})
	b := h.add(2, map[RouterID]metric.Metrics{1: lowMetrics()})

	a.sendHelloToAll(0)
	b.sendHelloToAll(0)

	require.Equal(t, Up, a.neighbors[2].State)
	require.Equal(t, Up, b.neighbors[1].State)

	_, ok := h.lastEvent(1, NeighborUp)
	require.True(t, ok)
}

func TestUpdateInstallsRoute(t *testing.T) {
	h := newHarness()
	a := h.add(1, map[RouterID]metric.Metrics{2: lowMetrics()})
	b := h.add(2, map[RouterID]metric.Metrics{1: lowMetrics()})

	a.sendHelloToAll(0)
	b.sendHelloToAll(0)

	p := packet.Prefix{Addr: 0x0A000000, Length: 8}
	b.onUpdate(1*time.Second, 1, []packet.WireRouteEntry{{Prefix: p, RD: 50}})

	route, ok := b.routes[p]
	require.True(t, ok)
	require.Equal(t, RouterID(1), route.NextHop)

	ev, ok := h.lastEvent(2, RouteInstalled)
	require.True(t, ok)
	require.Equal(t, p, *ev.Prefix)
}

func TestOnUpdateFromUnknownNeighborIsDropped(t *testing.T) {
	h := newHarness()
	a := h.add(1, nil)

	p := packet.Prefix{Addr: 1, Length: 24}
	a.onUpdate(0, 99, []packet.WireRouteEntry{{Prefix: p, RD: 10}})

	require.Empty(t, a.routes)
	_, ok := a.topo.Lookup(p, 99)
	require.False(t, ok)
}

func TestLinkDownWithdrawsRoute(t *testing.T) {
	h := newHarness()
	a := h.add(1, map[RouterID]metric.Metrics{2: lowMetrics()})
	b := h.add(2, map[RouterID]metric.Metrics{1: lowMetrics()})

	a.sendHelloToAll(0)
	b.sendHelloToAll(0)

	p := packet.Prefix{Addr: 0x0A000000, Length: 8}
	b.onUpdate(1*time.Second, 1, []packet.WireRouteEntry{{Prefix: p, RD: 50}})
	require.Contains(t, b.routes, p)

	b.OnLinkDown(2*time.Second, 1)

	require.NotContains(t, b.routes, p)
	require.Equal(t, Down, b.neighbors[1].State)

	_, ok := h.lastEvent(2, RouteWithdrawn)
	require.True(t, ok)
}

func TestHoldTimerExpiryTakesNeighborDown(t *testing.T) {
	h := newHarness()
	a := h.add(1, map[RouterID]metric.Metrics{2: lowMetrics()})

	a.onHello(0, 2, lowMetrics())
	require.Equal(t, Up, a.neighbors[2].State)

	gen := a.neighbors[2].generation
	a.OnTimer(a.cfg.holdTime(), TimerHold, 2, gen)

	require.Equal(t, Down, a.neighbors[2].State)
}

func TestStaleHoldTimerIsIgnored(t *testing.T) {
	h := newHarness()
	a := h.add(1, map[RouterID]metric.Metrics{2: lowMetrics()})

	a.onHello(0, 2, lowMetrics())
	staleGen := a.neighbors[2].generation
	a.onHello(1*time.Second, 2, lowMetrics()) // refreshes, bumps generation

	a.OnTimer(a.cfg.holdTime(), TimerHold, 2, staleGen)

	require.Equal(t, Up, a.neighbors[2].State, "a stale hold fire must not take a refreshed neighbor down")
}

func TestMABSampleObservesInstalledRouteCandidates(t *testing.T) {
	h := newHarness()
	a := h.add(1, nil)

	p := packet.Prefix{Addr: 1, Length: 24}
	a.topo.Insert(p, 2, 100, 10)
	a.routes[p] = RouteEntry{Prefix: p, NextHop: 2, Metric: 110}

	a.sampleMAB(0)

	require.Equal(t, 1, a.mabL.Pulls(p, 2))
}
