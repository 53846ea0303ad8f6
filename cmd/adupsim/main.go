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

// Command adupsim is the CLI collaborator that drives the ADUP simulation
// core against a topology description (§1, §6 of SPEC_FULL.md): it builds a
// sim.TopologyDescription from a JSON file, runs the Scheduler for a fixed
// simulated duration, and streams the subscription Events to stdout as
// newline-delimited JSON, the same shape as the teacher's cmd/bgp.go
// dumping bgp.Session.Status() with json.MarshalIndent.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/adup-project/adup/log"
	"github.com/adup-project/adup/metric"
	"github.com/adup-project/adup/sim"
)

// Exit codes, per SPEC_FULL.md §6.
const (
	exitOK       = 0
	exitConfig   = 2
	exitSchedErr = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -topology <file.json> [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	topologyPath := flag.String("topology", "", "path to a topology description JSON file (required)")
	until := flag.Duration("until", 60*time.Second, "simulated end time")
	seed := flag.Int64("seed", 1, "seed for the scheduler's shared RNG")
	failAt := flag.Duration("fail-at", 0, "if set with -fail-a/-fail-b, inject a link failure at this simulated time")
	failA := flag.Uint("fail-a", 0, "router A of the link to fail at -fail-at")
	failB := flag.Uint("fail-b", 0, "router B of the link to fail at -fail-at")
	verbose := flag.Bool("v", false, "log NOTICE/WARNING/ERR diagnostics to stderr via logrus (info level; DEBUG lines are not shown)")

	flag.Parse()

	if *topologyPath == "" {
		fmt.Fprintln(os.Stderr, "adupsim: -topology is required")
		flag.Usage()
		return exitConfig
	}

	topo, weights, err := loadTopologyFile(*topologyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "adupsim: %v\n", err)
		return exitConfig
	}

	var logger log.Log = log.Nil{}
	if *verbose {
		logger = log.NewLogrus()
	}

	s := sim.New(logger)
	if err := s.Configure(topo, weights, *seed); err != nil {
		fmt.Fprintf(os.Stderr, "adupsim: %v\n", err)
		return exitConfig
	}

	if *failAt > 0 {
		s.ScheduleLinkDown(*failAt, sim.RouterID(*failA), sim.RouterID(*failB))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		enc := json.NewEncoder(os.Stdout)
		for ev := range s.Events() {
			_ = enc.Encode(ev)
		}
	}()

	runErr := s.Start(*until)
	s.Stop()
	<-done

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "adupsim: %v\n", runErr)
		return exitSchedErr
	}
	return exitOK
}

// topologyFile is the JSON shape cmd/adupsim parses from -topology.
// File/flag parsing is the CLI collaborator's job (SPEC_FULL.md §3,
// Non-goals); sim.TopologyDescription itself takes no file format opinion.
type topologyFile struct {
	Routers []uint32     `json:"routers"`
	Links   []linkFile   `json:"links"`
	Weights *weightsFile `json:"weights,omitempty"`
}

type linkFile struct {
	A             uint32  `json:"a"`
	B             uint32  `json:"b"`
	DelayUs       uint16  `json:"delay_us"`
	JitterUs      uint16  `json:"jitter_us"`
	LossPermille  uint8   `json:"loss_permille"`
	CongestionPct uint8   `json:"congestion_pct"`
	Stability     uint16  `json:"stability"`
	PropDelayMs   int64   `json:"prop_delay_ms"`
	LossProb      float64 `json:"loss_prob"`
}

type weightsFile struct {
	WDelay      float64 `json:"w_delay"`
	WJitter     float64 `json:"w_jitter"`
	WLoss       float64 `json:"w_loss"`
	WCongestion float64 `json:"w_congestion"`
	WStability  float64 `json:"w_stability"`
}

func loadTopologyFile(path string) (sim.TopologyDescription, metric.Weights, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return sim.TopologyDescription{}, metric.Weights{}, fmt.Errorf("reading topology file: %w", err)
	}

	var tf topologyFile
	if err := json.Unmarshal(raw, &tf); err != nil {
		return sim.TopologyDescription{}, metric.Weights{}, fmt.Errorf("parsing topology file: %w", err)
	}

	topo := sim.TopologyDescription{
		Routers: make([]sim.RouterID, len(tf.Routers)),
		Links:   make([]sim.LinkDescription, len(tf.Links)),
	}
	for i, r := range tf.Routers {
		topo.Routers[i] = sim.RouterID(r)
	}
	for i, l := range tf.Links {
		topo.Links[i] = sim.LinkDescription{
			A: sim.RouterID(l.A),
			B: sim.RouterID(l.B),
			Metrics: metric.Metrics{
				DelayUs:       l.DelayUs,
				JitterUs:      l.JitterUs,
				LossPermille:  l.LossPermille,
				CongestionPct: l.CongestionPct,
				Stability:     l.Stability,
			},
			PropDelay: time.Duration(l.PropDelayMs) * time.Millisecond,
			LossProb:  l.LossProb,
		}
	}

	weights := metric.DefaultWeights()
	if tf.Weights != nil {
		weights = metric.Weights{
			WDelay:      tf.Weights.WDelay,
			WJitter:     tf.Weights.WJitter,
			WLoss:       tf.Weights.WLoss,
			WCongestion: tf.Weights.WCongestion,
			WStability:  tf.Weights.WStability,
		}
	}

	return topo, weights, nil
}
