package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/adup-project/adup/metric"
)

func TestLoadTopologyFile(t *testing.T) {
	topo, weights, err := loadTopologyFile("testdata/line.json")
	require.NoError(t, err)
	require.Equal(t, metric.DefaultWeights(), weights)
	require.Len(t, topo.Routers, 3)
	require.Len(t, topo.Links, 2)
	require.Equal(t, uint16(1000), topo.Links[0].Metrics.DelayUs)
	require.Equal(t, int64(10), topo.Links[0].PropDelay.Milliseconds())
}

func TestLoadTopologyFileMissing(t *testing.T) {
	_, _, err := loadTopologyFile("testdata/does-not-exist.json")
	require.Error(t, err)
}
