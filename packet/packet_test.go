package packet

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/adup-project/adup/metric"
)

func sampleMetrics() metric.Metrics {
	return metric.Metrics{DelayUs: 1000, JitterUs: 10, LossPermille: 0, CongestionPct: 0, Stability: 100}
}

func TestHelloRoundTrip(t *testing.T) {
	h := &Hello{Metrics: sampleMetrics()}

	b, err := Encode(h)
	require.NoError(t, err)
	require.Len(t, b, helloLen)

	p, err := Decode(b, 0)
	require.NoError(t, err)

	got, ok := p.(*Hello)
	require.True(t, ok)
	require.Equal(t, h.Metrics, got.Metrics)
}

func TestUpdateRoundTrip(t *testing.T) {
	u := &Update{Entries: []WireRouteEntry{
		{Prefix: Prefix{Addr: 0xC0A80100, Length: 24}, Metrics: sampleMetrics(), RD: 2200},
		{Prefix: Prefix{Addr: 0xC0A80200, Length: 24}, Metrics: sampleMetrics(), RD: metric.Infinity},
	}}

	b, err := Encode(u)
	require.NoError(t, err)
	require.Len(t, b, updateHdrLen+2*routeEntryLen)

	p, err := Decode(b, 0)
	require.NoError(t, err)

	got, ok := p.(*Update)
	require.True(t, ok)
	require.Equal(t, u.Entries, got.Entries)
}

func TestUpdateRoundTripEmpty(t *testing.T) {
	u := &Update{}
	b, err := Encode(u)
	require.NoError(t, err)

	p, err := Decode(b, 0)
	require.NoError(t, err)
	got := p.(*Update)
	require.Empty(t, got.Entries)
}

// S4 — flipping a bit in a valid frame must yield BadChecksum, not a
// silently-wrong decode.
func TestDecodeRejectsBadChecksum(t *testing.T) {
	h := &Hello{Metrics: sampleMetrics()}
	b, err := Encode(h)
	require.NoError(t, err)

	b[4] ^= 0x01 // flip one bit in the jitter field, leaving the checksum stale

	_, err = Decode(b, 0)
	require.Error(t, err)

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, BadChecksum, pe.Kind)
}

func TestDecodeRejectsBadVersion(t *testing.T) {
	h := &Hello{Metrics: sampleMetrics()}
	b, err := Encode(h)
	require.NoError(t, err)

	b[0] = (2 << 4) | byte(OpHello)

	_, err = Decode(b, 0)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, UnsupportedVersion, pe.Kind)
}

func TestDecodeRejectsUnknownOpcode(t *testing.T) {
	h := &Hello{Metrics: sampleMetrics()}
	b, err := Encode(h)
	require.NoError(t, err)

	b[0] = (Version << 4) | 0x07

	_, err = Decode(b, 0)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, UnknownOpCode, pe.Kind)
}

func TestDecodeRejectsTruncatedHello(t *testing.T) {
	h := &Hello{Metrics: sampleMetrics()}
	b, err := Encode(h)
	require.NoError(t, err)

	_, err = Decode(b[:len(b)-1], 0)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, Truncated, pe.Kind)
}

func TestDecodeRejectsNonIntegralUpdate(t *testing.T) {
	u := &Update{Entries: []WireRouteEntry{{Prefix: Prefix{Addr: 1, Length: 32}, Metrics: sampleMetrics()}}}
	b, err := Encode(u)
	require.NoError(t, err)

	_, err = Decode(b[:len(b)-1], 0)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, Truncated, pe.Kind)
}

func TestDecodeRejectsOversizeFrame(t *testing.T) {
	h := &Hello{Metrics: sampleMetrics()}
	b, err := Encode(h)
	require.NoError(t, err)

	_, err = Decode(b, 4)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, MTUExceeded, pe.Kind)
}
