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

// Package packet implements the ADUP wire codec: Hello and Update frames,
// their checksum, and the fundamental RouterID/Prefix identifiers that the
// rest of the core is built from.
//
// https://www.rfc-editor.org/rfc/rfc7868 (EIGRP) describes a similar
// diffusing-update wire protocol; ADUP's frames are not wire-compatible
// with it, only inspired by it (spec Non-goals rule out interop).
package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/adup-project/adup/metric"
)

// RouterID uniquely identifies a router in the simulation; zero is never a
// valid ID (§3).
type RouterID uint32

func (r RouterID) String() string { return fmt.Sprintf("R%d", uint32(r)) }

// Prefix is a (network address, prefix length) destination (§3).
type Prefix struct {
	Addr   uint32
	Length uint8
}

func (p Prefix) String() string {
	a := p.Addr
	return fmt.Sprintf("%d.%d.%d.%d/%d", byte(a>>24), byte(a>>16), byte(a>>8), byte(a), p.Length)
}

// Less gives Prefix a total order so topology/routing-table snapshots can
// be sorted deterministically.
func (p Prefix) Less(o Prefix) bool {
	if p.Addr != o.Addr {
		return p.Addr < o.Addr
	}
	return p.Length < o.Length
}

// Version is the only ADUP wire version this codec understands (§4.1).
const Version = 1

// OpCode distinguishes Hello from Update frames (§3, §6).
type OpCode uint8

const (
	OpHello  OpCode = 1
	OpUpdate OpCode = 2
)

const (
	helloLen       = 12
	updateHdrLen   = 4
	routeEntryLen  = 20
	defaultMTU     = 1500
)

// ErrorKind enumerates the recoverable parse failures of §4.1/§7.
type ErrorKind int

const (
	BadChecksum ErrorKind = iota
	UnsupportedVersion
	UnknownOpCode
	Truncated
	MTUExceeded
)

func (k ErrorKind) String() string {
	switch k {
	case BadChecksum:
		return "bad checksum"
	case UnsupportedVersion:
		return "unsupported version"
	case UnknownOpCode:
		return "unknown opcode"
	case Truncated:
		return "truncated"
	case MTUExceeded:
		return "mtu exceeded"
	}
	return "unknown parse error"
}

// ParseError is returned by Decode on any malformed frame (§4.1, §7). The
// caller is expected to log and drop the packet, never panic.
type ParseError struct {
	Kind ErrorKind
}

func (e *ParseError) Error() string { return "packet: " + e.Kind.String() }

func parseErr(k ErrorKind) error { return &ParseError{Kind: k} }

// Packet is the decoded, tagged-variant form of a frame (§3, design note
// in §9: "replace [dynamic dispatch] with a tagged variant").
type Packet interface {
	OpCode() OpCode
}

// Hello carries the sender's outbound link metrics on this interface
// (§6).
type Hello struct {
	Metrics metric.Metrics
}

func (Hello) OpCode() OpCode { return OpHello }

// WireRouteEntry is one destination advertisement inside an Update frame
// (§3, §6). Named distinctly from the routing table's RouteEntry to avoid
// the clash the spec's glossary doesn't disambiguate.
type WireRouteEntry struct {
	Prefix  Prefix
	Metrics metric.Metrics
	RD      metric.Cost // reported composite distance
}

// Update is an Update/Query/Reply frame — all three DUAL message kinds
// share the Update wire format (§4.4); the distinction is purely in
// how the Router/DUAL layer interprets it, not in the bytes on the wire.
type Update struct {
	Entries []WireRouteEntry
}

func (Update) OpCode() OpCode { return OpUpdate }

// Encode serializes p into its wire form, computing and stamping the
// checksum (§4.1).
func Encode(p Packet) ([]byte, error) {
	switch v := p.(type) {
	case *Hello:
		return encodeHello(v), nil
	case *Update:
		return encodeUpdate(v), nil
	default:
		return nil, fmt.Errorf("packet: unknown packet type %T", p)
	}
}

func encodeHello(h *Hello) []byte {
	b := make([]byte, helloLen)
	b[0] = (Version << 4) | byte(OpHello)
	b[1] = 0 // reserved
	binary.BigEndian.PutUint16(b[2:4], h.Metrics.DelayUs)
	binary.BigEndian.PutUint16(b[4:6], h.Metrics.JitterUs)
	b[6] = h.Metrics.LossPermille
	b[7] = h.Metrics.CongestionPct
	binary.BigEndian.PutUint16(b[8:10], h.Metrics.Stability)
	stampChecksum(b, 10)
	return b
}

func encodeUpdate(u *Update) []byte {
	b := make([]byte, updateHdrLen+routeEntryLen*len(u.Entries))
	b[0] = (Version << 4) | byte(OpUpdate)
	b[1] = 0 // reserved

	off := updateHdrLen
	for _, e := range u.Entries {
		b[off] = e.Prefix.Length
		b[off+1], b[off+2], b[off+3] = 0, 0, 0 // reserved
		binary.BigEndian.PutUint32(b[off+4:off+8], e.Prefix.Addr)
		binary.BigEndian.PutUint16(b[off+8:off+10], e.Metrics.DelayUs)
		binary.BigEndian.PutUint16(b[off+10:off+12], e.Metrics.JitterUs)
		b[off+12] = e.Metrics.LossPermille
		b[off+13] = e.Metrics.CongestionPct
		binary.BigEndian.PutUint16(b[off+14:off+16], e.Metrics.Stability)
		binary.BigEndian.PutUint32(b[off+16:off+20], uint32(e.RD))
		off += routeEntryLen
	}

	stampChecksum(b, 2)
	return b
}

// stampChecksum computes the one's-complement checksum over the whole
// frame with the checksum field (at byte offset checksumOff) treated as
// zero, then writes it into that field (§4.1).
func stampChecksum(b []byte, checksumOff int) {
	b[checksumOff], b[checksumOff+1] = 0, 0
	sum := checksum16(b)
	binary.BigEndian.PutUint16(b[checksumOff:checksumOff+2], sum)
}

// checksum16 is the standard 16-bit one's-complement sum of all 16-bit
// words, folding any end-around carry.
func checksum16(b []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

// Decode parses a wire frame, validating version, opcode, length, and
// checksum, and rejecting frames over mtu bytes (§4.1). mtu <= 0 selects
// the default of 1500.
func Decode(b []byte, mtu int) (Packet, error) {
	if mtu <= 0 {
		mtu = defaultMTU
	}
	if len(b) > mtu {
		return nil, parseErr(MTUExceeded)
	}
	if len(b) < 2 {
		return nil, parseErr(Truncated)
	}

	version := b[0] >> 4
	opcode := OpCode(b[0] & 0x0F)

	if version != Version {
		return nil, parseErr(UnsupportedVersion)
	}

	switch opcode {
	case OpHello:
		return decodeHello(b)
	case OpUpdate:
		return decodeUpdate(b)
	default:
		return nil, parseErr(UnknownOpCode)
	}
}

func decodeHello(b []byte) (*Hello, error) {
	if len(b) != helloLen {
		return nil, parseErr(Truncated)
	}
	if !verifyChecksum(b, 10) {
		return nil, parseErr(BadChecksum)
	}

	return &Hello{Metrics: metric.Metrics{
		DelayUs:       binary.BigEndian.Uint16(b[2:4]),
		JitterUs:      binary.BigEndian.Uint16(b[4:6]),
		LossPermille:  b[6],
		CongestionPct: b[7],
		Stability:     binary.BigEndian.Uint16(b[8:10]),
	}}, nil
}

func decodeUpdate(b []byte) (*Update, error) {
	if len(b) < updateHdrLen {
		return nil, parseErr(Truncated)
	}

	body := len(b) - updateHdrLen
	if body%routeEntryLen != 0 {
		return nil, parseErr(Truncated)
	}
	if !verifyChecksum(b, 2) {
		return nil, parseErr(BadChecksum)
	}

	n := body / routeEntryLen
	entries := make([]WireRouteEntry, 0, n)

	off := updateHdrLen
	for i := 0; i < n; i++ {
		e := WireRouteEntry{
			Prefix: Prefix{
				Length: b[off],
				Addr:   binary.BigEndian.Uint32(b[off+4 : off+8]),
			},
			Metrics: metric.Metrics{
				DelayUs:       binary.BigEndian.Uint16(b[off+8 : off+10]),
				JitterUs:      binary.BigEndian.Uint16(b[off+10 : off+12]),
				LossPermille:  b[off+12],
				CongestionPct: b[off+13],
				Stability:     binary.BigEndian.Uint16(b[off+14 : off+16]),
			},
			RD: metric.Cost(binary.BigEndian.Uint32(b[off+16 : off+20])),
		}
		entries = append(entries, e)
		off += routeEntryLen
	}

	return &Update{Entries: entries}, nil
}

func verifyChecksum(b []byte, checksumOff int) bool {
	cp := make([]byte, len(b))
	copy(cp, b)
	cp[checksumOff], cp[checksumOff+1] = 0, 0
	want := binary.BigEndian.Uint16(b[checksumOff : checksumOff+2])
	return checksum16(cp) == want
}
