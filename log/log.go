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

// Package log is the structured-logging seam between the simulation core
// and whatever collaborator (CLI, visualizer) is driving it. The core never
// imports a concrete logger; it takes a Log and calls it with a facility
// name and a bag of fields, same as davidcoles/cue's bgp package did.
package log

// KV is a bag of structured fields attached to a log line.
type KV = map[string]any

// Log is implemented by anything that wants simulation diagnostics. The
// facility string identifies the emitting component (e.g. "router",
// "dual", "scheduler"); fields carry the structured payload.
type Log interface {
	DEBUG(facility string, fields KV)
	NOTICE(facility string, fields KV)
	WARNING(facility string, fields KV)
	ERR(facility string, fields KV)
}

// Nil discards everything. Used by tests and by any core component that
// isn't handed a real logger.
type Nil struct{}

func (Nil) DEBUG(string, KV)   {}
func (Nil) NOTICE(string, KV)  {}
func (Nil) WARNING(string, KV) {}
func (Nil) ERR(string, KV)     {}
