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

package log

import (
	"github.com/sirupsen/logrus"
)

// Logrus adapts a *logrus.Logger to the Log interface. The facility is
// attached as a "facility" field rather than folded into the message so
// that downstream log aggregation can filter on it.
type Logrus struct {
	L *logrus.Logger
}

// NewLogrus returns a Logrus logger with sane simulation defaults: text
// formatting, no timestamp (the simulation has its own simulated clock and
// a wall-clock timestamp on every line would be noise), info level.
func NewLogrus() *Logrus {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return &Logrus{L: l}
}

func (g *Logrus) entry(facility string, fields KV) *logrus.Entry {
	f := make(logrus.Fields, len(fields)+1)
	for k, v := range fields {
		f[k] = v
	}
	f["facility"] = facility
	return g.L.WithFields(f)
}

func (g *Logrus) DEBUG(facility string, fields KV)   { g.entry(facility, fields).Debug() }
func (g *Logrus) NOTICE(facility string, fields KV)  { g.entry(facility, fields).Info() }
func (g *Logrus) WARNING(facility string, fields KV) { g.entry(facility, fields).Warn() }
func (g *Logrus) ERR(facility string, fields KV)     { g.entry(facility, fields).Error() }
