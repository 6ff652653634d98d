// This file is part of probefinder.
//
// probefinder is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// probefinder is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with probefinder. If not, see <https://www.gnu.org/licenses/>.

// Package diagnostics offers an opt-in way to inspect the shape of a
// resolved value (a ProbeResult tree, a ProbeRequest) as a Graphviz graph.
// Nothing in the resolver calls into this package itself; it exists purely
// for a caller debugging its own request/result construction.
package diagnostics

import (
	"io"

	"github.com/bradleyjkemp/memviz"
)

// DumpDOT writes a Graphviz DOT representation of v's struct graph to w.
func DumpDOT(w io.Writer, v any) {
	memviz.Map(w, v)
}
