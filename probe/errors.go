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

package probe

import "fmt"

// Kind categorises a resolver error so that callers can branch on the
// failure class without string matching (§7).
type Kind int

const (
	// NotFound means no matching function/line/variable/file/member.
	NotFound Kind = iota
	// Invalid means the request is inconsistent with debug information, eg.
	// "." applied to a pointer.
	Invalid
	// NotSupported means the request needs a DWARF construct outside the
	// subset this package evaluates.
	NotSupported
	// OutOfRange means an architecture register map gap, or too many probes
	// requested for max_probes.
	OutOfRange
	// IO means debug info could not be opened, or a lazy-match source file
	// could not be read.
	IO
	// OutOfMemory means an allocation failure.
	OutOfMemory
	// Malformed means the underlying DWARF data failed to parse.
	Malformed
)

// Error implements the error interface so that a bare Kind value can be used
// as the target of errors.Is(err, probe.NotFound).
func (k Kind) Error() string {
	switch k {
	case NotFound:
		return "not found"
	case Invalid:
		return "invalid"
	case NotSupported:
		return "not supported"
	case OutOfRange:
		return "out of range"
	case IO:
		return "io"
	case OutOfMemory:
		return "out of memory"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every exported function in this
// package. Op names the operation that failed (eg. "find_probes",
// "resolve_location"); Err, when non-nil, is the underlying cause and is
// reachable through errors.Unwrap.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("probe: %s: %s: %s", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("probe: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, probe.NotFound) etc. by comparing an *Error's Kind
// against a target Kind value.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && e.Kind == k
}

// errKind is a convenience constructor for wrapping a Kind with the
// operation that produced it.
func errKind(op string, kind Kind) error {
	return &Error{Kind: kind, Op: op}
}

// wrapErr is a convenience constructor for wrapping an underlying error with
// a Kind and the operation that produced it.
func wrapErr(op string, kind Kind, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}
