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

// Package probe resolves high-level tracepoint descriptions against a
// program's DWARF debugging information and produces the low-level probe
// records a kernel tracer understands: an instruction address expressed as a
// function symbol plus byte offset, and, for each requested argument, either
// a register, a frame/register-relative memory expression with a chain of
// structure and array offsets, or a symbolic global address.
//
// The package also performs the reverse translation, from a raw address back
// to enclosing function/source line, and enumerates the source lines within
// a function or file range that a probe could be attached to.
//
// The package is single-threaded and synchronous: every exported method
// blocks on its own I/O and does not retain any OS resources beyond the
// lifetime of the call. Open reads the debug sections into memory and closes
// the ELF file before returning; the Resolver keeps only the in-memory
// DWARF data and its reader.
package probe
