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

import (
	"encoding/binary"

	"github.com/jetsetilly/probefinder/probe/leb128"
)

// frameBaseKind classifies the canonical, reduced form of DW_AT_frame_base
// that this package accepts (§4.6): no expression at all, or a single
// register-plus-offset rule, however it was spelled (bregN, bregx, or a
// call_frame_cfa rule resolved ahead of time against the Call Frame
// Information).
type frameBaseKind int

const (
	frameBaseNone frameBaseKind = iota
	frameBaseRegOffset
)

type frameBase struct {
	kind   frameBaseKind
	reg    int
	offset int64
}

// indirectionFrame is one level of "+offs(...)" around a value, outermost
// first, per §4 ("indirections: ordered list of signed byte offsets applied
// outermost-first").
type indirectionFrame struct {
	offset int64
}

// traceValue is the intermediate result of evaluating a variable's location:
// either a bare register, or a register/frame treated as the base of a chain
// of indirections, or a global symbol reference. Field-chain walking
// (fields.go) continues to accumulate into the same indirection list before
// the result is rendered into a ProbeResult.
type traceValue struct {
	// registerValue is set when the value is based on a register: either
	// held directly in it (DW_OP_regN / DW_OP_regx, isReference false) or
	// addressed relative to it (DW_OP_bregN / DW_OP_bregx / DW_OP_fbreg,
	// isReference true).
	registerValue bool
	register      int

	// symbol is set for DW_OP_addr results: a named global.
	symbol string

	indirections []indirectionFrame
	isReference  bool
}

// DWARF-4 location expression opcodes this package understands (§4.3;
// everything else is NotSupported by design, per the Non-goals).
const (
	dwOpAddr    = 0x03
	dwOpReg0    = 0x50
	dwOpReg31   = 0x6f
	dwOpBreg0   = 0x70
	dwOpBreg31  = 0x8f
	dwOpRegx    = 0x90
	dwOpFbreg   = 0x91
	dwOpBregx   = 0x92
	dwOpCallCFA = 0x9c
)

// evalLocationExpr evaluates a single-op DWARF location expression (the
// first entry of a location list covering pc, or a non-list expression) into
// a traceValue, per §4.3. varName supplies the name substituted for
// DW_OP_addr results (the address operand itself is discarded: addresses in
// a non-running binary are meaningless to a tracer, which instead refers to
// the symbol by name).
func evalLocationExpr(expr []uint8, order binary.ByteOrder, fb frameBase, varName string) (traceValue, error) {
	if len(expr) == 0 {
		return traceValue{}, errKind("eval_location", NotSupported)
	}

	op := expr[0]
	rest := expr[1:]

	switch {
	case op == dwOpAddr:
		return traceValue{
			symbol:       varName,
			indirections: []indirectionFrame{{offset: 0}},
		}, nil

	case op == dwOpFbreg:
		n, _ := leb128.DecodeSLEB128(rest)
		if fb.kind != frameBaseRegOffset {
			return traceValue{}, errKind("eval_location", NotSupported)
		}
		return traceValue{
			registerValue: true,
			register:      fb.reg,
			isReference:   true,
			indirections:  []indirectionFrame{{offset: n + fb.offset}},
		}, nil

	case op >= dwOpBreg0 && op <= dwOpBreg31:
		n, _ := leb128.DecodeSLEB128(rest)
		return traceValue{
			registerValue: true,
			register:      int(op - dwOpBreg0),
			isReference:   true,
			indirections:  []indirectionFrame{{offset: n}},
		}, nil

	case op == dwOpBregx:
		reg, m := leb128.DecodeULEB128(rest)
		n, _ := leb128.DecodeSLEB128(rest[m:])
		return traceValue{
			registerValue: true,
			register:      int(reg),
			isReference:   true,
			indirections:  []indirectionFrame{{offset: n}},
		}, nil

	case op >= dwOpReg0 && op <= dwOpReg31:
		return traceValue{
			registerValue: true,
			register:      int(op - dwOpReg0),
			isReference:   false,
		}, nil

	case op == dwOpRegx:
		reg, _ := leb128.DecodeULEB128(rest)
		return traceValue{
			registerValue: true,
			register:      int(reg),
			isReference:   false,
		}, nil

	default:
		return traceValue{}, errKind("eval_location", NotSupported)
	}
}

// resolveFrameBase reduces a subprogram's DW_AT_frame_base expression to the
// canonical form evalLocationExpr needs for DW_OP_fbreg substitution (§4.6).
// frames is nil when no .debug_frame section is available to resolve
// DW_OP_call_frame_cfa, in which case that form reports NotSupported rather
// than NotFound, since the expression itself is well-formed.
func resolveFrameBase(expr []uint8, pc uint64, frames *frameSection) (frameBase, error) {
	if len(expr) == 0 {
		return frameBase{kind: frameBaseNone}, nil
	}

	op := expr[0]
	rest := expr[1:]

	switch {
	case op == dwOpCallCFA && len(expr) == 1:
		if frames == nil {
			return frameBase{}, errKind("resolve_frame_base", NotSupported)
		}
		cfa, err := frames.resolveCFA(pc)
		if err != nil {
			return frameBase{}, err
		}
		return frameBase{kind: frameBaseRegOffset, reg: cfa.register, offset: cfa.offset}, nil

	case op >= dwOpBreg0 && op <= dwOpBreg31:
		n, _ := leb128.DecodeSLEB128(rest)
		return frameBase{kind: frameBaseRegOffset, reg: int(op - dwOpBreg0), offset: n}, nil

	case op == dwOpBregx:
		reg, m := leb128.DecodeULEB128(rest)
		n, _ := leb128.DecodeSLEB128(rest[m:])
		return frameBase{kind: frameBaseRegOffset, reg: int(reg), offset: n}, nil

	default:
		// a composite frame-base expression; unsupported per the Non-goals
		return frameBase{}, errKind("resolve_frame_base", NotSupported)
	}
}

// locationListEntry is one row of a parsed .debug_loc list: the address
// range it covers, and the single-op expression in effect over that range.
type locationListEntry struct {
	start, end uint64
	expr       []uint8
}

// selectLocationEntry returns the expression covering pc from a sequence of
// location list entries already adjusted for any base-address-selection
// entries, or NotFound if pc falls in a gap (the variable does not exist at
// that PC).
func selectLocationEntry(entries []locationListEntry, pc uint64) ([]uint8, error) {
	for _, e := range entries {
		if pc >= e.start && pc < e.end {
			return e.expr, nil
		}
	}
	return nil, errKind("select_location_entry", NotFound)
}

// parseLoclist decodes a single .debug_loc list starting at byte offset ptr
// within data, following the base-address-selection-entry convention of
// DWARF-4 §2.6.2: a start address of all-ones bits marks a new base address
// for the entries that follow rather than a normal range.
func parseLoclist(data []uint8, order binary.ByteOrder, ptr int, cuBaseAddress uint64) ([]locationListEntry, error) {
	var entries []locationListEntry
	base := cuBaseAddress

	for ptr+8 <= len(data) {
		start := uint64(order.Uint32(data[ptr:]))
		end := uint64(order.Uint32(data[ptr+4:]))
		ptr += 8

		if start == 0 && end == 0 {
			break
		}
		if start == 0xffffffff {
			base = end
			continue
		}

		if ptr+2 > len(data) {
			return nil, errKind("parse_loclist", Malformed)
		}
		length := int(order.Uint16(data[ptr:]))
		ptr += 2
		if ptr+length > len(data) {
			return nil, errKind("parse_loclist", Malformed)
		}
		expr := data[ptr : ptr+length]
		ptr += length

		if start < end {
			entries = append(entries, locationListEntry{
				start: start + base,
				end:   end + base,
				expr:  expr,
			})
		}
	}

	return entries, nil
}
