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

// cfaTableState is the running state of CFA-rule replay: the current
// instruction location and the CFA rule in effect there. A small stack
// supports DW_CFA_remember_state/restore_state.
type cfaTableState struct {
	location uint64
	cfa      cfaRule
	stack    []cfaRule
}

// DWARF-4 call frame instruction opcodes (§6.4.2). Only the subset that
// bears on the CFA rule is interpreted. DW_CFA_offset and DW_CFA_restore are
// skipped over; every other opcode that appears before pc is reported as
// NotSupported, since this package never unwinds individual register save
// locations, only the CFA itself.
const (
	dwCFAAdvanceLoc = 0x40 // high 2 bits; low 6 bits hold the delta
	dwCFAOffset     = 0x80 // high 2 bits; low 6 bits hold the register
	dwCFARestore    = 0xc0 // high 2 bits; low 6 bits hold the register

	dwCFANop            = 0x00
	dwCFASetLoc         = 0x01
	dwCFAAdvanceLoc1    = 0x02
	dwCFAAdvanceLoc2    = 0x03
	dwCFAAdvanceLoc4    = 0x04
	dwCFAOffsetExtended = 0x05
	dwCFARestoreExt     = 0x06
	dwCFAUndefined      = 0x07
	dwCFASameValue      = 0x08
	dwCFARegister       = 0x09
	dwCFARememberState  = 0x0a
	dwCFARestoreState   = 0x0b
	dwCFADefCFA         = 0x0c
	dwCFADefCFAReg      = 0x0d
	dwCFADefCFAOffset   = 0x0e
	dwCFADefCFAExpr     = 0x0f
	dwCFAExpression     = 0x10
	dwCFAOffsetExtSF    = 0x11
	dwCFADefCFASF       = 0x12
	dwCFADefCFAOffsetSF = 0x13
	dwCFAValOffset      = 0x14
	dwCFAValOffsetSF    = 0x15
	dwCFAValExpression  = 0x16
)

// replayCFAInstructions steps through a CIE's or FDE's instruction stream,
// updating state until state.location passes pc or the instructions are
// exhausted. It returns NotSupported as soon as it meets an instruction kind
// it does not track, since continuing past one risks reporting a stale CFA
// rule as current.
func replayCFAInstructions(order binary.ByteOrder, cie *frameCIE, instrs []uint8, pc uint64, state *cfaTableState) error {
	i := 0
	for i < len(instrs) {
		if state.location > pc {
			return nil
		}

		op := instrs[i]
		i++

		high := op &^ 0x3f
		low := int(op & 0x3f)

		switch high {
		case dwCFAAdvanceLoc:
			state.location += uint64(low) * cie.codeAlignment
			continue
		case dwCFAOffset:
			n, m := leb128.DecodeULEB128(instrs[i:])
			i += m
			_ = n
			continue
		case dwCFARestore:
			continue
		}

		switch op {
		case dwCFANop:
			// no operands

		case dwCFASetLoc:
			if i+8 > len(instrs) {
				return errKind("replay_cfa", Malformed)
			}
			state.location = order.Uint64(instrs[i:])
			i += 8

		case dwCFAAdvanceLoc1:
			if i+1 > len(instrs) {
				return errKind("replay_cfa", Malformed)
			}
			state.location += uint64(instrs[i]) * cie.codeAlignment
			i++

		case dwCFAAdvanceLoc2:
			if i+2 > len(instrs) {
				return errKind("replay_cfa", Malformed)
			}
			state.location += uint64(order.Uint16(instrs[i:])) * cie.codeAlignment
			i += 2

		case dwCFAAdvanceLoc4:
			if i+4 > len(instrs) {
				return errKind("replay_cfa", Malformed)
			}
			state.location += uint64(order.Uint32(instrs[i:])) * cie.codeAlignment
			i += 4

		case dwCFARememberState:
			state.stack = append(state.stack, state.cfa)

		case dwCFARestoreState:
			if len(state.stack) == 0 {
				return errKind("replay_cfa", Malformed)
			}
			state.cfa = state.stack[len(state.stack)-1]
			state.stack = state.stack[:len(state.stack)-1]

		case dwCFADefCFA:
			reg, m := leb128.DecodeULEB128(instrs[i:])
			i += m
			off, m := leb128.DecodeULEB128(instrs[i:])
			i += m
			state.cfa = cfaRule{register: int(reg), offset: int64(off)}

		case dwCFADefCFAReg:
			reg, m := leb128.DecodeULEB128(instrs[i:])
			i += m
			state.cfa.register = int(reg)

		case dwCFADefCFAOffset:
			off, m := leb128.DecodeULEB128(instrs[i:])
			i += m
			state.cfa.offset = int64(off)

		case dwCFADefCFASF:
			reg, m := leb128.DecodeULEB128(instrs[i:])
			i += m
			off, m := leb128.DecodeSLEB128(instrs[i:])
			i += m
			state.cfa = cfaRule{register: int(reg), offset: off * cie.dataAlignment}

		case dwCFADefCFAOffsetSF:
			off, m := leb128.DecodeSLEB128(instrs[i:])
			i += m
			state.cfa.offset = off * cie.dataAlignment

		default:
			// DW_CFA_{undefined,same_value,register,offset_extended(_sf),
			// restore_extended,expression,val_offset(_sf),val_expression} and
			// vendor-specific opcodes describe register save locations this
			// package has no use for, or carry DWARF expression operands it
			// would need a full decoder to skip safely. Rather than guess at
			// their encoded length and risk misreading the rest of the
			// stream, bail out: callers fall back to treating the frame base
			// as unsupported for this PC.
			return errKind("replay_cfa", NotSupported)
		}
	}

	return nil
}
