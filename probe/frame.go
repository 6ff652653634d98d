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
	"fmt"

	"github.com/jetsetilly/probefinder/probe/leb128"
)

// cfaRule is the canonical description of the Canonical Frame Address at a
// given PC: CFA = register value + offset. This is the only piece of Call
// Frame Information the resolver needs (§4.3, §4.6): it never unwinds a full
// call stack, only resolves a single DW_OP_call_frame_cfa frame base.
type cfaRule struct {
	register int
	offset   int64
}

type frameCIE struct {
	codeAlignment    uint64
	dataAlignment    int64
	returnAddressReg uint64
	instructions     []byte
}

type frameFDE struct {
	cie          *frameCIE
	startAddress uint64
	endAddress   uint64
	instructions []byte
}

// frameSection is a parsed .debug_frame section (DWARF-4, §6.4), used only
// to answer "what is the CFA rule at this PC".
type frameSection struct {
	byteOrder binary.ByteOrder
	cies      map[uint32]*frameCIE
	fdes      []*frameFDE
}

// newFrameSection parses the raw bytes of a .debug_frame section. Only CIE
// version 1 with no augmentation is supported, matching the subset that GCC
// and clang emit for the common case. Any other CIE is not an error here,
// since many programs never require CFA-based frame bases at all: the FDEs
// that refer to it are dropped, so a later CFA lookup at a PC they cover
// reports NotFound.
func newFrameSection(data []uint8, byteOrder binary.ByteOrder) (*frameSection, error) {
	fr := &frameSection{
		byteOrder: byteOrder,
		cies:      make(map[uint32]*frameCIE),
	}

	var idx int
	for idx < len(data) {
		if idx+4 > len(data) {
			return nil, wrapErr("parse_debug_frame", Malformed, fmt.Errorf("truncated length field"))
		}
		length := int(byteOrder.Uint32(data[idx:]))
		idx += 4
		if length == 0 || idx+length > len(data) {
			break
		}

		block := data[idx : idx+length]
		blockOffset := uint32(idx - 4)
		idx += length

		if len(block) < 4 {
			return nil, wrapErr("parse_debug_frame", Malformed, fmt.Errorf("truncated CIE/FDE block"))
		}
		id := byteOrder.Uint32(block)

		if id == 0xffffffff {
			cie, err := parseCIE(block[4:])
			if err != nil {
				// record a stub so FDEs that reference it fail predictably
				// rather than looking up a missing key
				fr.cies[blockOffset] = nil
				continue
			}
			fr.cies[blockOffset] = cie
			continue
		}

		cie, ok := fr.cies[id]
		if !ok || cie == nil {
			continue // FDE refers to a CIE we couldn't parse; skip it
		}
		if len(block) < 12 {
			return nil, wrapErr("parse_debug_frame", Malformed, fmt.Errorf("truncated FDE"))
		}
		n := 4
		start := byteOrder.Uint32(block[n:])
		n += 4
		rangeLen := byteOrder.Uint32(block[n:])
		n += 4

		fde := &frameFDE{
			cie:          cie,
			startAddress: uint64(start),
			endAddress:   uint64(start) + uint64(rangeLen),
			instructions: append([]byte(nil), block[n:]...),
		}
		fr.fdes = append(fr.fdes, fde)
	}

	return fr, nil
}

func parseCIE(b []uint8) (*frameCIE, error) {
	if len(b) < 2 || b[0] != 1 {
		return nil, fmt.Errorf("unsupported CIE version")
	}
	if b[1] != 0x00 {
		return nil, fmt.Errorf("unsupported CIE augmentation")
	}

	n := 2
	cie := &frameCIE{}
	var m int
	cie.codeAlignment, m = leb128.DecodeULEB128(b[n:])
	n += m
	cie.dataAlignment, m = leb128.DecodeSLEB128(b[n:])
	n += m
	cie.returnAddressReg, m = leb128.DecodeULEB128(b[n:])
	n += m
	if n > len(b) {
		return nil, fmt.Errorf("truncated CIE")
	}
	cie.instructions = append([]byte(nil), b[n:]...)

	return cie, nil
}

// resolveCFA returns the CFA rule in effect at pc, by finding the covering
// FDE and replaying its CIE and FDE instructions up to pc.
func (fr *frameSection) resolveCFA(pc uint64) (cfaRule, error) {
	var fde *frameFDE
	for _, f := range fr.fdes {
		if pc >= f.startAddress && pc < f.endAddress {
			fde = f
			break
		}
	}
	if fde == nil {
		return cfaRule{}, errKind("resolve_cfa", NotFound)
	}

	state := &cfaTableState{location: fde.startAddress}

	if err := replayCFAInstructions(fr.byteOrder, fde.cie, fde.cie.instructions, pc, state); err != nil {
		return cfaRule{}, err
	}
	if err := replayCFAInstructions(fr.byteOrder, fde.cie, fde.instructions, pc, state); err != nil {
		return cfaRule{}, err
	}

	return state.cfa, nil
}
