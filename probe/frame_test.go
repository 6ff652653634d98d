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
	"testing"

	"github.com/stretchr/testify/require"
)

// buildCIE builds a minimal version-1, no-augmentation CIE record (as a complete
// .debug_frame entry, including its own length field) with codeAlignment=1,
// dataAlignment=-4, returnAddressReg=8, and the given initial instructions.
func buildCIE(instrs []uint8) []uint8 {
	body := []uint8{0x01, 0x00, 0x01, 0x7c, 0x08} // version, aug-nul, code-align 1, data-align -4, ra-reg 8
	body = append(body, instrs...)

	var out []uint8
	out = append(out, 0, 0, 0, 0) // length placeholder
	out = append(out, 0xff, 0xff, 0xff, 0xff)
	out = append(out, body...)
	binary.LittleEndian.PutUint32(out, uint32(len(out)-4))
	return out
}

// buildFDE builds a complete .debug_frame FDE entry pointing at the CIE
// whose record begins at cieOffset (the offset of the CIE's own length
// field within the section).
func buildFDE(cieOffset uint32, start, rangeLen uint32, instrs []uint8) []uint8 {
	body := make([]uint8, 0, 12+len(instrs))
	b4 := make([]uint8, 4)
	binary.LittleEndian.PutUint32(b4, cieOffset)
	body = append(body, b4...)
	binary.LittleEndian.PutUint32(b4, start)
	body = append(body, b4...)
	binary.LittleEndian.PutUint32(b4, rangeLen)
	body = append(body, b4...)
	body = append(body, instrs...)

	var out []uint8
	out = append(out, 0, 0, 0, 0)
	out = append(out, body...)
	binary.LittleEndian.PutUint32(out, uint32(len(out)-4))
	return out
}

func TestFrameSectionResolveCFA(t *testing.T) {
	// DW_CFA_def_cfa(reg=7, offset=8); DW_CFA_advance_loc4(0x10);
	// DW_CFA_def_cfa_offset(16); DW_CFA_advance_loc1(0x10);
	// DW_CFA_def_cfa_offset(24)
	instrs := []uint8{
		0x0c, 0x07, 0x08,
		0x04, 0x10, 0x00, 0x00, 0x00,
		0x0e, 0x10,
		0x02, 0x10,
		0x0e, 0x18,
	}

	cie := buildCIE(nil)
	fde := buildFDE(0, 0x1000, 0x100, instrs)

	data := append(append([]uint8(nil), cie...), fde...)

	fr, err := newFrameSection(data, binary.LittleEndian)
	require.NoError(t, err)

	rule, err := fr.resolveCFA(0x1005)
	require.NoError(t, err)
	require.Equal(t, cfaRule{register: 7, offset: 8}, rule)

	rule, err = fr.resolveCFA(0x1015)
	require.NoError(t, err)
	require.Equal(t, cfaRule{register: 7, offset: 16}, rule)

	rule, err = fr.resolveCFA(0x1025)
	require.NoError(t, err)
	require.Equal(t, cfaRule{register: 7, offset: 24}, rule)
}

func TestFrameSectionResolveCFAOutOfRange(t *testing.T) {
	cie := buildCIE(nil)
	fde := buildFDE(0, 0x1000, 0x100, []uint8{0x0c, 0x07, 0x08})
	data := append(append([]uint8(nil), cie...), fde...)

	fr, err := newFrameSection(data, binary.LittleEndian)
	require.NoError(t, err)

	_, err = fr.resolveCFA(0x2000)
	require.Error(t, err)
}

func TestFrameSectionRememberRestoreState(t *testing.T) {
	// def_cfa(7,8); remember_state; def_cfa_offset(16); restore_state
	instrs := []uint8{
		0x0c, 0x07, 0x08,
		0x0a,
		0x0e, 0x10,
		0x0b,
	}
	cie := buildCIE(nil)
	fde := buildFDE(0, 0x1000, 0x100, instrs)
	data := append(append([]uint8(nil), cie...), fde...)

	fr, err := newFrameSection(data, binary.LittleEndian)
	require.NoError(t, err)

	rule, err := fr.resolveCFA(0x1000)
	require.NoError(t, err)
	require.Equal(t, cfaRule{register: 7, offset: 8}, rule)
}

func TestFrameSectionUnsupportedOpcode(t *testing.T) {
	// def_cfa(7,8) followed by DW_CFA_register (0x09, unsupported) before pc
	instrs := []uint8{
		0x0c, 0x07, 0x08,
		0x09, 0x05, 0x06,
	}
	cie := buildCIE(nil)
	fde := buildFDE(0, 0x1000, 0x100, instrs)
	data := append(append([]uint8(nil), cie...), fde...)

	fr, err := newFrameSection(data, binary.LittleEndian)
	require.NoError(t, err)

	_, err = fr.resolveCFA(0x1000)
	require.Error(t, err)
}
