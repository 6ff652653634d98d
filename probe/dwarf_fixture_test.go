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
	"debug/dwarf"
	"encoding/binary"
)

// The helpers in this file hand-assemble the handful of .debug_abbrev/
// .debug_info shapes the resolver cares about (§8.1): a subprogram with
// parameters, a struct with pointer/array members, an inlined subroutine, a
// lexical block. Real compilers emit far richer abbreviation tables; this
// builder only needs to be internally consistent with what dwarf.New parses.

type abbrevAttr struct {
	attr dwarf.Attr
	form uint64
}

type abbrevDecl struct {
	code     uint64
	tag      dwarf.Tag
	children bool
	attrs    []abbrevAttr
}

func uleb(v uint64) []uint8 {
	var out []uint8
	for {
		b := uint8(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

func sleb(v int64) []uint8 {
	var out []uint8
	more := true
	for more {
		b := uint8(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			more = false
		} else {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

func buildAbbrevTable(decls []abbrevDecl) []uint8 {
	var out []uint8
	for _, d := range decls {
		out = append(out, uleb(d.code)...)
		out = append(out, uleb(uint64(d.tag))...)
		if d.children {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
		for _, a := range d.attrs {
			out = append(out, uleb(uint64(a.attr))...)
			out = append(out, uleb(a.form)...)
		}
		out = append(out, 0, 0) // terminate attribute list
	}
	out = append(out, 0) // terminate abbrev table
	return out
}

// DWARF forms used by the fixtures below.
const (
	formAddr   = 0x01
	formBlock1 = 0x0a
	formData1  = 0x0b
	formData4  = 0x06
	formString = 0x08
	formFlag   = 0x0c
	formSData  = 0x0d
	formUData  = 0x0f
	formRef4   = 0x13
	formExprLoc = 0x18
)

// infoBuilder assembles a single compilation unit's .debug_info bytes,
// tracking each entry's start offset (relative to the whole section, i.e.
// including the 11-byte CU header) so callers can compute DW_FORM_ref4
// values for cross references.
type infoBuilder struct {
	buf []uint8
}

func newInfoBuilder() *infoBuilder {
	b := &infoBuilder{}
	// CU header: unit_length(4, patched at build time), version(2)=4,
	// abbrev_offset(4)=0, address_size(1)=8
	b.buf = append(b.buf, 0, 0, 0, 0)
	b.buf = append(b.buf, 4, 0)
	b.buf = append(b.buf, 0, 0, 0, 0)
	b.buf = append(b.buf, 8)
	return b
}

// offset returns the current write position, usable as a DW_FORM_ref4
// target for an entry about to be appended.
func (b *infoBuilder) offset() uint32 {
	return uint32(len(b.buf))
}

func (b *infoBuilder) code(c uint64) {
	b.buf = append(b.buf, uleb(c)...)
}

func (b *infoBuilder) string(s string) {
	b.buf = append(b.buf, []uint8(s)...)
	b.buf = append(b.buf, 0)
}

func (b *infoBuilder) data1(v uint8) {
	b.buf = append(b.buf, v)
}

func (b *infoBuilder) data4(v uint32) {
	var four [4]uint8
	binary.LittleEndian.PutUint32(four[:], v)
	b.buf = append(b.buf, four[:]...)
}

func (b *infoBuilder) addr8(v uint64) {
	var eight [8]uint8
	binary.LittleEndian.PutUint64(eight[:], v)
	b.buf = append(b.buf, eight[:]...)
}

func (b *infoBuilder) udata(v uint64) {
	b.buf = append(b.buf, uleb(v)...)
}

func (b *infoBuilder) sdata(v int64) {
	b.buf = append(b.buf, sleb(v)...)
}

func (b *infoBuilder) ref4(target uint32) {
	b.data4(target)
}

func (b *infoBuilder) block1(content []uint8) {
	b.buf = append(b.buf, uint8(len(content)))
	b.buf = append(b.buf, content...)
}

func (b *infoBuilder) flag(v bool) {
	if v {
		b.buf = append(b.buf, 1)
	} else {
		b.buf = append(b.buf, 0)
	}
}

// null appends a null entry, closing a level of children.
func (b *infoBuilder) null() {
	b.buf = append(b.buf, 0)
}

// buildLineProgram hand-assembles a minimal DWARF-4 .debug_line unit: a
// header declaring the standard opcode lengths and a single file
// ("fixture.c"), followed by a two-row line number program and a
// terminating DW_LNE_end_sequence. lowAddr/lowLine is the first row,
// highAddr/highLine the second.
func buildLineProgram(lowAddr uint64, lowLine int, highAddr uint64, highLine int) []uint8 {
	const (
		lnsCopy        = 1
		lnsAdvancePC   = 2
		lnsAdvanceLine = 3
		lneEndSequence = 1
		lneSetAddress  = 2
		opcodeBase     = 13
	)

	tail := []uint8{
		1,          // minimum_instruction_length
		1,          // maximum_operations_per_instruction
		1,          // default_is_stmt
		0xfb,       // line_base = -5
		14,         // line_range
		opcodeBase, // opcode_base
		0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1, // standard_opcode_lengths[1..12]
		0, // include_directories terminator (none beyond comp dir)
	}
	tail = append(tail, []uint8("fixture.c")...)
	tail = append(tail, 0)           // file name terminator
	tail = append(tail, uleb(0)...)  // dir_index
	tail = append(tail, uleb(0)...)  // mtime
	tail = append(tail, uleb(0)...)  // length
	tail = append(tail, 0)           // file_names terminator

	var program []uint8
	program = append(program, 0x00, uleb(9)[0], lneSetAddress)
	var addr8 [8]uint8
	binary.LittleEndian.PutUint64(addr8[:], lowAddr)
	program = append(program, addr8[:]...)
	program = append(program, lnsAdvanceLine)
	program = append(program, sleb(int64(lowLine-1))...)
	program = append(program, lnsCopy)

	delta := highAddr - lowAddr
	program = append(program, lnsAdvancePC)
	program = append(program, uleb(delta)...)
	program = append(program, lnsAdvanceLine)
	program = append(program, sleb(int64(highLine-lowLine))...)
	program = append(program, lnsCopy)

	program = append(program, lnsAdvancePC)
	program = append(program, uleb(0x10)...)
	program = append(program, 0x00, uleb(1)[0], lneEndSequence)

	var headerLength [4]uint8
	var out []uint8
	out = append(out, 0, 0, 0, 0) // unit_length placeholder
	out = append(out, 4, 0)       // version = 4
	binary.LittleEndian.PutUint32(headerLength[:], uint32(len(tail)))
	out = append(out, headerLength[:]...)
	out = append(out, tail...)
	out = append(out, program...)
	binary.LittleEndian.PutUint32(out, uint32(len(out)-4))
	return out
}

// ref4Placeholder reserves 4 bytes for a forward DW_FORM_ref4 whose target
// isn't known yet, returning the byte position to patch later.
func (b *infoBuilder) ref4Placeholder() int {
	pos := len(b.buf)
	b.buf = append(b.buf, 0, 0, 0, 0)
	return pos
}

func (b *infoBuilder) patchRef4(pos int, target uint32) {
	binary.LittleEndian.PutUint32(b.buf[pos:], target)
}

// finish patches the unit_length header field and returns the completed
// section bytes.
func (b *infoBuilder) finish() []uint8 {
	binary.LittleEndian.PutUint32(b.buf, uint32(len(b.buf)-4))
	return b.buf
}

// newFixtureData builds a *dwarf.Data for: a compile unit (with a line
// table, see buildLineProgram) containing a struct ("task_struct", with a
// pointer-to-self member "parent" and an array-of-base-type member "comm"),
// and a subprogram ("schedule") with one formal parameter ("cpu", a 4-byte
// signed int) and a nested lexical block holding a local variable ("rq", a
// pointer to task_struct), plus an inlined subroutine child whose
// DW_AT_abstract_origin points at a separate abstract subprogram
// ("account_inline").
func newFixtureData(t interface{ Fatal(args ...any) }) *dwarf.Data {
	const (
		declCU          = 1
		declIntType     = 2
		declPtrType     = 3
		declArrType     = 4
		declSubrange    = 5
		declStruct      = 6
		declMember      = 7
		declSub         = 8
		declParam       = 9
		declBlock       = 10
		declVar         = 11
		declInline      = 12
		declAbstractSub = 13
	)

	abbrev := buildAbbrevTable([]abbrevDecl{
		{declCU, dwarf.TagCompileUnit, true, []abbrevAttr{
			{dwarf.AttrName, formString},
			{dwarf.AttrLowpc, formAddr},
			{dwarf.AttrHighpc, formData4},
			{dwarf.AttrStmtList, formData4},
		}},
		{declIntType, dwarf.TagBaseType, false, []abbrevAttr{
			{dwarf.AttrName, formString},
			{dwarf.AttrByteSize, formData1},
			{dwarf.AttrEncoding, formData1},
		}},
		{declPtrType, dwarf.TagPointerType, false, []abbrevAttr{
			{dwarf.AttrByteSize, formData1},
			{dwarf.AttrType, formRef4},
		}},
		{declArrType, dwarf.TagArrayType, true, []abbrevAttr{
			{dwarf.AttrType, formRef4},
		}},
		{declSubrange, dwarf.TagSubrangeType, false, []abbrevAttr{
			{dwarf.AttrUpperBound, formData1},
		}},
		{declStruct, dwarf.TagStructType, true, []abbrevAttr{
			{dwarf.AttrName, formString},
			{dwarf.AttrByteSize, formData1},
		}},
		{declMember, dwarf.TagMember, false, []abbrevAttr{
			{dwarf.AttrName, formString},
			{dwarf.AttrType, formRef4},
			{dwarf.AttrDataMemberLoc, formData1},
		}},
		{declSub, dwarf.TagSubprogram, true, []abbrevAttr{
			{dwarf.AttrName, formString},
			{dwarf.AttrLowpc, formAddr},
			{dwarf.AttrHighpc, formData4},
			{dwarf.AttrDeclLine, formData1},
			{dwarf.AttrFrameBase, formBlock1},
		}},
		{declParam, dwarf.TagFormalParameter, false, []abbrevAttr{
			{dwarf.AttrName, formString},
			{dwarf.AttrType, formRef4},
			{dwarf.AttrLocation, formBlock1},
		}},
		{declBlock, dwarf.TagLexDwarfBlock, true, []abbrevAttr{}},
		{declVar, dwarf.TagVariable, false, []abbrevAttr{
			{dwarf.AttrName, formString},
			{dwarf.AttrType, formRef4},
			{dwarf.AttrLocation, formBlock1},
		}},
		{declInline, dwarf.TagInlinedSubroutine, false, []abbrevAttr{
			{dwarf.AttrAbstractOrigin, formRef4},
			{dwarf.AttrLowpc, formAddr},
			{dwarf.AttrHighpc, formData4},
		}},
		{declAbstractSub, dwarf.TagSubprogram, false, []abbrevAttr{
			{dwarf.AttrName, formString},
			{dwarf.AttrDeclLine, formData1},
			{dwarf.AttrInline, formData1},
		}},
	})

	b := newInfoBuilder()

	// placeholders resolved by forward reference: int type, pointer-to-struct
	// type, array type, struct type. We lay out int type and struct type
	// first (fixed, known offsets aren't needed before use since all
	// references in this fixture point backward or to a sibling emitted
	// later via a two-pass offset reservation below).

	cuOffset := b.offset()
	b.code(declCU)
	b.string("fixture.c")
	b.addr8(0x1000)
	b.data4(0x2000) // highpc, relative to lowpc 0x1000: covers 0x1000-0x3000
	b.data4(0)      // stmt_list: offset 0 into the single .debug_line unit below

	intTypeOffset := b.offset()
	b.code(declIntType)
	b.string("int")
	b.data1(4)
	b.data1(0x05) // DW_ATE_signed

	charTypeOffset := b.offset()
	b.code(declIntType)
	b.string("char")
	b.data1(1)
	b.data1(0x06) // DW_ATE_signed_char

	// array-of-char, a sibling so it can be referenced by a struct member
	// without appearing inside the struct's own children.
	arrTypeOffset := b.offset()
	b.code(declArrType)
	b.ref4(charTypeOffset)
	b.code(declSubrange)
	b.data1(15)
	b.null() // end array's children

	// pointer-to-struct, likewise a sibling; its DW_AT_type is a forward
	// reference patched in once the struct's own offset is known below.
	ptrTypeOffset := b.offset()
	b.code(declPtrType)
	b.data1(8)
	ptrTypeRefPos := b.ref4Placeholder()

	structOffset := b.offset()
	b.code(declStruct)
	b.string("task_struct")
	b.data1(16)

	b.code(declMember)
	b.string("parent")
	b.ref4(ptrTypeOffset)
	b.data1(0)

	b.code(declMember)
	b.string("comm")
	b.ref4(arrTypeOffset)
	b.data1(8)

	b.null() // end struct's children

	b.patchRef4(ptrTypeRefPos, structOffset)

	subOffset := b.offset()
	b.code(declSub)
	b.string("schedule")
	b.addr8(0x2000)
	b.data4(0x100)
	b.data1(42)
	b.block1([]uint8{dwOpCallCFA})

	b.code(declParam)
	b.string("cpu")
	b.ref4(intTypeOffset)
	b.block1([]uint8{dwOpFbreg, 0x7c}) // offset -4

	b.code(declBlock)

	b.code(declVar)
	b.string("rq")
	b.ref4(ptrTypeOffset)
	b.block1([]uint8{dwOpFbreg, 0x68}) // offset -24

	b.code(declInline)
	abstractOriginRefPos := b.ref4Placeholder()
	b.addr8(0x2010)
	b.data4(0x10)

	b.null() // end lexical block's children
	b.null() // end subprogram's children

	// abstract instance of the function inlined above: carries its own
	// name and declaration line but no PC range, per the
	// DW_AT_abstract_origin convention concrete inline instances rely on.
	// Emitted as "schedule"'s next sibling, after its children close, so
	// walking the CU's children for the first DW_TAG_subprogram still
	// finds "schedule".
	abstractSubOffset := b.offset()
	b.code(declAbstractSub)
	b.string("account_inline")
	b.data1(50)
	b.data1(1) // DW_INL_inlined
	b.patchRef4(abstractOriginRefPos, abstractSubOffset)

	b.null() // end compile unit's children

	_ = cuOffset
	_ = subOffset

	info := b.finish()

	// one row at 0x2008/line 44 (inside "schedule" but outside the inlined
	// range), one at 0x2015/line 46 (inside the inlined range).
	line := buildLineProgram(0x2008, 44, 0x2015, 46)

	data, err := dwarf.New(abbrev, nil, nil, info, line, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return data
}
