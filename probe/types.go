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
	"fmt"
)

// typeTag renders die's DW_AT_type (resolved through qualifiers/typedefs) as
// the kernel tracer's type suffix (§4.4). die must carry a DW_AT_type
// attribute (a variable, parameter, or member DIE); for a type DIE that is
// already resolved, eg. after walking a field chain, use
// typeTagFromResolved instead.
func typeTag(data *dwarf.Data, r *dwarf.Reader, die *dwarf.Entry, log *logWriter) (string, error) {
	resolved, err := resolveTypeEntry(data, r, die)
	if err != nil {
		return "", wrapErr("type_tag", NotSupported, err)
	}
	return typeTagFromResolved(resolved, log)
}

// typeTagFromResolved renders an already-resolved scalar type DIE as
// "s<bits>"/"u<bits>", or "" when byte_size is zero and the kernel is left
// to infer the width itself (§4.4).
func typeTagFromResolved(resolved *dwarf.Entry, log *logWriter) (string, error) {
	size := entryByteSize(resolved)
	if size == 0 {
		return "", nil
	}

	bits := size * 8
	if bits > 64 {
		log.warnf("type", "clamping %d-bit type at %v to 64 bits", bits, resolved.Offset)
		bits = 64
	}

	sign := "u"
	if entryIsSigned(resolved) {
		sign = "s"
	}
	return fmt.Sprintf("%s%d", sign, bits), nil
}

// isArrayType reports whether die, which must already be resolved (see
// resolveTypeEntry), is a DW_TAG_array_type.
func isArrayType(die *dwarf.Entry) bool {
	return die.Tag == dwarf.TagArrayType
}

// isPointerType reports whether die, which must already be resolved, is a
// DW_TAG_pointer_type.
func isPointerType(die *dwarf.Entry) bool {
	return die.Tag == dwarf.TagPointerType
}

// isStructType reports whether die, which must already be resolved, is a
// DW_TAG_structure_type or DW_TAG_union_type.
func isStructType(die *dwarf.Entry) bool {
	return die.Tag == dwarf.TagStructType || die.Tag == dwarf.TagUnionType
}

// elementType returns the resolved DW_AT_type of an array or pointer type
// DIE: the array's element type, or the pointer's pointee type.
func elementType(data *dwarf.Data, r *dwarf.Reader, die *dwarf.Entry) (*dwarf.Entry, error) {
	return resolveTypeEntry(data, r, die)
}

// sizeOf returns the byte size of a (already-resolved) type DIE.
func sizeOf(die *dwarf.Entry) uint64 {
	return entryByteSize(die)
}
