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

import "debug/dwarf"

// walkFields processes a chain of field-access steps against value, per
// §4.5, and returns the final, already-resolved type DIE the chain ends on
// (for typeTagFromResolved) alongside the updated value. die must already be
// resolved (through qualifiers/typedefs, see resolveTypeEntry) to the
// variable's type before the first step.
func walkFields(data *dwarf.Data, r *dwarf.Reader, die *dwarf.Entry, steps []FieldStep, value traceValue) (traceValue, *dwarf.Entry, error) {
	cur := die

	for _, step := range steps {
		switch {
		case step.IsIndex:
			switch {
			case isArrayType(cur):
				elem, err := elementType(data, r, cur)
				if err != nil {
					return traceValue{}, nil, wrapErr("walk_fields", Invalid, err)
				}
				if len(value.indirections) == 0 {
					return traceValue{}, nil, errKind("walk_fields", NotSupported)
				}
				last := len(value.indirections) - 1
				value.indirections[last].offset += step.Index * int64(sizeOf(elem))
				cur = elem

			case isPointerType(cur):
				pointee, err := elementType(data, r, cur)
				if err != nil {
					return traceValue{}, nil, wrapErr("walk_fields", Invalid, err)
				}
				value.indirections = append(value.indirections, indirectionFrame{
					offset: step.Index * int64(sizeOf(pointee)),
				})
				value.isReference = true
				cur = pointee

			default:
				return traceValue{}, nil, errKind("walk_fields", Invalid)
			}

		case step.IsDereference:
			if !isPointerType(cur) {
				return traceValue{}, nil, errKind("walk_fields", Invalid)
			}
			pointee, err := elementType(data, r, cur)
			if err != nil {
				return traceValue{}, nil, wrapErr("walk_fields", Invalid, err)
			}
			if !isStructType(pointee) {
				return traceValue{}, nil, errKind("walk_fields", Invalid)
			}

			member, offset, err := lookupMember(r, pointee, step.Name)
			if err != nil {
				return traceValue{}, nil, err
			}
			memberType, err := resolveTypeEntry(data, r, member)
			if err != nil {
				return traceValue{}, nil, wrapErr("walk_fields", Invalid, err)
			}

			value.indirections = append(value.indirections, indirectionFrame{offset: offset})
			value.isReference = true
			cur = memberType

		default: // plain "." access
			if isPointerType(cur) {
				return traceValue{}, nil, errKind("walk_fields", Invalid)
			}
			if !isStructType(cur) {
				return traceValue{}, nil, errKind("walk_fields", Invalid)
			}
			if len(value.indirections) == 0 {
				return traceValue{}, nil, errKind("walk_fields", NotSupported)
			}

			member, offset, err := lookupMember(r, cur, step.Name)
			if err != nil {
				return traceValue{}, nil, err
			}
			memberType, err := resolveTypeEntry(data, r, member)
			if err != nil {
				return traceValue{}, nil, wrapErr("walk_fields", Invalid, err)
			}

			last := len(value.indirections) - 1
			value.indirections[last].offset += offset
			cur = memberType
		}
	}

	return value, cur, nil
}

// lookupMember finds name among structDie's direct members and resolves its
// byte offset, collapsing the two "not found" paths (no such member, no
// usable location expression) to the single Invalid §4.5 expects.
func lookupMember(r *dwarf.Reader, structDie *dwarf.Entry, name string) (*dwarf.Entry, int64, error) {
	member, err := findMember(r, structDie, name)
	if err != nil {
		return nil, 0, wrapErr("walk_fields", Invalid, err)
	}
	if member == nil {
		return nil, 0, errKind("walk_fields", Invalid)
	}
	offset, err := dataMemberLocation(member)
	if err != nil {
		return nil, 0, wrapErr("walk_fields", Invalid, err)
	}
	return member, offset, nil
}
