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
	"errors"
	"io"

	"github.com/jetsetilly/probefinder/probe/leb128"
)

// walkVerdict is returned by a findChild predicate and steers the DFS (§4.2,
// §9 "callback-driven tree walks → explicit iteration").
type walkVerdict int

const (
	// walkContinue descends into the current entry's children (if any) and
	// then continues with the next sibling.
	walkContinue walkVerdict = iota
	// walkFound stops the entire traversal; the current entry is the result.
	walkFound
	// walkSkipChildren does not descend into the current entry's children,
	// but continues with the next sibling.
	walkSkipChildren
	// walkDescendOnly descends into the current entry's children (if any)
	// but does not continue with further siblings once that recursion
	// returns.
	walkDescendOnly
)

type walkPredicate func(*dwarf.Entry) walkVerdict

// findChild performs a recursive depth-first search of root's descendants,
// stopping as soon as predicate returns walkFound.
func findChild(r *dwarf.Reader, root *dwarf.Entry, predicate walkPredicate) (*dwarf.Entry, error) {
	if !root.Children {
		return nil, nil
	}
	r.Seek(root.Offset)
	if _, err := r.Next(); err != nil {
		return nil, err
	}
	return findSiblings(r, predicate)
}

// findSiblings assumes the reader is positioned immediately before a
// sibling list and walks it, recursing into children per predicate's
// verdict. It leaves the reader positioned just past whatever entry it
// returns on (or past the terminating null entry if it exhausts the list).
func findSiblings(r *dwarf.Reader, predicate walkPredicate) (*dwarf.Entry, error) {
	for {
		e, err := r.Next()
		if err != nil {
			return nil, err
		}
		if e == nil || e.Tag == 0 {
			// end of this sibling list (or end of the entry stream)
			return nil, nil
		}

		hasChildren := e.Children

		switch predicate(e) {
		case walkFound:
			if hasChildren {
				if err := r.SkipChildren(); err != nil {
					return nil, err
				}
			}
			return e, nil

		case walkSkipChildren:
			if hasChildren {
				if err := r.SkipChildren(); err != nil {
					return nil, err
				}
			}

		case walkDescendOnly:
			if hasChildren {
				found, err := findSiblings(r, predicate)
				if err != nil {
					return nil, err
				}
				return found, nil
			}
			return nil, nil

		case walkContinue:
			if hasChildren {
				found, err := findSiblings(r, predicate)
				if err != nil {
					return nil, err
				}
				if found != nil {
					return found, nil
				}
			}
		}
	}
}

// compareName reports whether die's DW_AT_name attribute equals expected. A
// DIE without a name never matches.
func compareName(die *dwarf.Entry, expected string) bool {
	name, ok := die.Val(dwarf.AttrName).(string)
	return ok && name == expected
}

// entryName returns die's DW_AT_name, or "" if it has none.
func entryName(die *dwarf.Entry) string {
	name, _ := die.Val(dwarf.AttrName).(string)
	return name
}

// pcRanges returns the (possibly multiple, for DW_AT_ranges) address ranges
// covered by die, as reported by data.Ranges.
func pcRanges(data *dwarf.Data, die *dwarf.Entry) ([][2]uint64, error) {
	ranges, err := data.Ranges(die)
	if err != nil {
		return nil, err
	}
	out := make([][2]uint64, len(ranges))
	for i, r := range ranges {
		out[i] = [2]uint64{r[0], r[1]}
	}
	return out, nil
}

// pcInRanges reports whether pc falls within any of ranges.
func pcInRanges(ranges [][2]uint64, pc uint64) bool {
	for _, r := range ranges {
		if pc >= r[0] && pc < r[1] {
			return true
		}
	}
	return false
}

// findSubprogramByPC scans cu's children for the first out-of-line
// DW_TAG_subprogram whose PC ranges include pc (§4.2). It does not descend
// into inlined_subroutine subtrees; use findInlineInstance for those.
func findSubprogramByPC(data *dwarf.Data, r *dwarf.Reader, cu *dwarf.Entry, pc uint64) (*dwarf.Entry, error) {
	var result *dwarf.Entry
	_, err := findChild(r, cu, func(e *dwarf.Entry) walkVerdict {
		if e.Tag != dwarf.TagSubprogram {
			return walkContinue
		}
		ranges, err := pcRanges(data, e)
		if err != nil || len(ranges) == 0 {
			return walkSkipChildren
		}
		if pcInRanges(ranges, pc) {
			result = e
			return walkFound
		}
		return walkSkipChildren
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// findInlineInstance searches sp's subtree for a DW_TAG_inlined_subroutine
// whose PC ranges include pc, returning the innermost (deepest) match.
func findInlineInstance(data *dwarf.Data, r *dwarf.Reader, sp *dwarf.Entry, pc uint64) (*dwarf.Entry, error) {
	var best *dwarf.Entry
	_, err := findChild(r, sp, func(e *dwarf.Entry) walkVerdict {
		if e.Tag != dwarf.TagInlinedSubroutine {
			return walkContinue
		}
		ranges, err := pcRanges(data, e)
		if err != nil || len(ranges) == 0 {
			return walkContinue
		}
		if pcInRanges(ranges, pc) {
			best = e // deeper matches (visited later) replace shallower ones
			return walkContinue
		}
		return walkSkipChildren
	})
	if err != nil {
		return nil, err
	}
	return best, nil
}

// findVariableOrParameter looks for a DW_TAG_variable or DW_TAG_formal_parameter
// named name, first among sp's immediate children (and nested lexical
// blocks), matching DWARF's lexical scoping.
func findVariableOrParameter(r *dwarf.Reader, sp *dwarf.Entry, name string) (*dwarf.Entry, error) {
	var result *dwarf.Entry
	_, err := findChild(r, sp, func(e *dwarf.Entry) walkVerdict {
		switch e.Tag {
		case dwarf.TagVariable, dwarf.TagFormalParameter:
			if compareName(e, name) {
				result = e
				return walkFound
			}
			return walkContinue
		case dwarf.TagLexDwarfBlock:
			return walkContinue
		case dwarf.TagInlinedSubroutine:
			return walkSkipChildren
		default:
			return walkSkipChildren
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// findMember looks up a named field directly on a DW_TAG_structure_type (or
// union_type) DIE, without resolving nested anonymous members.
func findMember(r *dwarf.Reader, structDie *dwarf.Entry, name string) (*dwarf.Entry, error) {
	return findChild(r, structDie, func(e *dwarf.Entry) walkVerdict {
		if e.Tag == dwarf.TagMember && compareName(e, name) {
			return walkFound
		}
		return walkSkipChildren
	})
}

// resolveAbstractOrigin follows die's DW_AT_abstract_origin to the abstract
// DIE it was inlined or specified from. A DW_TAG_inlined_subroutine instance
// normally carries only its PC range and this attribute; its name and
// DW_AT_decl_line live on the abstract DW_TAG_subprogram found here (the
// teacher's own DWARF builder errors outright when this attribute is
// missing on an inlined_subroutine; this resolver instead lets the caller
// fall back to the instance itself).
func resolveAbstractOrigin(r *dwarf.Reader, die *dwarf.Entry) (*dwarf.Entry, error) {
	off, ok := die.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset)
	if !ok {
		return nil, errKind("abstract_origin", NotFound)
	}
	r.Seek(off)
	origin, err := r.Next()
	if err != nil {
		return nil, err
	}
	if origin == nil {
		return nil, errKind("abstract_origin", NotFound)
	}
	return origin, nil
}

// resolveTypeEntry follows die's DW_AT_type attribute through qualifiers
// (const/volatile/restrict/shared) and typedefs until it reaches a
// non-qualifier type DIE, returning that DIE's offset resolved back to an
// entry via r.
func resolveTypeEntry(data *dwarf.Data, r *dwarf.Reader, die *dwarf.Entry) (*dwarf.Entry, error) {
	cur := die
	for {
		off, ok := cur.Val(dwarf.AttrType).(dwarf.Offset)
		if !ok {
			return nil, errors.New("no DW_AT_type attribute")
		}
		r.Seek(off)
		next, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("broken type chain")
			}
			return nil, err
		}
		if next == nil {
			return nil, errors.New("broken type chain")
		}
		switch next.Tag {
		case dwarf.TagConstType, dwarf.TagRestrictType, dwarf.TagVolatileType, dwarf.TagSharedType, dwarf.TagTypedef:
			cur = next
			continue
		default:
			return next, nil
		}
	}
}

// entryByteSize returns die's DW_AT_byte_size, 0 if absent.
func entryByteSize(die *dwarf.Entry) uint64 {
	switch v := die.Val(dwarf.AttrByteSize).(type) {
	case int64:
		return uint64(v)
	case uint64:
		return v
	default:
		return 0
	}
}

// entryIsSigned reports whether die's DW_AT_encoding marks a signed
// representation (DW_ATE_signed or DW_ATE_signed_char).
func entryIsSigned(die *dwarf.Entry) bool {
	enc, ok := die.Val(dwarf.AttrEncoding).(int64)
	if !ok {
		return false
	}
	const (
		dwATESigned     = 0x05
		dwATESignedChar = 0x06
	)
	return enc == dwATESigned || enc == dwATESignedChar
}

// dataMemberLocation returns a struct member's byte offset (§4.2). It
// prefers a literal DW_AT_data_member_location; failing that, it accepts a
// single-op DW_OP_plus_uconst expression and rejects anything else.
func dataMemberLocation(die *dwarf.Entry) (int64, error) {
	fld := die.AttrField(dwarf.AttrDataMemberLoc)
	if fld == nil {
		return 0, errKind("data_member_location", NotFound)
	}

	switch v := fld.Val.(type) {
	case int64:
		return v, nil
	case uint64:
		return int64(v), nil
	case []uint8:
		const dwOpPlusUconst = 0x23
		if len(v) < 1 || v[0] != dwOpPlusUconst {
			return 0, errKind("data_member_location", NotSupported)
		}
		n, _ := leb128.DecodeULEB128(v[1:])
		return int64(n), nil
	default:
		return 0, errKind("data_member_location", NotSupported)
	}
}
